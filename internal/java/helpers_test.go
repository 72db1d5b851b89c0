package java

import (
	"path/filepath"
	"testing"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/java/chunk"
)

const fixtureDataVersion = 1497

func testOptions() Options {
	return Options{CompactWorkers: 2}
}

// newFixture creates a level with one stored chunk at 1,2 in the overworld
// whose palette holds air, stone and dirt.
func newFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world")
	raw, err := Create(CreateArgs{Path: path, DataVersion: fixtureDataVersion, LevelName: "Fixture World"}, testOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer raw.Close()

	dim, err := raw.Dimension(Overworld)
	if err != nil {
		t.Fatalf("Dimension: %v", err)
	}
	c := fixtureChunk(t)
	data, err := dim.EncodeChunk(c, 1, 2)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if err := dim.SetRawChunk(1, 2, data); err != nil {
		t.Fatalf("SetRawChunk: %v", err)
	}
	return path
}

func fixtureChunk(t *testing.T) *chunk.JavaChunk {
	t.Helper()
	c, err := chunk.New(fixtureDataVersion, chunk.Air(fixtureDataVersion))
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	c.Block().SetBlock(0, 0, 0, testBlock("minecraft", "stone"))
	c.Block().SetBlock(1, 0, 0, testBlock("minecraft", "dirt"))
	return c
}

func testBlock(namespace, name string) core.BlockStack {
	return core.BlockStack{core.NewBlock("java", fixtureDataVersion, namespace, name, nil)}
}

func openLevel(t *testing.T, path string) *Level {
	t.Helper()
	l, err := LoadLevel(path, testOptions())
	if err != nil {
		t.Fatalf("LoadLevel: %v", err)
	}
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func handle(t *testing.T, l *Level, cx, cz int64) *ChunkHandle {
	t.Helper()
	d, err := l.Dimension(Overworld)
	if err != nil {
		t.Fatalf("Dimension: %v", err)
	}
	h, err := d.ChunkHandle(cx, cz)
	if err != nil {
		t.Fatalf("ChunkHandle: %v", err)
	}
	return h
}

func paletteLen(t *testing.T, h *ChunkHandle) int {
	t.Helper()
	c, err := h.GetChunk()
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	return c.Block().Palette.Len()
}
