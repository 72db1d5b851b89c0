package java

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"voxelstore.ai/internal/nbtx"
	"voxelstore.ai/internal/registry"
)

func TestLoad_NotALevel(t *testing.T) {
	if _, err := Load(t.TempDir(), Options{}); !errors.Is(err, ErrNotLevel) {
		t.Fatalf("err=%v want ErrNotLevel", err)
	}
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new_level")
	raw, err := Create(CreateArgs{Path: path, DataVersion: 1631, LevelName: "NewLevel"}, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		t.Fatalf("level dir missing: %v", err)
	}
	if raw.LevelName() != "NewLevel" || raw.DataVersion() != 1631 {
		t.Fatalf("name=%q dv=%d", raw.LevelName(), raw.DataVersion())
	}
	if raw.Platform() != "java" || !raw.IsSupported() || raw.Path() != path {
		t.Fatalf("platform=%s supported=%v path=%s", raw.Platform(), raw.IsSupported(), raw.Path())
	}
	if raw.ModifiedTime().IsZero() {
		t.Fatalf("zero modified time")
	}

	if _, err := Create(CreateArgs{Path: path, DataVersion: 1631}, Options{}); !errors.Is(err, ErrLevelExists) {
		t.Fatalf("err=%v want ErrLevelExists", err)
	}
	again, err := Create(CreateArgs{Overwrite: true, Path: path, DataVersion: 3700}, Options{})
	if err != nil {
		t.Fatalf("Create overwrite: %v", err)
	}
	if again.DataVersion() != 3700 || again.LevelName() != "new_level" {
		t.Fatalf("name=%q dv=%d", again.LevelName(), again.DataVersion())
	}
}

func TestRawLevel_ReloadMetadata(t *testing.T) {
	path := newFixture(t)
	a, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := a.SetLevelName("closed"); !errors.Is(err, ErrLevelNotOpen) {
		t.Fatalf("err=%v want ErrLevelNotOpen", err)
	}
	if err := a.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	if err := a.SetLevelName("HelloWorld"); err != nil {
		t.Fatalf("SetLevelName: %v", err)
	}
	if a.LevelName() != "HelloWorld" || b.LevelName() != "Fixture World" {
		t.Fatalf("a=%q b=%q", a.LevelName(), b.LevelName())
	}
	if err := b.ReloadMetadata(); err != nil {
		t.Fatalf("ReloadMetadata: %v", err)
	}
	if b.LevelName() != "HelloWorld" {
		t.Fatalf("b=%q after reload", b.LevelName())
	}
	if err := a.ReloadMetadata(); !errors.Is(err, ErrLevelOpen) {
		t.Fatalf("err=%v want ErrLevelOpen", err)
	}
}

func TestRawLevel_OpenCloseSignals(t *testing.T) {
	raw, err := Load(newFixture(t), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var opened, closed, reloaded int
	raw.Opened().Connect(func(*RawLevel) { opened++ })
	raw.Closed().Connect(func(*RawLevel) { closed++ })
	tok := raw.Reloaded().Connect(func(*RawLevel) { reloaded++ })

	if raw.IsOpen() {
		t.Fatalf("level open after Load")
	}
	if err := raw.Reload(); !errors.Is(err, ErrLevelNotOpen) {
		t.Fatalf("err=%v want ErrLevelNotOpen", err)
	}
	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !raw.IsOpen() || opened != 1 || closed != 0 || reloaded != 0 {
		t.Fatalf("open=%v opened=%d closed=%d reloaded=%d", raw.IsOpen(), opened, closed, reloaded)
	}
	if err := raw.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !raw.IsOpen() || opened != 1 || reloaded != 1 {
		t.Fatalf("opened=%d reloaded=%d", opened, reloaded)
	}
	if !raw.Reloaded().Disconnect(tok) {
		t.Fatalf("Disconnect found nothing")
	}
	if err := raw.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if reloaded != 1 {
		t.Fatalf("reloaded=%d after disconnect", reloaded)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if raw.IsOpen() || closed != 1 {
		t.Fatalf("open=%v closed=%d", raw.IsOpen(), closed)
	}
	// A second close is a no-op.
	if err := raw.Close(); err != nil || closed != 1 {
		t.Fatalf("Close: %v closed=%d", err, closed)
	}
}

func TestRawLevel_LevelDat(t *testing.T) {
	path := newFixture(t)
	raw, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tag := raw.LevelDat()
	root, err := nbtx.DecodeCompound(tag.Tag)
	if err != nil {
		t.Fatalf("DecodeCompound: %v", err)
	}
	root["HelloWorld"] = nbtx.String("HelloWorld")
	if err := raw.SetLevelDat(nbtx.NamedTag{Name: tag.Name, Tag: root.Raw()}); err != nil {
		t.Fatalf("SetLevelDat: %v", err)
	}
	raw.Close()

	raw2, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	root2, _ := nbtx.DecodeCompound(raw2.LevelDat().Tag)
	if s, _ := nbtx.AsString(root2["HelloWorld"]); s != "HelloWorld" {
		t.Fatalf("HelloWorld=%q", s)
	}
	if raw2.LevelName() != "Fixture World" {
		t.Fatalf("name=%q", raw2.LevelName())
	}
}

func TestRawLevel_Dimensions(t *testing.T) {
	path := newFixture(t)
	if err := os.MkdirAll(filepath.Join(path, "dimensions", "mymod", "sky", "region"), 0o755); err != nil {
		t.Fatal(err)
	}
	raw, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := raw.DimensionIDs(); !errors.Is(err, ErrLevelNotOpen) {
		t.Fatalf("err=%v want ErrLevelNotOpen", err)
	}
	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer raw.Close()

	ids, err := raw.DimensionIDs()
	if err != nil {
		t.Fatalf("DimensionIDs: %v", err)
	}
	want := []string{Overworld, TheNether, TheEnd, "mymod:sky"}
	if len(ids) != len(want) {
		t.Fatalf("ids=%v want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids=%v want %v", ids, want)
		}
	}
	paths := map[string]string{
		Overworld:   "",
		TheNether:   "DIM-1",
		TheEnd:      "DIM1",
		"mymod:sky": filepath.Join("dimensions", "mymod", "sky"),
	}
	for _, id := range ids {
		d, err := raw.Dimension(id)
		if err != nil {
			t.Fatalf("Dimension(%s): %v", id, err)
		}
		if d.DimensionID() != id || d.RelativePath() != paths[id] {
			t.Fatalf("dimension %s path=%q", d.DimensionID(), d.RelativePath())
		}
	}
	if _, err := raw.Dimension("no-namespace"); !errors.Is(err, ErrUnknownDimension) {
		t.Fatalf("err=%v want ErrUnknownDimension", err)
	}
	a, _ := raw.Dimension(Overworld)
	b, _ := raw.Dimension(Overworld)
	if a != b {
		t.Fatalf("dimension not cached")
	}
}

func TestRawLevel_Compact(t *testing.T) {
	path := newFixture(t)
	regionDir := filepath.Join(path, "region")
	size := func() int64 {
		var n int64
		entries, _ := os.ReadDir(regionDir)
		for _, e := range entries {
			if fi, err := e.Info(); err == nil && !fi.IsDir() {
				n += fi.Size()
			}
		}
		return n
	}
	raw, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := raw.Compact(); !errors.Is(err, ErrLevelNotOpen) {
		t.Fatalf("err=%v want ErrLevelNotOpen", err)
	}
	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer raw.Close()

	before := size()
	d, _ := raw.Dimension(Overworld)
	if err := d.DeleteChunk(1, 2); err != nil {
		t.Fatalf("DeleteChunk: %v", err)
	}
	st, err := raw.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if after := size(); after != 0 {
		t.Fatalf("size before=%d after=%d", before, after)
	}
	if st.Removed != 1 {
		t.Fatalf("removed=%d want 1", st.Removed)
	}
}

func TestRawLevel_IDOverride(t *testing.T) {
	path := newFixture(t)
	raw, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := raw.BlockIDOverride(); !errors.Is(err, ErrLevelNotOpen) {
		t.Fatalf("err=%v want ErrLevelNotOpen", err)
	}
	if _, err := raw.BiomeIDOverride(); !errors.Is(err, ErrLevelNotOpen) {
		t.Fatalf("err=%v want ErrLevelNotOpen", err)
	}
	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	blocks, err := raw.BlockIDOverride()
	if err != nil || blocks == nil {
		t.Fatalf("BlockIDOverride: %v", err)
	}
	if _, err := raw.BiomeIDOverride(); err != nil {
		t.Fatalf("BiomeIDOverride: %v", err)
	}
	if err := blocks.Register(300, registry.NamespacedID{Namespace: "mymod", Name: "ore"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := raw.SaveIDOverrides(); err != nil {
		t.Fatalf("SaveIDOverrides: %v", err)
	}
	raw.Close()

	if err := raw.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer raw.Close()
	blocks, _ = raw.BlockIDOverride()
	if id, err := blocks.NamespaceID(300); err != nil || id.String() != "mymod:ore" {
		t.Fatalf("id=%v err=%v", id, err)
	}
	ids, err := raw.blockRegistry()
	if err != nil {
		t.Fatalf("blockRegistry: %v", err)
	}
	if id, _ := ids.NamespaceID(1); id.String() != "minecraft:stone" {
		t.Fatalf("legacy id 1=%v", id)
	}
}
