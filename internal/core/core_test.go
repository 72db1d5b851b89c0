package core

import (
	"errors"
	"testing"
)

func stone(props map[string]string) BlockStack {
	return BlockStack{NewBlock("java", 3700, "minecraft", "stone", props)}
}

func TestBlockPalette_Dedup(t *testing.T) {
	p := NewBlockPalette()
	a := p.BlockStackToIndex(stone(nil))
	b := p.BlockStackToIndex(stone(map[string]string{"k": "v"}))
	c := p.BlockStackToIndex(stone(nil))
	if a != 0 || b != 1 || c != 0 || p.Len() != 2 {
		t.Fatalf("a=%d b=%d c=%d len=%d", a, b, c, p.Len())
	}
	got, err := p.IndexToBlockStack(1)
	if err != nil || got.Base().Properties["k"] != "v" {
		t.Fatalf("IndexToBlockStack(1)=%v,%v", got, err)
	}
	if _, err := p.IndexToBlockStack(9); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}

	// Mutating a returned stack must not leak into the palette.
	got[0].Properties["k"] = "other"
	again, _ := p.IndexToBlockStack(1)
	if again.Base().Properties["k"] != "v" {
		t.Fatalf("palette entry was mutated through a returned stack")
	}
}

func TestSectionArrayMap(t *testing.T) {
	m := NewSectionArrayMap(DefaultSectionShape, 3)
	if err := m.Set(0, make([]uint32, 10)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}
	a := m.Populate(-1)
	if len(a) != 4096 || a[100] != 3 {
		t.Fatalf("populate len=%d v=%d", len(a), a[100])
	}
	_ = m.Set(2, make([]uint32, 4096))
	keys := m.Keys()
	if len(keys) != 2 || keys[0] != -1 || keys[1] != 2 {
		t.Fatalf("keys=%v", keys)
	}
	c := m.Clone()
	a[0] = 9
	if got, _ := c.Get(-1); got[0] != 3 {
		t.Fatalf("clone shares storage")
	}
	m.Delete(2)
	if _, ok := m.Get(2); ok {
		t.Fatalf("delete failed")
	}
}

func TestBlockComponentData_SetBlock(t *testing.T) {
	air := BlockStack{NewBlock("java", 3700, "minecraft", "air", nil)}
	d := NewBlockComponentData(air)
	d.SetBlock(1, -5, 2, stone(nil))

	got, err := d.Block(1, -5, 2)
	if err != nil || got.Base().BaseName != "stone" {
		t.Fatalf("Block=%v,%v", got, err)
	}
	other, _ := d.Block(0, 40, 0)
	if other.Base().BaseName != "air" {
		t.Fatalf("unpopulated section=%v", other)
	}
	arr, ok := d.Sections.Get(-1)
	if !ok || arr[DefaultSectionShape.Index(1, 11, 2)] != 1 {
		t.Fatalf("section -1 not written at local y 11")
	}
}

func TestBlock_String(t *testing.T) {
	b := NewBlock("java", 1, "minecraft", "oak_log", map[string]string{"axis": "y", "a": "b"})
	if got := b.String(); got != "minecraft:oak_log[a=b,axis=y]" {
		t.Fatalf("String=%q", got)
	}
}
