package chunk

import (
	"errors"
	"testing"

	"github.com/Tnze/go-mc/nbt"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/nbtx"
	"voxelstore.ai/internal/registry"
)

func mustList(t *testing.T, items ...nbt.RawMessage) nbt.RawMessage {
	t.Helper()
	et := byte(nbt.TagCompound)
	if len(items) > 0 {
		et = items[0].Type
	}
	raw, err := nbtx.List{ElemType: et, Items: items}.Raw()
	if err != nil {
		t.Fatalf("List.Raw: %v", err)
	}
	return raw
}

func paletteItem(name string, props map[string]string) nbt.RawMessage {
	c := nbtx.Compound{"Name": nbtx.String(name)}
	if props != nil {
		p := nbtx.Compound{}
		for k, v := range props {
			p[k] = nbtx.String(v)
		}
		c["Properties"] = p.Raw()
	}
	return c.Raw()
}

// sectionIndices puts local index 1 at x=1,y=2,z=3 and 0 elsewhere.
func sectionIndices() []uint32 {
	local := make([]uint32, 4096)
	local[core.DefaultSectionShape.Index(1, 2, 3)] = 1
	return local
}

func blockName(t *testing.T, c *JavaChunk, x, y, z int) string {
	t.Helper()
	s, err := c.Block().Block(x, y, z)
	if err != nil {
		t.Fatalf("Block(%d,%d,%d): %v", x, y, z, err)
	}
	return s.Base().NamespacedName()
}

func rootOf(t *testing.T, raw RawChunk) nbtx.Compound {
	t.Helper()
	root, err := nbtx.DecodeCompound(raw[LayerRegion].Tag)
	if err != nil {
		t.Fatalf("DecodeCompound: %v", err)
	}
	return root
}

func TestCodec_RootSections(t *testing.T) {
	const dv = 3700
	states := nbtx.Compound{
		"palette": mustList(t, paletteItem("minecraft:air", nil), paletteItem("minecraft:oak_log", map[string]string{"axis": "y"})),
		"data":    nbtx.LongArray(EncodeLongArray(sectionIndices(), 4, false)),
	}
	sec := nbtx.Compound{"Y": nbtx.Byte(-1), "block_states": states.Raw(), "SkyLight": nbtx.ByteArray(make([]byte, 2048))}
	root := nbtx.Compound{
		"DataVersion": nbtx.Int(dv),
		"Status":      nbtx.String("minecraft:full"),
		"sections":    mustList(t, sec.Raw()),
	}
	raw := RawChunk{LayerRegion: {Tag: root.Raw()}, LayerEntities: {Tag: nbtx.Compound{"Entities": nbtx.Int(0)}.Raw()}}

	c, err := Decode(raw, 4, -2, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Kind() != Kind2203 || c.DataVersion() != dv {
		t.Fatalf("kind=%v dv=%d", c.Kind(), c.DataVersion())
	}
	if got := blockName(t, c, 1, -14, 3); got != "minecraft:oak_log" {
		t.Fatalf("block=%s", got)
	}
	s, _ := c.Block().Block(1, -14, 3)
	if s.Base().Properties["axis"] != "y" {
		t.Fatalf("properties=%v", s.Base().Properties)
	}
	decodedRoot := rootOf(t, c.RawData())
	if _, ok := decodedRoot["DataVersion"]; ok {
		t.Fatalf("DataVersion left in raw data")
	}
	secs, _ := nbtx.DecodeList(decodedRoot["sections"])
	first, _ := nbtx.DecodeCompound(secs.Items[0])
	if _, ok := first["block_states"]; ok {
		t.Fatalf("block_states left in raw data")
	}
	if _, ok := first["SkyLight"]; !ok {
		t.Fatalf("unrelated section field dropped")
	}

	out, err := Encode(c, 4, -2, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	outRoot := rootOf(t, out)
	if !nbtx.Equal(outRoot["Status"], root["Status"]) {
		t.Fatalf("Status changed")
	}
	if x, _ := nbtx.AsInt(outRoot["xPos"]); x != 4 {
		t.Fatalf("xPos=%d", x)
	}
	if !nbtx.Equal(out[LayerEntities].Tag, raw[LayerEntities].Tag) {
		t.Fatalf("entities layer changed")
	}

	again, err := Decode(out, 4, -2, nil)
	if err != nil {
		t.Fatalf("re-Decode: %v", err)
	}
	if got := blockName(t, again, 1, -14, 3); got != "minecraft:oak_log" {
		t.Fatalf("after round trip block=%s", got)
	}
	if got := blockName(t, again, 0, -16, 0); got != "minecraft:air" {
		t.Fatalf("after round trip block=%s", got)
	}

	// Encoding is deterministic.
	out2, _ := Encode(again, 4, -2, nil)
	if !nbtx.Equal(out2[LayerRegion].Tag, out[LayerRegion].Tag) {
		t.Fatalf("re-encode not byte identical")
	}
}

func TestCodec_PaletteFirstUseOrder(t *testing.T) {
	const dv = 3700
	c, _ := New(dv, Air(dv))
	// Stone is registered before dirt in the chunk palette but dirt is used first.
	stone := core.BlockStack{core.NewBlock("java", dv, "minecraft", "stone", nil)}
	dirt := core.BlockStack{core.NewBlock("java", dv, "minecraft", "dirt", nil)}
	c.Block().Palette.BlockStackToIndex(stone)
	c.Block().SetBlock(0, 0, 0, dirt)
	c.Block().SetBlock(1, 0, 0, stone)

	out, err := Encode(c, 0, 0, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	secs, _ := nbtx.DecodeList(rootOf(t, out)["sections"])
	sec, _ := nbtx.DecodeCompound(secs.Items[0])
	states, _ := sec.Compound("block_states")
	pal, _ := nbtx.DecodeList(states["palette"])
	var names []string
	for _, it := range pal.Items {
		e, _ := nbtx.DecodeCompound(it)
		n, _ := nbtx.AsString(e["Name"])
		names = append(names, n)
	}
	if len(names) != 3 || names[0] != "minecraft:dirt" || names[1] != "minecraft:stone" || names[2] != "minecraft:air" {
		t.Fatalf("palette order=%v", names)
	}
}

func TestCodec_LevelSectionsDense(t *testing.T) {
	const dv = 2000
	sec := nbtx.Compound{
		"Y":           nbtx.Byte(2),
		"Palette":     mustList(t, paletteItem("minecraft:air", nil), paletteItem("minecraft:stone", nil)),
		"BlockStates": nbtx.LongArray(EncodeLongArray(sectionIndices(), 4, true)),
	}
	level := nbtx.Compound{"Sections": mustList(t, sec.Raw()), "LastUpdate": nbtx.Long(99)}
	root := nbtx.Compound{"DataVersion": nbtx.Int(dv), "Level": level.Raw()}

	c, err := Decode(RawChunk{LayerRegion: {Tag: root.Raw()}}, 0, 0, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Kind() != Kind1466 {
		t.Fatalf("kind=%v", c.Kind())
	}
	if got := blockName(t, c, 1, 34, 3); got != "minecraft:stone" {
		t.Fatalf("block=%s", got)
	}

	out, err := Encode(c, 0, 0, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	outLevel, _ := rootOf(t, out).Compound("Level")
	if !nbtx.Equal(outLevel["LastUpdate"], level["LastUpdate"]) {
		t.Fatalf("LastUpdate changed")
	}
	secs, _ := nbtx.DecodeList(outLevel["Sections"])
	outSec, _ := nbtx.DecodeCompound(secs.Items[0])
	longs, _ := nbtx.AsLongArray(outSec["BlockStates"])
	if len(longs) != 256 {
		t.Fatalf("BlockStates has %d longs want 256", len(longs))
	}
}

func TestCodec_NonSpanningBeforeRootSections(t *testing.T) {
	const dv = 2600
	// 17 palette entries need 5 bits; non-spanning packing gives 342 longs.
	items := []nbt.RawMessage{paletteItem("minecraft:air", nil)}
	for i := 0; i < 16; i++ {
		items = append(items, paletteItem("minecraft:wool", map[string]string{"c": string(rune('a' + i))}))
	}
	local := make([]uint32, 4096)
	local[4095] = 16
	sec := nbtx.Compound{
		"Y":           nbtx.Byte(0),
		"Palette":     mustList(t, items...),
		"BlockStates": nbtx.LongArray(EncodeLongArray(local, 5, false)),
	}
	root := nbtx.Compound{"DataVersion": nbtx.Int(dv), "Level": nbtx.Compound{"Sections": mustList(t, sec.Raw())}.Raw()}
	c, err := Decode(RawChunk{LayerRegion: {Tag: root.Raw()}}, 0, 0, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, _ := c.Block().Block(15, 15, 15)
	if s.Base().Properties["c"] != "p" {
		t.Fatalf("last cell=%v", s)
	}
}

func TestCodec_NumericBlocks(t *testing.T) {
	const dv = 1000
	blocks := make([]byte, 4096)
	data := make([]byte, 2048)
	add := make([]byte, 2048)
	i := core.DefaultSectionShape.Index(1, 2, 3)
	blocks[i] = 1
	setNibble(data, i, 3)
	j := core.DefaultSectionShape.Index(0, 0, 1)
	blocks[j] = 300 & 0xff
	setNibble(add, j, 300>>8)
	sec := nbtx.Compound{
		"Y":      nbtx.Byte(0),
		"Blocks": nbtx.ByteArray(blocks),
		"Data":   nbtx.ByteArray(data),
		"Add":    nbtx.ByteArray(add),
	}
	root := nbtx.Compound{"DataVersion": nbtx.Int(dv), "Level": nbtx.Compound{"Sections": mustList(t, sec.Raw())}.Raw()}

	ids := registry.LegacyBlocks()
	c, err := Decode(RawChunk{LayerRegion: {Tag: root.Raw()}}, 0, 0, ids)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, _ := c.Block().Block(1, 2, 3)
	if s.Base().NamespacedName() != "minecraft:stone" || s.Base().Properties["block_data"] != "3" {
		t.Fatalf("stone cell=%v", s)
	}
	u, _ := c.Block().Block(0, 0, 1)
	if u.Base().NamespacedName() != "numerical:300" {
		t.Fatalf("unknown id cell=%v", u)
	}

	out, err := Encode(c, 0, 0, ids)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	lvl, _ := rootOf(t, out).Compound("Level")
	secs, _ := nbtx.DecodeList(lvl["Sections"])
	outSec, _ := nbtx.DecodeCompound(secs.Items[0])
	gotBlocks, _ := nbtx.AsByteArray(outSec["Blocks"])
	gotAdd, _ := nbtx.AsByteArray(outSec["Add"])
	gotData, _ := nbtx.AsByteArray(outSec["Data"])
	if gotBlocks[i] != 1 || nibble(gotData, i) != 3 || gotBlocks[j] != 300&0xff || nibble(gotAdd, j) != 1 {
		t.Fatalf("numeric arrays not restored")
	}

	// A namespaced block the registry cannot number fails to encode.
	c.Block().SetBlock(5, 5, 5, core.BlockStack{core.NewBlock("java", dv, "mymod", "thing", nil)})
	if _, err := Encode(c, 0, 0, ids); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err=%v want registry.ErrNotFound", err)
	}
}

func TestDecode_NoDataVersionIsNA(t *testing.T) {
	root := nbtx.Compound{"Level": nbtx.Compound{"xPos": nbtx.Int(0)}.Raw()}
	c, err := Decode(RawChunk{LayerRegion: {Tag: root.Raw()}}, 0, 0, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Kind() != KindNA || c.DataVersion() != -1 {
		t.Fatalf("kind=%v dv=%d", c.Kind(), c.DataVersion())
	}
	out, _ := Encode(c, 0, 0, nil)
	if _, ok := rootOf(t, out)["DataVersion"]; ok {
		t.Fatalf("NA chunk gained a DataVersion")
	}
}

func TestDecode_MissingRegionLayer(t *testing.T) {
	if _, err := Decode(RawChunk{}, 0, 0, nil); !errors.Is(err, core.ErrChunkNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestDecode_MalformedPaletteIndex(t *testing.T) {
	local := make([]uint32, 4096)
	local[0] = 5
	states := nbtx.Compound{
		"palette": mustList(t, paletteItem("minecraft:air", nil), paletteItem("minecraft:stone", nil)),
		"data":    nbtx.LongArray(EncodeLongArray(local, 4, false)),
	}
	sec := nbtx.Compound{"Y": nbtx.Byte(0), "block_states": states.Raw()}
	root := nbtx.Compound{"DataVersion": nbtx.Int(3700), "sections": mustList(t, sec.Raw())}
	if _, err := Decode(RawChunk{LayerRegion: {Tag: root.Raw()}}, 0, 0, nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err=%v want ErrMalformed", err)
	}
}
