package chunk

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Tnze/go-mc/nbt"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/nbtx"
	"voxelstore.ai/internal/registry"
)

// Encode is the inverse of Decode. The block component is written back into
// the section list of the chunk's era, the data version and chunk position
// are set, and every other raw field is carried over as is. Section palettes
// are written in first use order.
func Encode(c *JavaChunk, cx, cz int64, ids *registry.IdRegistry) (RawChunk, error) {
	if ids == nil {
		ids = registry.LegacyBlocks()
	}
	layers := RawChunk(c.raw).Clone()
	region, ok := layers[LayerRegion]
	root := nbtx.Compound{}
	if ok {
		var err error
		if root, err = nbtx.DecodeCompound(region.Tag); err != nil {
			return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
		}
	}

	dv := c.dataVersion
	if dv >= 0 {
		root["DataVersion"] = nbtx.Int(int32(dv))
	}
	e := &sectionEncoder{chunk: c, ids: ids}
	if dv >= dataVersionRootSections {
		if err := e.encodeList(root, "sections"); err != nil {
			return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
		}
		root["xPos"] = nbtx.Int(int32(cx))
		root["zPos"] = nbtx.Int(int32(cz))
	} else {
		level, err := root.Compound("Level")
		if err != nil {
			return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
		}
		if level == nil {
			level = nbtx.Compound{}
		}
		if err := e.encodeList(level, "Sections"); err != nil {
			return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
		}
		level["xPos"] = nbtx.Int(int32(cx))
		level["zPos"] = nbtx.Int(int32(cz))
		root["Level"] = level.Raw()
	}
	layers[LayerRegion] = nbtx.NamedTag{Name: region.Name, Tag: root.Raw()}
	return layers, nil
}

type sectionEncoder struct {
	chunk *JavaChunk
	ids   *registry.IdRegistry
}

func (e *sectionEncoder) encodeList(parent nbtx.Compound, key string) error {
	byY := map[int64]nbtx.Compound{}
	if v, ok := parent[key]; ok {
		list, err := nbtx.DecodeList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		for i, item := range list.Items {
			sec, err := nbtx.DecodeCompound(item)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			cy, err := nbtx.AsInt(sec["Y"])
			if err != nil {
				return fmt.Errorf("%s[%d].Y: %w", key, i, err)
			}
			byY[cy] = sec
		}
	}

	sections := e.chunk.block.Sections
	for _, cy := range sections.Keys() {
		arr, _ := sections.Get(cy)
		sec := byY[cy]
		if sec == nil {
			sec = nbtx.Compound{"Y": nbtx.Byte(int8(cy))}
			byY[cy] = sec
		}
		if err := e.encodeSection(sec, arr); err != nil {
			return fmt.Errorf("section %d: %w", cy, err)
		}
	}
	if len(byY) == 0 {
		return nil
	}

	ys := make([]int64, 0, len(byY))
	for y := range byY {
		ys = append(ys, y)
	}
	sort.Slice(ys, func(i, j int) bool { return ys[i] < ys[j] })
	list := nbtx.List{ElemType: nbt.TagCompound}
	for _, y := range ys {
		list.Items = append(list.Items, byY[y].Raw())
	}
	encoded, err := list.Raw()
	if err != nil {
		return err
	}
	parent[key] = encoded
	return nil
}

// localPalette remaps chunk palette indices to a dense section palette in
// first use order.
func localPalette(arr []uint32) ([]uint32, []uint32) {
	seen := map[uint32]uint32{}
	var order []uint32
	local := make([]uint32, len(arr))
	for i, v := range arr {
		idx, ok := seen[v]
		if !ok {
			idx = uint32(len(order))
			seen[v] = idx
			order = append(order, v)
		}
		local[i] = idx
	}
	return order, local
}

func (e *sectionEncoder) encodeSection(sec nbtx.Compound, arr []uint32) error {
	dv := e.chunk.dataVersion
	if dv < dataVersionPalette {
		return e.encodeNumeric(sec, arr)
	}
	order, local := localPalette(arr)
	pal := nbtx.List{ElemType: nbt.TagCompound}
	for _, idx := range order {
		stack, err := e.chunk.block.Palette.IndexToBlockStack(idx)
		if err != nil {
			return err
		}
		pal.Items = append(pal.Items, paletteEntry(stack.Base()))
	}
	palTag, err := pal.Raw()
	if err != nil {
		return err
	}
	bpe := blockStateBits(len(order))
	if dv >= dataVersionRootSections {
		states := nbtx.Compound{"palette": palTag}
		if len(order) > 1 {
			states["data"] = nbtx.LongArray(EncodeLongArray(local, bpe, false))
		}
		sec["block_states"] = states.Raw()
		return nil
	}
	sec["Palette"] = palTag
	sec["BlockStates"] = nbtx.LongArray(EncodeLongArray(local, bpe, dv < dataVersionNonSpanning))
	return nil
}

func paletteEntry(b core.Block) nbt.RawMessage {
	entry := nbtx.Compound{"Name": nbtx.String(b.NamespacedName())}
	if len(b.Properties) > 0 {
		props := nbtx.Compound{}
		for k, v := range b.Properties {
			props[k] = nbtx.String(v)
		}
		entry["Properties"] = props.Raw()
	}
	return entry.Raw()
}

func (e *sectionEncoder) encodeNumeric(sec nbtx.Compound, arr []uint32) error {
	blocks := make([]byte, sectionVolume)
	data := make([]byte, sectionVolume/2)
	add := make([]byte, sectionVolume/2)
	hasAdd := false
	cache := map[uint32][2]uint32{}
	for i, v := range arr {
		nd, ok := cache[v]
		if !ok {
			stack, err := e.chunk.block.Palette.IndexToBlockStack(v)
			if err != nil {
				return err
			}
			id, meta, err := e.numericID(stack.Base())
			if err != nil {
				return err
			}
			nd = [2]uint32{id, meta}
			cache[v] = nd
		}
		blocks[i] = byte(nd[0])
		setNibble(data, i, byte(nd[1]))
		if hi := byte(nd[0] >> 8); hi != 0 {
			setNibble(add, i, hi)
			hasAdd = true
		}
	}
	sec["Blocks"] = nbtx.ByteArray(blocks)
	sec["Data"] = nbtx.ByteArray(data)
	if hasAdd {
		sec["Add"] = nbtx.ByteArray(add)
	} else {
		delete(sec, "Add")
	}
	return nil
}

func (e *sectionEncoder) numericID(b core.Block) (uint32, uint32, error) {
	var meta uint64
	if s, ok := b.Properties[blockDataProperty]; ok {
		var err error
		if meta, err = strconv.ParseUint(s, 10, 4); err != nil {
			return 0, 0, fmt.Errorf("%w: %s=%q on %s", ErrMalformed, blockDataProperty, s, b)
		}
	}
	if b.Namespace == numericalNamespace {
		id, err := strconv.ParseUint(b.BaseName, 10, 12)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: numerical block %q", ErrMalformed, b.BaseName)
		}
		return uint32(id), uint32(meta), nil
	}
	id, err := e.ids.NumericalID(registry.NamespacedID{Namespace: b.Namespace, Name: b.BaseName})
	if err != nil {
		return 0, 0, err
	}
	if id > 0xfff {
		return 0, 0, fmt.Errorf("%w: block id %d does not fit 12 bits", ErrMalformed, id)
	}
	return id, uint32(meta), nil
}

func setNibble(b []byte, i int, v byte) {
	if i&1 == 0 {
		b[i>>1] = b[i>>1]&0xf0 | v&0x0f
	} else {
		b[i>>1] = b[i>>1]&0x0f | v<<4
	}
}
