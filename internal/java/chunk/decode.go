package chunk

import (
	"fmt"
	"strconv"

	"github.com/Tnze/go-mc/nbt"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/nbtx"
	"voxelstore.ai/internal/registry"
)

// Decode turns raw layer data into the chunk representation matching its
// data version. Block sections are moved into the block component; every
// other field stays in the raw component untouched. ids resolves numeric
// block ids of the oldest formats and may be nil.
func Decode(raw RawChunk, cx, cz int64, ids *registry.IdRegistry) (*JavaChunk, error) {
	region, ok := raw[LayerRegion]
	if !ok {
		return nil, fmt.Errorf("chunk %d,%d has no %s layer: %w", cx, cz, LayerRegion, core.ErrChunkNotFound)
	}
	root, err := nbtx.DecodeCompound(region.Tag)
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
	}

	dataVersion := int64(-1)
	if v, ok := root["DataVersion"]; ok {
		if dataVersion, err = nbtx.AsInt(v); err != nil {
			return nil, fmt.Errorf("chunk %d,%d DataVersion: %w", cx, cz, err)
		}
		delete(root, "DataVersion")
	}
	c, err := New(dataVersion, Air(dataVersion))
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
	}
	if ids == nil {
		ids = registry.LegacyBlocks()
	}

	d := &sectionDecoder{chunk: c, ids: ids}
	if dataVersion >= dataVersionRootSections {
		err = d.decodeList(root, "sections")
	} else {
		var level nbtx.Compound
		if level, err = root.Compound("Level"); err == nil && level != nil {
			if err = d.decodeList(level, "Sections"); err == nil {
				root["Level"] = level.Raw()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d: %w", cx, cz, err)
	}

	layers := raw.Clone()
	layers[LayerRegion] = nbtx.NamedTag{Name: region.Name, Tag: root.Raw()}
	c.raw = layers
	return c, nil
}

type sectionDecoder struct {
	chunk *JavaChunk
	ids   *registry.IdRegistry
}

// decodeList strips block data out of every section of parent[key].
func (d *sectionDecoder) decodeList(parent nbtx.Compound, key string) error {
	v, ok := parent[key]
	if !ok {
		return nil
	}
	list, err := nbtx.DecodeList(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for i, item := range list.Items {
		sec, err := nbtx.DecodeCompound(item)
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		yTag, ok := sec["Y"]
		if !ok {
			continue
		}
		cy, err := nbtx.AsInt(yTag)
		if err != nil {
			return fmt.Errorf("%s[%d].Y: %w", key, i, err)
		}
		if err := d.decodeSection(sec, cy); err != nil {
			return fmt.Errorf("section %d: %w", cy, err)
		}
		list.Items[i] = sec.Raw()
	}
	encoded, err := list.Raw()
	if err != nil {
		return err
	}
	parent[key] = encoded
	return nil
}

func (d *sectionDecoder) decodeSection(sec nbtx.Compound, cy int64) error {
	dv := d.chunk.dataVersion
	switch {
	case dv >= dataVersionRootSections:
		states, err := sec.Compound("block_states")
		if err != nil || states == nil {
			return err
		}
		if err := d.decodePalette(cy, states["palette"], states["data"], false); err != nil {
			return err
		}
		delete(sec, "block_states")
	case dv >= dataVersionPalette:
		pal, ok := sec["Palette"]
		if !ok {
			return nil
		}
		if err := d.decodePalette(cy, pal, sec["BlockStates"], dv < dataVersionNonSpanning); err != nil {
			return err
		}
		delete(sec, "Palette")
		delete(sec, "BlockStates")
	default:
		if _, ok := sec["Blocks"]; !ok {
			return nil
		}
		if err := d.decodeNumeric(sec, cy); err != nil {
			return err
		}
		delete(sec, "Blocks")
		delete(sec, "Data")
		delete(sec, "Add")
	}
	return nil
}

func (d *sectionDecoder) decodePalette(cy int64, paletteTag, dataTag nbt.RawMessage, dense bool) error {
	pal, err := nbtx.DecodeList(paletteTag)
	if err != nil {
		return fmt.Errorf("palette: %w", err)
	}
	if len(pal.Items) == 0 {
		return fmt.Errorf("%w: empty palette", ErrMalformed)
	}
	lut := make([]uint32, len(pal.Items))
	for i, item := range pal.Items {
		b, err := d.paletteBlock(item)
		if err != nil {
			return fmt.Errorf("palette[%d]: %w", i, err)
		}
		lut[i] = d.chunk.block.Palette.BlockStackToIndex(core.BlockStack{b})
	}

	local := make([]uint32, sectionVolume)
	if dataTag.Type != nbt.TagEnd {
		longs, err := nbtx.AsLongArray(dataTag)
		if err != nil {
			return err
		}
		bpe := blockStateBits(len(pal.Items))
		if EncodedLongArraySize(sectionVolume, bpe, dense) != len(longs) {
			var ok bool
			if bpe, ok = inferBits(len(longs), sectionVolume, bpe, dense); !ok {
				return fmt.Errorf("%w: %d longs for a palette of %d", ErrMalformed, len(longs), len(pal.Items))
			}
		}
		if local, err = DecodeLongArray(longs, sectionVolume, bpe, dense); err != nil {
			return err
		}
	}
	arr := make([]uint32, sectionVolume)
	for i, v := range local {
		if int(v) >= len(lut) {
			return fmt.Errorf("%w: palette index %d of %d", ErrMalformed, v, len(lut))
		}
		arr[i] = lut[v]
	}
	return d.chunk.block.Sections.Set(cy, arr)
}

func (d *sectionDecoder) paletteBlock(item nbt.RawMessage) (core.Block, error) {
	entry, err := nbtx.DecodeCompound(item)
	if err != nil {
		return core.Block{}, err
	}
	name, err := nbtx.AsString(entry["Name"])
	if err != nil {
		return core.Block{}, fmt.Errorf("Name: %w", err)
	}
	id, err := registry.ParseNamespacedID(name)
	if err != nil {
		return core.Block{}, err
	}
	var props map[string]string
	if p, ok := entry["Properties"]; ok {
		pc, err := nbtx.DecodeCompound(p)
		if err != nil {
			return core.Block{}, fmt.Errorf("Properties: %w", err)
		}
		props = make(map[string]string, len(pc))
		for k, v := range pc {
			if props[k], err = nbtx.AsString(v); err != nil {
				return core.Block{}, fmt.Errorf("Properties.%s: %w", k, err)
			}
		}
	}
	return core.NewBlock("java", d.chunk.dataVersion, id.Namespace, id.Name, props), nil
}

func (d *sectionDecoder) decodeNumeric(sec nbtx.Compound, cy int64) error {
	blocks, err := nbtx.AsByteArray(sec["Blocks"])
	if err != nil {
		return fmt.Errorf("Blocks: %w", err)
	}
	if len(blocks) != sectionVolume {
		return fmt.Errorf("%w: Blocks has %d entries", ErrMalformed, len(blocks))
	}
	data, err := optionalNibbles(sec, "Data")
	if err != nil {
		return err
	}
	add, err := optionalNibbles(sec, "Add")
	if err != nil {
		return err
	}

	dv := d.chunk.dataVersion
	palette := d.chunk.block.Palette
	cache := map[uint32]uint32{}
	arr := make([]uint32, sectionVolume)
	for i := range arr {
		id := uint32(blocks[i]) | uint32(nibble(add, i))<<8
		key := id<<4 | uint32(nibble(data, i))
		idx, ok := cache[key]
		if !ok {
			props := map[string]string{blockDataProperty: strconv.Itoa(int(nibble(data, i)))}
			var b core.Block
			if nid, err := d.ids.NamespaceID(id); err == nil {
				b = core.NewBlock("java", dv, nid.Namespace, nid.Name, props)
			} else {
				b = core.NewBlock("java", dv, numericalNamespace, strconv.Itoa(int(id)), props)
			}
			idx = palette.BlockStackToIndex(core.BlockStack{b})
			cache[key] = idx
		}
		arr[i] = idx
	}
	return d.chunk.block.Sections.Set(cy, arr)
}

func optionalNibbles(sec nbtx.Compound, key string) ([]byte, error) {
	v, ok := sec[key]
	if !ok {
		return nil, nil
	}
	b, err := nbtx.AsByteArray(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if len(b) != sectionVolume/2 {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrMalformed, key, len(b))
	}
	return b, nil
}

// nibble reads the i-th 4 bit value, low nibble first.
func nibble(b []byte, i int) byte {
	if b == nil {
		return 0
	}
	if i&1 == 0 {
		return b[i>>1] & 0x0f
	}
	return b[i>>1] >> 4
}
