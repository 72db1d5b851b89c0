package chunk

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/nbtx"
)

// Record is a flat, gob friendly copy of a chunk.
type Record struct {
	Kind        Kind
	DataVersion int64
	Raw         map[string]nbtx.NamedTag
	Palette     []core.BlockStack
	Default     uint32
	SectionKeys []int64
	Sections    [][]uint32
}

func (c *JavaChunk) Record() Record {
	r := Record{
		Kind:        c.kind,
		DataVersion: c.dataVersion,
		Raw:         RawChunk(c.raw).Clone(),
		Palette:     c.block.Palette.Stacks(),
		Default:     c.block.Sections.DefaultValue(),
	}
	for _, cy := range c.block.Sections.Keys() {
		arr, _ := c.block.Sections.Get(cy)
		r.SectionKeys = append(r.SectionKeys, cy)
		r.Sections = append(r.Sections, append([]uint32(nil), arr...))
	}
	return r
}

func FromRecord(r Record) (*JavaChunk, error) {
	if r.Kind < 0 || int(r.Kind) >= len(kinds) {
		return nil, fmt.Errorf("%w: kind %d", ErrMalformed, r.Kind)
	}
	if len(r.SectionKeys) != len(r.Sections) {
		return nil, fmt.Errorf("%w: %d section keys for %d sections", ErrMalformed, len(r.SectionKeys), len(r.Sections))
	}
	c := &JavaChunk{kind: r.Kind, dataVersion: r.DataVersion, raw: map[string]nbtx.NamedTag(RawChunk(r.Raw).Clone())}
	pal := core.NewBlockPalette()
	for _, s := range r.Palette {
		pal.BlockStackToIndex(s)
	}
	secs := core.NewSectionArrayMap(core.DefaultSectionShape, r.Default)
	for i, cy := range r.SectionKeys {
		if err := secs.Set(cy, r.Sections[i]); err != nil {
			return nil, err
		}
	}
	c.block = &core.BlockComponentData{Palette: pal, Sections: secs}
	return c, nil
}

// MarshalBinary gob encodes the chunk's Record.
func (c *JavaChunk) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.Record()); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func UnmarshalBinary(b []byte) (*JavaChunk, error) {
	var r Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return FromRecord(r)
}
