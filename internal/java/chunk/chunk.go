// Package chunk holds the in-memory Java chunk representations and the
// conversion between them and the tag data stored in region files.
package chunk

import (
	"fmt"
	"math"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/nbtx"
)

// Kind selects one of the fixed Java chunk representations.
type Kind int

const (
	KindNA Kind = iota
	Kind0
	Kind1444
	Kind1466
	Kind2203
)

type kindInfo struct {
	id       string
	min, max int64 // max is exclusive
}

var kinds = [...]kindInfo{
	KindNA:   {"JavaChunkNA", -1, 0},
	Kind0:    {"JavaChunk0", 0, 1444},
	Kind1444: {"JavaChunk1444", 1444, 1466},
	Kind1466: {"JavaChunk1466", 1466, 2203},
	Kind2203: {"JavaChunk2203", 2203, math.MaxInt64},
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kinds) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].id
}

// KindFor returns the representation that owns dataVersion.
func KindFor(dataVersion int64) (Kind, error) {
	for k, info := range kinds {
		if dataVersion >= info.min && dataVersion < info.max {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrDataVersion, dataVersion)
}

const (
	RawComponentID         core.ComponentID = "java:raw_chunk"
	DataVersionComponentID core.ComponentID = "java:data_version"
)

// Every representation currently carries the same three components.
var componentIDs = []core.ComponentID{RawComponentID, DataVersionComponentID, core.BlockComponentID}

// RawComponent exposes the undecoded per-layer tag data.
type RawComponent interface {
	RawData() map[string]nbtx.NamedTag
	SetRawData(map[string]nbtx.NamedTag)
}

// DataVersionComponent exposes the fixed data version.
type DataVersionComponent interface {
	DataVersion() int64
}

var (
	_ core.Chunk           = (*JavaChunk)(nil)
	_ core.BlockComponent  = (*JavaChunk)(nil)
	_ RawComponent         = (*JavaChunk)(nil)
	_ DataVersionComponent = (*JavaChunk)(nil)
)

// JavaChunk is a chunk of one Kind. The kind and data version never change
// after construction.
type JavaChunk struct {
	kind        Kind
	dataVersion int64
	raw         map[string]nbtx.NamedTag
	block       *core.BlockComponentData
}

// New builds an empty chunk of whichever kind owns dataVersion.
func New(dataVersion int64, defaultBlock core.BlockStack) (*JavaChunk, error) {
	k, err := KindFor(dataVersion)
	if err != nil {
		return nil, err
	}
	return newKind(k, dataVersion, defaultBlock), nil
}

// NewNA builds a chunk for data that predates data versions.
func NewNA(defaultBlock core.BlockStack) *JavaChunk {
	return newKind(KindNA, -1, defaultBlock)
}

func New0(dataVersion int64, defaultBlock core.BlockStack) (*JavaChunk, error) {
	return newChecked(Kind0, dataVersion, defaultBlock)
}

func New1444(dataVersion int64, defaultBlock core.BlockStack) (*JavaChunk, error) {
	return newChecked(Kind1444, dataVersion, defaultBlock)
}

func New1466(dataVersion int64, defaultBlock core.BlockStack) (*JavaChunk, error) {
	return newChecked(Kind1466, dataVersion, defaultBlock)
}

func New2203(dataVersion int64, defaultBlock core.BlockStack) (*JavaChunk, error) {
	return newChecked(Kind2203, dataVersion, defaultBlock)
}

func newChecked(k Kind, dataVersion int64, defaultBlock core.BlockStack) (*JavaChunk, error) {
	info := kinds[k]
	if dataVersion < info.min || dataVersion >= info.max {
		if info.max == math.MaxInt64 {
			return nil, fmt.Errorf("%w: %s needs at least %d, got %d", ErrDataVersion, info.id, info.min, dataVersion)
		}
		return nil, fmt.Errorf("%w: %s needs %d..%d, got %d", ErrDataVersion, info.id, info.min, info.max-1, dataVersion)
	}
	return newKind(k, dataVersion, defaultBlock), nil
}

func newKind(k Kind, dataVersion int64, defaultBlock core.BlockStack) *JavaChunk {
	return &JavaChunk{
		kind:        k,
		dataVersion: dataVersion,
		raw:         map[string]nbtx.NamedTag{},
		block:       core.NewBlockComponentData(defaultBlock),
	}
}

func (c *JavaChunk) Kind() Kind         { return c.kind }
func (c *JavaChunk) ChunkID() string    { return kinds[c.kind].id }
func (c *JavaChunk) DataVersion() int64 { return c.dataVersion }

func (c *JavaChunk) ComponentIDs() []core.ComponentID {
	return append([]core.ComponentID(nil), componentIDs...)
}

func (c *JavaChunk) HasComponent(id core.ComponentID) bool {
	for _, have := range componentIDs {
		if have == id {
			return true
		}
	}
	return false
}

// RawData returns the live layer map; edits to it change the chunk.
func (c *JavaChunk) RawData() map[string]nbtx.NamedTag { return c.raw }

// SetRawData replaces the layer map. A nil map clears it.
func (c *JavaChunk) SetRawData(m map[string]nbtx.NamedTag) {
	if m == nil {
		m = map[string]nbtx.NamedTag{}
	}
	c.raw = m
}

func (c *JavaChunk) Block() *core.BlockComponentData { return c.block }

func (c *JavaChunk) SetBlock(d *core.BlockComponentData) error {
	if d == nil || d.Palette == nil || d.Sections == nil {
		return fmt.Errorf("chunk: incomplete block component")
	}
	if d.Sections.Shape() != core.DefaultSectionShape {
		return fmt.Errorf("chunk: section shape %v: %w", d.Sections.Shape(), core.ErrOutOfRange)
	}
	c.block = d
	return nil
}

// Clone returns a deep copy.
func (c *JavaChunk) Clone() *JavaChunk {
	raw := make(map[string]nbtx.NamedTag, len(c.raw))
	for k, v := range c.raw {
		raw[k] = nbtx.NamedTag{Name: v.Name, Tag: nbtx.CloneRaw(v.Tag)}
	}
	return &JavaChunk{kind: c.kind, dataVersion: c.dataVersion, raw: raw, block: c.block.Clone()}
}

// Air is the default block for a data version.
func Air(dataVersion int64) core.BlockStack {
	return core.BlockStack{core.NewBlock("java", dataVersion, "minecraft", "air", nil)}
}
