package core

// ComponentID names a chunk capability.
type ComponentID string

// Chunk is implemented by every chunk representation. The set of components
// a chunk carries is fixed when it is constructed.
type Chunk interface {
	ChunkID() string
	ComponentIDs() []ComponentID
	HasComponent(id ComponentID) bool
}

// BlockComponentData is a chunk's block palette plus its sections, whose
// values index into the palette.
type BlockComponentData struct {
	Palette  *BlockPalette
	Sections *SectionArrayMap
}

// NewBlockComponentData builds an empty block component whose default value
// is the palette index of defaultBlock.
func NewBlockComponentData(defaultBlock BlockStack) *BlockComponentData {
	p := NewBlockPalette()
	idx := p.BlockStackToIndex(defaultBlock)
	return &BlockComponentData{Palette: p, Sections: NewSectionArrayMap(DefaultSectionShape, idx)}
}

// SetBlock writes a stack at chunk local x, z and absolute y.
func (d *BlockComponentData) SetBlock(x, y, z int, s BlockStack) {
	cy, ly := splitY(y, d.Sections.shape[1])
	arr := d.Sections.Populate(cy)
	arr[d.Sections.shape.Index(x, ly, z)] = d.Palette.BlockStackToIndex(s)
}

// Block reads the stack at chunk local x, z and absolute y.
func (d *BlockComponentData) Block(x, y, z int) (BlockStack, error) {
	cy, ly := splitY(y, d.Sections.shape[1])
	idx := d.Sections.fill
	if arr, ok := d.Sections.Get(cy); ok {
		idx = arr[d.Sections.shape.Index(x, ly, z)]
	}
	return d.Palette.IndexToBlockStack(idx)
}

func (d *BlockComponentData) Clone() *BlockComponentData {
	return &BlockComponentData{Palette: d.Palette.Clone(), Sections: d.Sections.Clone()}
}

func splitY(y, height int) (int64, int) {
	cy := y / height
	ly := y % height
	if ly < 0 {
		cy--
		ly += height
	}
	return int64(cy), ly
}

// SelectionBox is an axis aligned box, min inclusive and max exclusive.
type SelectionBox struct {
	MinX, MinY, MinZ int64
	MaxX, MaxY, MaxZ int64
}

func (b SelectionBox) Contains(x, y, z int64) bool {
	return x >= b.MinX && x < b.MaxX && y >= b.MinY && y < b.MaxY && z >= b.MinZ && z < b.MaxZ
}

// BlockComponent is implemented by chunks that carry block data.
type BlockComponent interface {
	Block() *BlockComponentData
	SetBlock(d *BlockComponentData) error
}

const BlockComponentID ComponentID = "core:block"
