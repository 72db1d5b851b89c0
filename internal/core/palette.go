package core

import "fmt"

// BlockPalette assigns stable indices to block stacks. Indices are never
// reused or removed.
type BlockPalette struct {
	stacks []BlockStack
	index  map[string]uint32
}

func NewBlockPalette() *BlockPalette {
	return &BlockPalette{index: map[string]uint32{}}
}

func (p *BlockPalette) Len() int { return len(p.stacks) }

// BlockStackToIndex returns the index of s, appending it when new.
func (p *BlockPalette) BlockStackToIndex(s BlockStack) uint32 {
	k := s.key()
	if i, ok := p.index[k]; ok {
		return i
	}
	i := uint32(len(p.stacks))
	p.stacks = append(p.stacks, s.Clone())
	p.index[k] = i
	return i
}

// Lookup is BlockStackToIndex without the append.
func (p *BlockPalette) Lookup(s BlockStack) (uint32, bool) {
	i, ok := p.index[s.key()]
	return i, ok
}

func (p *BlockPalette) IndexToBlockStack(i uint32) (BlockStack, error) {
	if int(i) >= len(p.stacks) {
		return nil, fmt.Errorf("palette index %d of %d: %w", i, len(p.stacks), ErrOutOfRange)
	}
	return p.stacks[i].Clone(), nil
}

// Stacks returns a copy of all stacks in index order.
func (p *BlockPalette) Stacks() []BlockStack {
	out := make([]BlockStack, len(p.stacks))
	for i, s := range p.stacks {
		out[i] = s.Clone()
	}
	return out
}

func (p *BlockPalette) Clone() *BlockPalette {
	out := NewBlockPalette()
	for _, s := range p.stacks {
		out.BlockStackToIndex(s)
	}
	return out
}
