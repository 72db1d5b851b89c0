package core

import (
	"fmt"
	"sort"
)

// SectionShape is the x, y, z extent of one section array.
type SectionShape [3]int

// Volume is the number of cells in a section.
func (s SectionShape) Volume() int { return s[0] * s[1] * s[2] }

// Index flattens a local coordinate as x + z*sx + y*sx*sz.
func (s SectionShape) Index(x, y, z int) int { return x + z*s[0] + y*s[0]*s[2] }

var DefaultSectionShape = SectionShape{16, 16, 16}

// SectionArrayMap stores one flat array per populated vertical section.
type SectionArrayMap struct {
	shape    SectionShape
	fill     uint32
	sections map[int64][]uint32
}

func NewSectionArrayMap(shape SectionShape, defaultValue uint32) *SectionArrayMap {
	return &SectionArrayMap{shape: shape, fill: defaultValue, sections: map[int64][]uint32{}}
}

func (m *SectionArrayMap) Shape() SectionShape  { return m.shape }
func (m *SectionArrayMap) DefaultValue() uint32 { return m.fill }
func (m *SectionArrayMap) Len() int             { return len(m.sections) }

func (m *SectionArrayMap) SetDefaultValue(v uint32) { m.fill = v }

func (m *SectionArrayMap) Get(cy int64) ([]uint32, bool) {
	a, ok := m.sections[cy]
	return a, ok
}

// Set stores arr for section cy. arr must match the section volume.
func (m *SectionArrayMap) Set(cy int64, arr []uint32) error {
	if len(arr) != m.shape.Volume() {
		return fmt.Errorf("section %d has %d cells, want %d: %w", cy, len(arr), m.shape.Volume(), ErrOutOfRange)
	}
	m.sections[cy] = arr
	return nil
}

func (m *SectionArrayMap) Delete(cy int64) { delete(m.sections, cy) }

// Populate returns section cy, creating it filled with the default value.
func (m *SectionArrayMap) Populate(cy int64) []uint32 {
	if a, ok := m.sections[cy]; ok {
		return a
	}
	a := make([]uint32, m.shape.Volume())
	if m.fill != 0 {
		for i := range a {
			a[i] = m.fill
		}
	}
	m.sections[cy] = a
	return a
}

// Keys returns section indices in ascending order.
func (m *SectionArrayMap) Keys() []int64 {
	keys := make([]int64, 0, len(m.sections))
	for k := range m.sections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (m *SectionArrayMap) Clone() *SectionArrayMap {
	out := NewSectionArrayMap(m.shape, m.fill)
	for k, v := range m.sections {
		out.sections[k] = append([]uint32(nil), v...)
	}
	return out
}
