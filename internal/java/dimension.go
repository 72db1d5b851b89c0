package java

import (
	"fmt"
	"sort"
	"sync"

	"voxelstore.ai/internal/core"
)

// Dimension hands out one ChunkHandle per chunk coordinate.
type Dimension struct {
	level *Level
	raw   *RawDimension

	mu      sync.Mutex
	handles map[[2]int64]*ChunkHandle
}

func newDimension(level *Level, raw *RawDimension) *Dimension {
	return &Dimension{level: level, raw: raw, handles: map[[2]int64]*ChunkHandle{}}
}

func (d *Dimension) DimensionID() string           { return d.raw.DimensionID() }
func (d *Dimension) Raw() *RawDimension            { return d.raw }
func (d *Dimension) Bounds() core.SelectionBox     { return d.raw.Bounds() }
func (d *Dimension) DefaultBlock() core.BlockStack { return d.raw.DefaultBlock() }
func (d *Dimension) DefaultBiome() core.Biome      { return d.raw.DefaultBiome() }

// ChunkHandle returns the handle for cx, cz. Repeated calls return the same
// handle.
func (d *Dimension) ChunkHandle(cx, cz int64) (*ChunkHandle, error) {
	if err := d.raw.checkBounds(cx, cz); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k := [2]int64{cx, cz}
	h := d.handles[k]
	if h == nil {
		key := chunkKey{Dimension: d.raw.DimensionID(), CX: cx, CZ: cz}
		ref := d.raw.level.locks().Acquire(fmt.Sprintf("chunk:%s|%s|%d|%d", d.level.Path(), key.Dimension, cx, cz))
		h = &ChunkHandle{level: d.level, dim: d, key: key, ref: ref}
		d.handles[k] = h
	}
	return h, nil
}

// ChunkCoords lists every chunk that exists in the current history state,
// including unsaved ones.
func (d *Dimension) ChunkCoords() ([][2]int64, error) {
	stored, err := d.raw.AllChunkCoords()
	if err != nil {
		return nil, err
	}
	set := map[[2]int64]bool{}
	for _, c := range stored {
		set[c] = true
	}
	for _, k := range d.level.chunks.Resources() {
		if k.Dimension != d.raw.DimensionID() {
			continue
		}
		v, err := d.level.chunks.GetValue(k)
		if err != nil {
			return nil, err
		}
		set[[2]int64{k.CX, k.CZ}] = v != nil
	}
	out := make([][2]int64, 0, len(set))
	for c, ok := range set {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out, nil
}

func (d *Dimension) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, h := range d.handles {
		h.ref.Release()
		delete(d.handles, k)
	}
}
