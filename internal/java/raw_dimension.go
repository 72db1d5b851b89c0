package java

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/java/anvil"
	"voxelstore.ai/internal/java/chunk"
	"voxelstore.ai/internal/lock"
)

// Vanilla dimension ids.
const (
	Overworld = "minecraft:overworld"
	TheNether = "minecraft:the_nether"
	TheEnd    = "minecraft:the_end"
)

// Overworld sections below y=0 appear at this data version.
const dataVersionDeepWorld = 2709

// Horizontal world border in blocks.
const worldBorder = 30_000_000

var layerNames = []string{chunk.LayerRegion, chunk.LayerEntities, chunk.LayerPOI}

// dimensionPath maps a dimension id to its directory relative to the level.
func dimensionPath(id string) (string, error) {
	switch id {
	case Overworld:
		return "", nil
	case TheNether:
		return "DIM-1", nil
	case TheEnd:
		return "DIM1", nil
	}
	ns, name, ok := strings.Cut(id, ":")
	if !ok || ns == "" || name == "" || strings.ContainsAny(id, `/\`) || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, id)
	}
	return filepath.Join("dimensions", ns, name), nil
}

// RawDimension gives access to the undecoded chunks of one dimension.
type RawDimension struct {
	level   *RawLevel
	id      string
	relPath string
	bounds  core.SelectionBox
	ref     *lock.Ref

	mu        sync.Mutex
	layers    map[string]*anvil.Layer
	destroyed bool
}

func newRawDimension(level *RawLevel, id, relPath string) *RawDimension {
	dir := filepath.Join(level.path, relPath)
	minY, maxY := int64(0), int64(256)
	if id == Overworld && level.meta.DataVersion >= dataVersionDeepWorld {
		minY, maxY = -64, 320
	}
	d := &RawDimension{
		level:   level,
		id:      id,
		relPath: relPath,
		bounds:  core.SelectionBox{
			MinX: -worldBorder, MinY: minY, MinZ: -worldBorder,
			MaxX: worldBorder, MaxY: maxY, MaxZ: worldBorder,
		},
		ref:    level.locks().Acquire("dimension:" + dir),
		layers: map[string]*anvil.Layer{},
	}
	for _, name := range layerNames {
		d.layers[name] = anvil.OpenLayer(filepath.Join(dir, name), level.opts.Region)
	}
	return d
}

func (d *RawDimension) DimensionID() string       { return d.id }
func (d *RawDimension) RelativePath() string      { return d.relPath }
func (d *RawDimension) Bounds() core.SelectionBox { return d.bounds }

// Lock returns a new reference to the dimension lock. The caller releases it.
func (d *RawDimension) Lock() *lock.Ref { return d.ref.Retain() }

func (d *RawDimension) DefaultBlock() core.BlockStack {
	return chunk.Air(d.level.DataVersion())
}

func (d *RawDimension) DefaultBiome() core.Biome {
	name := "plains"
	switch d.id {
	case TheNether:
		name = "nether_wastes"
	case TheEnd:
		name = "the_end"
	}
	return core.Biome{Platform: "java", Version: d.level.DataVersion(), Namespace: "minecraft", BaseName: name}
}

func (d *RawDimension) IsDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *RawDimension) layer(name string) (*anvil.Layer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, fmt.Errorf("%s: %w", d.id, ErrDimensionDestroyed)
	}
	return d.layers[name], nil
}

// Layer returns the region store behind one of the chunk layers.
func (d *RawDimension) Layer(name string) (*anvil.Layer, error) {
	l, err := d.layer(name)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%s: unknown layer %q", d.id, name)
	}
	return l, nil
}

func LayerNames() []string { return append([]string(nil), layerNames...) }

func (d *RawDimension) checkBounds(cx, cz int64) error {
	x, z := cx*16, cz*16
	if x < d.bounds.MinX || x >= d.bounds.MaxX || z < d.bounds.MinZ || z >= d.bounds.MaxZ {
		return fmt.Errorf("%w: chunk %d,%d in %s", core.ErrOutOfRange, cx, cz, d.id)
	}
	return nil
}

// AllChunkCoords lists every chunk with data in the region layer.
func (d *RawDimension) AllChunkCoords() ([][2]int64, error) {
	l, err := d.layer(chunk.LayerRegion)
	if err != nil {
		return nil, err
	}
	return l.AllChunkCoords()
}

func (d *RawDimension) HasChunk(cx, cz int64) (bool, error) {
	if err := d.checkBounds(cx, cz); err != nil {
		return false, err
	}
	l, err := d.layer(chunk.LayerRegion)
	if err != nil {
		return false, err
	}
	return l.HasChunk(cx, cz)
}

// GetRawChunk reads every layer of a chunk. The region layer must exist;
// the others are included when present.
func (d *RawDimension) GetRawChunk(cx, cz int64) (chunk.RawChunk, error) {
	if err := d.checkBounds(cx, cz); err != nil {
		return nil, err
	}
	raw := chunk.RawChunk{}
	for _, name := range layerNames {
		l, err := d.layer(name)
		if err != nil {
			return nil, err
		}
		tag, err := l.GetChunkData(cx, cz)
		if errors.Is(err, core.ErrChunkNotFound) {
			if name == chunk.LayerRegion {
				return nil, fmt.Errorf("%s chunk %d,%d: %w", d.id, cx, cz, core.ErrChunkNotFound)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s chunk %d,%d %s: %w", d.id, cx, cz, name, err)
		}
		raw[name] = tag
	}
	return raw, nil
}

// SetRawChunk writes raw so that afterwards the chunk holds exactly the
// given layers.
func (d *RawDimension) SetRawChunk(cx, cz int64, raw chunk.RawChunk) error {
	if err := d.checkBounds(cx, cz); err != nil {
		return err
	}
	if _, ok := raw[chunk.LayerRegion]; !ok {
		return fmt.Errorf("%w: chunk %d,%d has no %s layer", chunk.ErrMalformed, cx, cz, chunk.LayerRegion)
	}
	for _, name := range layerNames {
		l, err := d.layer(name)
		if err != nil {
			return err
		}
		if tag, ok := raw[name]; ok {
			err = l.SetChunkData(cx, cz, tag)
		} else {
			err = l.DeleteChunkData(cx, cz)
		}
		if err != nil {
			return fmt.Errorf("%s chunk %d,%d %s: %w", d.id, cx, cz, name, err)
		}
	}
	return nil
}

// DeleteChunk removes every layer of a chunk. Deleting a missing chunk is a
// no-op.
func (d *RawDimension) DeleteChunk(cx, cz int64) error {
	if err := d.checkBounds(cx, cz); err != nil {
		return err
	}
	for _, name := range layerNames {
		l, err := d.layer(name)
		if err != nil {
			return err
		}
		if err := l.DeleteChunkData(cx, cz); err != nil {
			return fmt.Errorf("%s chunk %d,%d %s: %w", d.id, cx, cz, name, err)
		}
	}
	return nil
}

func (d *RawDimension) DecodeChunk(raw chunk.RawChunk, cx, cz int64) (*chunk.JavaChunk, error) {
	ids, err := d.level.blockRegistry()
	if err != nil {
		return nil, err
	}
	return chunk.Decode(raw, cx, cz, ids)
}

func (d *RawDimension) EncodeChunk(c *chunk.JavaChunk, cx, cz int64) (chunk.RawChunk, error) {
	ids, err := d.level.blockRegistry()
	if err != nil {
		return nil, err
	}
	return chunk.Encode(c, cx, cz, ids)
}

// Compact compacts the region files of every layer.
func (d *RawDimension) Compact(workers int) (anvil.CompactStats, error) {
	var total anvil.CompactStats
	var errs []error
	for _, name := range layerNames {
		l, err := d.layer(name)
		if err != nil {
			return total, err
		}
		st, err := l.Compact(workers)
		total = addStats(total, st)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", d.id, name, err))
		}
	}
	return total, errors.Join(errs...)
}

func (d *RawDimension) destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil
	}
	d.destroyed = true
	var errs []error
	for _, l := range d.layers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.ref.Release()
	return errors.Join(errs...)
}

func addStats(a, b anvil.CompactStats) anvil.CompactStats {
	a.Queued += b.Queued
	a.Compacted += b.Compacted
	a.Removed += b.Removed
	a.Failed += b.Failed
	a.BytesReclaimed += b.BytesReclaimed
	if b.LastSuccess.After(a.LastSuccess) {
		a.LastSuccess = b.LastSuccess
	}
	return a
}
