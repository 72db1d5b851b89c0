package anvil

import (
	"errors"
	"os"
	"sort"
	"sync"

	"voxelstore.ai/internal/nbtx"
)

// Layer is one directory of region files, such as region/, entities/ or poi/,
// addressed by global chunk coordinates.
type Layer struct {
	dir  string
	opts Options

	mu      sync.Mutex
	regions map[[2]int64]*Region
	closed  bool
}

func OpenLayer(dir string, opts Options) *Layer {
	return &Layer{dir: dir, opts: opts.normalized(), regions: map[[2]int64]*Region{}}
}

func (l *Layer) Dir() string { return l.dir }

// Region returns the cached region containing grid position rx, rz.
func (l *Layer) Region(rx, rz int64) (*Region, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrDestroyed
	}
	k := [2]int64{rx, rz}
	r := l.regions[k]
	if r == nil || r.IsDestroyed() {
		r = Open(l.dir, rx, rz, l.opts)
		l.regions[k] = r
	}
	return r, nil
}

// RegionCoords lists the grid positions of region files present on disk.
func (l *Layer) RegionCoords() ([][2]int64, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out [][2]int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rx, rz, err := ParseRegionFileName(e.Name())
		if err != nil {
			continue
		}
		out = append(out, [2]int64{rx, rz})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out, nil
}

// AllChunkCoords lists the global coordinates of every stored chunk.
func (l *Layer) AllChunkCoords() ([][2]int64, error) {
	rcs, err := l.RegionCoords()
	if err != nil {
		return nil, err
	}
	var out [][2]int64
	for _, rc := range rcs {
		err := l.withRegion(rc[0]*regionWidth, rc[1]*regionWidth, func(r *Region, _, _ int) error {
			coords, err := r.Coords()
			if err != nil {
				return err
			}
			for _, c := range coords {
				out = append(out, [2]int64{rc[0]*regionWidth + int64(c[0]), rc[1]*regionWidth + int64(c[1])})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *Layer) HasChunk(cx, cz int64) (bool, error) {
	var ok bool
	err := l.withRegion(cx, cz, func(r *Region, x, z int) error {
		var err error
		ok, err = r.HasValue(x, z)
		return err
	})
	return ok, err
}

func (l *Layer) GetChunkData(cx, cz int64) (nbtx.NamedTag, error) {
	var tag nbtx.NamedTag
	err := l.withRegion(cx, cz, func(r *Region, x, z int) error {
		var err error
		tag, err = r.GetValue(x, z)
		return err
	})
	return tag, err
}

func (l *Layer) SetChunkData(cx, cz int64, tag nbtx.NamedTag) error {
	return l.withRegion(cx, cz, func(r *Region, x, z int) error {
		return r.SetValue(x, z, tag)
	})
}

func (l *Layer) DeleteChunkData(cx, cz int64) error {
	return l.withRegion(cx, cz, func(r *Region, x, z int) error {
		return r.DeleteValue(x, z)
	})
}

// Compact compacts every region file of the layer using workers goroutines.
func (l *Layer) Compact(workers int) (CompactStats, error) {
	rcs, err := l.RegionCoords()
	if err != nil {
		return CompactStats{}, err
	}
	c := NewCompactor(workers, l.opts.Logger)
	for _, rc := range rcs {
		r, err := l.Region(rc[0], rc[1])
		if err != nil {
			c.Wait()
			return c.Stats(), err
		}
		c.Enqueue(r)
	}
	err = c.Wait()
	return c.Stats(), err
}

// Close destroys every cached region. The layer cannot be used afterwards.
func (l *Layer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for k, r := range l.regions {
		if err := r.Destroy(); err != nil {
			errs = append(errs, err)
		}
		delete(l.regions, k)
	}
	l.closed = true
	return errors.Join(errs...)
}

// withRegion runs fn on the region holding chunk cx, cz while holding the
// region lock.
func (l *Layer) withRegion(cx, cz int64, fn func(r *Region, x, z int) error) error {
	r, err := l.Region(cx>>5, cz>>5)
	if err != nil {
		return err
	}
	r.ref.Lock()
	defer r.ref.Unlock()
	return fn(r, int(cx&31), int(cz&31))
}
