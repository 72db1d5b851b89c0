package anvil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/lock"
	"voxelstore.ai/internal/nbtx"
)

const (
	regionWidth = 32
	regionCells = regionWidth * regionWidth
)

// Region is one r.<rx>.<rz>.mca file holding up to 32x32 chunk entries.
//
// Nothing touches the disk until the first read or write. The file is
// created by the first write and removed by a compaction that finds it empty.
type Region struct {
	dir    string
	path   string
	rx, rz int64
	opts   Options
	ref    *lock.Ref

	mu        sync.Mutex
	f         *os.File
	loaded    bool
	destroyed bool
	locations [regionCells]uint32
	stamps    [regionCells]uint32
	corrupt   map[int]error
	used      []bool
}

// Open returns the region at grid position rx, rz inside dir.
func Open(dir string, rx, rz int64, opts Options) *Region {
	opts = opts.normalized()
	path := filepath.Join(dir, RegionFileName(rx, rz))
	r := &Region{dir: dir, path: path, rx: rx, rz: rz, opts: opts}
	r.ref = opts.Locks.Acquire(lockKey(path))
	return r
}

// OpenPath opens a region by file path, taking rx, rz from the name.
func OpenPath(path string, opts Options) (*Region, error) {
	rx, rz, err := ParseRegionFileName(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	return Open(filepath.Dir(path), rx, rz, opts), nil
}

func RegionFileName(rx, rz int64) string {
	return fmt.Sprintf("r.%d.%d.mca", rx, rz)
}

func ParseRegionFileName(name string) (int64, int64, error) {
	parts := strings.Split(name, ".")
	if len(parts) != 4 || parts[0] != "r" || parts[3] != "mca" {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	rx, err1 := strconv.ParseInt(parts[1], 10, 64)
	rz, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	return rx, rz, nil
}

func sidecarName(cx, cz int64) string {
	return fmt.Sprintf("c.%d.%d.mcc", cx, cz)
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "anvil:" + path
}

func (r *Region) Path() string    { return r.path }
func (r *Region) RX() int64       { return r.rx }
func (r *Region) RZ() int64       { return r.rz }
func (r *Region) SectorSize() int { return r.opts.SectorSize }

// Lock returns a new reference to the region's lock. The caller must
// Release it; it stays valid after the region is destroyed.
func (r *Region) Lock() *lock.Ref { return r.ref.Retain() }

func (r *Region) IsDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

func cellIndex(x, z int) (int, error) {
	if x < 0 || x >= regionWidth || z < 0 || z >= regionWidth {
		return 0, fmt.Errorf("region cell %d,%d: %w", x, z, core.ErrOutOfRange)
	}
	return x + z*regionWidth, nil
}

func splitLocation(loc uint32) (offset, count int64) {
	return int64(loc >> 8), int64(loc & 0xff)
}

// Coords lists the x, z of every populated cell in index order.
func (r *Region) Coords() ([][2]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	var out [][2]int
	for i, loc := range r.locations {
		if loc != 0 {
			out = append(out, [2]int{i % regionWidth, i / regionWidth})
		}
	}
	return out, nil
}

func (r *Region) HasValue(x, z int) (bool, error) {
	idx, err := cellIndex(x, z)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return false, err
	}
	return r.locations[idx] != 0, nil
}

// GetValue reads and decodes the entry at x, z.
func (r *Region) GetValue(x, z int) (nbtx.NamedTag, error) {
	idx, err := cellIndex(x, z)
	if err != nil {
		return nbtx.NamedTag{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nbtx.NamedTag{}, err
	}
	if r.locations[idx] == 0 {
		return nbtx.NamedTag{}, fmt.Errorf("region %s cell %d,%d: %w", filepath.Base(r.path), x, z, core.ErrChunkNotFound)
	}
	if err := r.corrupt[idx]; err != nil {
		return nbtx.NamedTag{}, err
	}
	scheme, payload, err := r.readEntryLocked(idx)
	if err != nil {
		return nbtx.NamedTag{}, err
	}
	if scheme&externalFlag != 0 {
		cx, cz := r.globalCoords(idx)
		payload, err = os.ReadFile(filepath.Join(r.dir, sidecarName(cx, cz)))
		if err != nil {
			return nbtx.NamedTag{}, fmt.Errorf("%w: sidecar for %d,%d: %v", ErrCorruptRegion, cx, cz, err)
		}
	}
	raw, err := decompress(Compression(scheme&^externalFlag), payload)
	if err != nil {
		return nbtx.NamedTag{}, fmt.Errorf("cell %d,%d: %w", x, z, err)
	}
	tag, err := nbtx.Decode(raw)
	if err != nil {
		return nbtx.NamedTag{}, fmt.Errorf("%w: cell %d,%d: %v", ErrCorruptRegion, x, z, err)
	}
	return tag, nil
}

// readEntryLocked returns the scheme byte and the stored bytes of cell idx.
func (r *Region) readEntryLocked(idx int) (byte, []byte, error) {
	offset, count := splitLocation(r.locations[idx])
	ss := int64(r.opts.SectorSize)
	var hdr [5]byte
	if _, err := r.f.ReadAt(hdr[:], offset*ss); err != nil {
		return 0, nil, fmt.Errorf("%w: entry header: %v", ErrCorruptRegion, err)
	}
	length := int64(binary.BigEndian.Uint32(hdr[:4]))
	if length < 1 || length > count*ss-4 {
		return 0, nil, fmt.Errorf("%w: entry length %d exceeds %d sectors", ErrCorruptRegion, length, count)
	}
	payload := make([]byte, length-1)
	if _, err := r.f.ReadAt(payload, offset*ss+5); err != nil {
		return 0, nil, fmt.Errorf("%w: entry body: %v", ErrCorruptRegion, err)
	}
	return hdr[4], payload, nil
}

// SetValue compresses and stores tag at x, z.
func (r *Region) SetValue(x, z int, tag nbtx.NamedTag) error {
	idx, err := cellIndex(x, z)
	if err != nil {
		return err
	}
	raw, err := tag.Bytes()
	if err != nil {
		return err
	}
	data, err := compress(r.opts.Compression, raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}
	if err := r.ensureFileLocked(); err != nil {
		return err
	}

	ss := r.opts.SectorSize
	scheme := byte(r.opts.Compression)
	cx, cz := r.globalCoords(idx)
	sidecar := filepath.Join(r.dir, sidecarName(cx, cz))
	sectors := (len(data) + 5 + ss - 1) / ss
	if sectors > maxSectors || len(data) > r.opts.ExternalThreshold {
		if r.opts.DisableSidecar {
			return fmt.Errorf("%w: %d bytes at %d,%d", ErrTooLarge, len(data), cx, cz)
		}
		if err := writeFileSync(sidecar, data); err != nil {
			return err
		}
		data = nil
		scheme |= externalFlag
		sectors = 1
	}

	buf := make([]byte, sectors*ss)
	binary.BigEndian.PutUint32(buf, uint32(len(data)+1))
	buf[4] = scheme
	copy(buf[5:], data)

	prev := r.locations[idx]
	offset := r.allocateLocked(idx, int64(sectors))
	loc := uint32(offset<<8 | int64(sectors))
	if _, err := r.f.WriteAt(buf, offset*int64(ss)); err != nil {
		r.releaseLocked(idx, prev, loc)
		return err
	}
	if err := r.writeHeaderLocked(idx, loc, uint32(r.opts.Now().Unix())); err != nil {
		r.releaseLocked(idx, prev, loc)
		return err
	}
	delete(r.corrupt, idx)
	return nil
}

// DeleteValue clears the header entry at x, z. The file never shrinks;
// Compact reclaims the space.
func (r *Region) DeleteValue(x, z int) error {
	idx, err := cellIndex(x, z)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}
	if r.locations[idx] == 0 {
		return nil
	}
	if r.corrupt[idx] == nil {
		r.markLocked(r.locations[idx], false)
	}
	delete(r.corrupt, idx)
	return r.writeHeaderLocked(idx, 0, 0)
}

// Close releases the file handle. The region can still be used and will
// reopen the file on demand.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Region) closeLocked() error {
	r.loaded = false
	r.used = nil
	r.corrupt = nil
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Destroy closes the region and drops its lock reference. Every later
// operation fails with ErrDestroyed.
func (r *Region) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	err := r.closeLocked()
	r.destroyed = true
	r.ref.Release()
	return err
}

func (r *Region) globalCoords(idx int) (int64, int64) {
	return r.rx*regionWidth + int64(idx%regionWidth), r.rz*regionWidth + int64(idx/regionWidth)
}

func (r *Region) loadLocked() error {
	if r.destroyed {
		return ErrDestroyed
	}
	if r.loaded {
		return nil
	}
	r.locations = [regionCells]uint32{}
	r.stamps = [regionCells]uint32{}
	r.corrupt = map[int]error{}
	r.used = nil

	f, err := os.OpenFile(r.path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		r.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	size := st.Size()
	if size == 0 {
		r.f = f
		r.loaded = true
		return nil
	}
	if size < headerBytes {
		_ = f.Close()
		return fmt.Errorf("%w: %s is %d bytes, shorter than its header", ErrCorruptRegion, r.path, size)
	}
	var hdr [headerBytes]byte
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, headerBytes), hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	for i := 0; i < regionCells; i++ {
		r.locations[i] = binary.BigEndian.Uint32(hdr[4*i:])
		r.stamps[i] = binary.BigEndian.Uint32(hdr[4096+4*i:])
	}

	ss := int64(r.opts.SectorSize)
	fileSectors := (size + ss - 1) / ss
	hs := r.opts.headerSectors()
	r.used = make([]bool, fileSectors)
	for i := int64(0); i < hs && i < fileSectors; i++ {
		r.used[i] = true
	}
	// Scan in offset order so the first claimant of a sector keeps it.
	order := make([]int, 0, regionCells)
	for i, loc := range r.locations {
		if loc != 0 {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return r.locations[order[a]] < r.locations[order[b]] })
	for _, i := range order {
		offset, count := splitLocation(r.locations[i])
		switch {
		case count == 0 || offset < hs:
			r.corrupt[i] = fmt.Errorf("%w: cell %d points into the header", ErrCorruptRegion, i)
		case offset+count > fileSectors:
			r.corrupt[i] = fmt.Errorf("%w: cell %d points past end of file", ErrCorruptRegion, i)
		case r.overlapsLocked(offset, count):
			r.corrupt[i] = fmt.Errorf("%w: cell %d overlaps another entry", ErrCorruptRegion, i)
		default:
			r.markLocked(r.locations[i], true)
		}
	}
	r.f = f
	r.loaded = true
	return nil
}

func (r *Region) overlapsLocked(offset, count int64) bool {
	for s := offset; s < offset+count; s++ {
		if r.used[s] {
			return true
		}
	}
	return false
}

func (r *Region) markLocked(loc uint32, v bool) {
	offset, count := splitLocation(loc)
	for s := offset; s < offset+count && s < int64(len(r.used)); s++ {
		r.used[s] = v
	}
}

func (r *Region) ensureFileLocked() error {
	if r.f != nil && len(r.used) > 0 {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	if r.f == nil {
		f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return err
		}
		r.f = f
	}
	hs := r.opts.headerSectors()
	if _, err := r.f.WriteAt(make([]byte, hs*int64(r.opts.SectorSize)), 0); err != nil {
		return err
	}
	r.used = make([]bool, hs)
	for i := range r.used {
		r.used[i] = true
	}
	return nil
}

// allocateLocked picks sectors for cell idx: its current run when the new
// entry fits, else the first free run, else the end of the file.
func (r *Region) allocateLocked(idx int, n int64) int64 {
	loc := r.locations[idx]
	if loc != 0 && r.corrupt[idx] == nil {
		offset, count := splitLocation(loc)
		if n <= count {
			r.markLocked(loc, false)
			r.markLocked(uint32(offset<<8|n), true)
			return offset
		}
		r.markLocked(loc, false)
	}

	run := int64(0)
	for s := int64(0); s < int64(len(r.used)); s++ {
		if r.used[s] {
			run = 0
			continue
		}
		run++
		if run == n {
			start := s - n + 1
			r.markLocked(uint32(start<<8|n), true)
			return start
		}
	}
	// run holds the free tail, which the new entry extends.
	start := int64(len(r.used)) - run
	for int64(len(r.used)) < start+n {
		r.used = append(r.used, false)
	}
	r.markLocked(uint32(start<<8|n), true)
	return start
}

// releaseLocked undoes allocateLocked after a failed write. The header still
// points at prev, so its run is marked used again.
func (r *Region) releaseLocked(idx int, prev, loc uint32) {
	r.markLocked(loc, false)
	if prev != 0 && r.corrupt[idx] == nil {
		r.markLocked(prev, true)
	}
}

func (r *Region) writeHeaderLocked(idx int, loc, stamp uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], loc)
	if _, err := r.f.WriteAt(b[:], int64(4*idx)); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[:], stamp)
	if _, err := r.f.WriteAt(b[:], int64(4096+4*idx)); err != nil {
		return err
	}
	r.locations[idx] = loc
	r.stamps[idx] = stamp
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (r *Region) printf(format string, args ...any) {
	if r.opts.Logger == nil {
		return
	}
	r.opts.Logger.Printf(format, args...)
}
