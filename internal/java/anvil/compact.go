package anvil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Entry describes one populated cell as stored in the header.
type Entry struct {
	X, Z      int
	Offset    int64
	Sectors   int64
	Timestamp uint32
	Scheme    Compression
	External  bool
	Corrupt   bool
}

// Stats summarises a region file.
type Stats struct {
	Path        string
	Entries     int
	External    int
	Corrupt     int
	UsedSectors int64
	FileBytes   int64
}

// Entries returns the header view of every populated cell.
func (r *Region) Entries() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	var out []Entry
	for i, loc := range r.locations {
		if loc == 0 {
			continue
		}
		offset, count := splitLocation(loc)
		e := Entry{X: i % regionWidth, Z: i / regionWidth, Offset: offset, Sectors: count, Timestamp: r.stamps[i]}
		if r.corrupt[i] != nil {
			e.Corrupt = true
		} else if scheme, _, err := r.readEntryLocked(i); err != nil {
			e.Corrupt = true
		} else {
			e.Scheme = Compression(scheme &^ externalFlag)
			e.External = scheme&externalFlag != 0
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Region) Stats() (Stats, error) {
	entries, err := r.Entries()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Path: r.path, Entries: len(entries)}
	for _, e := range entries {
		switch {
		case e.Corrupt:
			st.Corrupt++
		case e.External:
			st.External++
		}
		if !e.Corrupt {
			st.UsedSectors += e.Sectors
		}
	}
	if fi, err := os.Stat(r.path); err == nil {
		st.FileBytes = fi.Size()
	}
	return st, nil
}

type packedEntry struct {
	idx   int
	stamp uint32
	data  []byte // length prefix, scheme and payload
}

// Compact rewrites the region with every entry packed at the front of the
// file, then drops sidecar files no entry references. A region left with no
// entries is deleted. A region with unreadable cells is left untouched and
// the error wraps ErrCorruptRegion; delete or rewrite those cells first.
func (r *Region) Compact() error {
	_, err := r.compact()
	return err
}

func (r *Region) compact() (CompactResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return CompactResult{}, err
	}
	start := r.opts.Now()
	if r.f == nil {
		return CompactResult{Path: r.path}, r.removeStaleSidecarsLocked()
	}

	var (
		entries []packedEntry
		bad     []error
	)
	for i, loc := range r.locations {
		if loc == 0 {
			continue
		}
		if err := r.corrupt[i]; err != nil {
			bad = append(bad, err)
			continue
		}
		scheme, payload, err := r.readEntryLocked(i)
		if err != nil {
			bad = append(bad, fmt.Errorf("cell %d: %w", i, err))
			continue
		}
		buf := make([]byte, 5+len(payload))
		binary.BigEndian.PutUint32(buf, uint32(len(payload)+1))
		buf[4] = scheme
		copy(buf[5:], payload)
		entries = append(entries, packedEntry{idx: i, stamp: r.stamps[i], data: buf})
	}
	if len(bad) > 0 {
		return CompactResult{}, fmt.Errorf("compact %s: %d unreadable cells: %w", r.path, len(bad), errors.Join(bad...))
	}
	// Keep the existing on-disk order.
	sort.SliceStable(entries, func(a, b int) bool { return r.locations[entries[a].idx] < r.locations[entries[b].idx] })

	if r.opts.BeforeCompact != nil {
		if err := r.opts.BeforeCompact(r.path); err != nil {
			return CompactResult{}, fmt.Errorf("before compact %s: %w", r.path, err)
		}
	}
	var before int64
	if fi, err := r.f.Stat(); err == nil {
		before = fi.Size()
	}

	result := CompactResult{Path: r.path, BytesBefore: before, Entries: len(entries)}
	if len(entries) == 0 {
		if err := r.closeLocked(); err != nil {
			return result, err
		}
		if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return result, err
		}
		result.Removed = true
	} else {
		if err := r.rewriteLocked(entries); err != nil {
			return result, err
		}
		if fi, err := os.Stat(r.path); err == nil {
			result.BytesAfter = fi.Size()
		}
	}
	if err := r.removeStaleSidecarsLocked(); err != nil {
		return result, err
	}
	result.Duration = r.opts.Now().Sub(start)
	if r.opts.AfterCompact != nil {
		r.opts.AfterCompact(result)
	}
	return result, nil
}

func (r *Region) rewriteLocked(entries []packedEntry) error {
	ss := int64(r.opts.SectorSize)
	hs := r.opts.headerSectors()
	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}

	hdr := make([]byte, hs*ss)
	next := hs
	for _, e := range entries {
		n := (int64(len(e.data)) + ss - 1) / ss
		binary.BigEndian.PutUint32(hdr[4*e.idx:], uint32(next<<8|n))
		binary.BigEndian.PutUint32(hdr[4096+4*e.idx:], e.stamp)
		block := make([]byte, n*ss)
		copy(block, e.data)
		if _, err := f.WriteAt(block, next*ss); err != nil {
			return fail(err)
		}
		next += n
	}
	if _, err := f.WriteAt(hdr, 0); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := r.closeLocked(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return r.loadLocked()
}

// removeStaleSidecarsLocked deletes c.<x>.<z>.mcc files inside this region
// whose cell is empty or no longer external.
func (r *Region) removeStaleSidecarsLocked() error {
	matches, err := filepath.Glob(filepath.Join(r.dir, "c.*.*.mcc"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		var cx, cz int64
		if _, err := fmt.Sscanf(filepath.Base(m), "c.%d.%d.mcc", &cx, &cz); err != nil {
			continue
		}
		if cx>>5 != r.rx || cz>>5 != r.rz {
			continue
		}
		idx := int(cx&31) + int(cz&31)*regionWidth
		if r.locations[idx] != 0 && r.corrupt[idx] == nil && r.f != nil {
			if scheme, _, err := r.readEntryLocked(idx); err == nil && scheme&externalFlag != 0 {
				continue
			}
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
