package anvil

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Tnze/go-mc/save/region"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/lock"
	"voxelstore.ai/internal/nbtx"
)

func testTag(i int, payload []byte) nbtx.NamedTag {
	return nbtx.NamedTag{Tag: nbtx.Compound{
		"i":    nbtx.Int(int32(i)),
		"blob": nbtx.ByteArray(payload),
	}.Raw()}
}

func tagIndex(t *testing.T, tag nbtx.NamedTag) int64 {
	t.Helper()
	c, err := nbtx.DecodeCompound(tag.Tag)
	if err != nil {
		t.Fatalf("DecodeCompound: %v", err)
	}
	n, err := nbtx.AsInt(c["i"])
	if err != nil {
		t.Fatalf("AsInt: %v", err)
	}
	return n
}

func randomBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestRegion_LazyCreateAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := Open(dir, 1, -2, Options{Locks: lock.NewTable()})
	defer r.Destroy()

	if ok, err := r.HasValue(0, 0); err != nil || ok {
		t.Fatalf("HasValue on empty region=%v,%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "r.1.-2.mca")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("region file created by a read: %v", err)
	}
	if _, err := r.GetValue(3, 4); !errors.Is(err, core.ErrChunkNotFound) {
		t.Fatalf("err=%v want ErrChunkNotFound", err)
	}

	for i := 0; i < 5; i++ {
		if err := r.SetValue(i, 31-i, testTag(i, []byte("x"))); err != nil {
			t.Fatalf("SetValue: %v", err)
		}
	}
	coords, err := r.Coords()
	if err != nil || len(coords) != 5 {
		t.Fatalf("Coords=%v,%v", coords, err)
	}

	// Fresh region object must read what the first one wrote.
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r2 := Open(dir, 1, -2, Options{Locks: lock.NewTable()})
	defer r2.Destroy()
	for i := 0; i < 5; i++ {
		tag, err := r2.GetValue(i, 31-i)
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		if got := tagIndex(t, tag); got != int64(i) {
			t.Fatalf("cell %d holds %d", i, got)
		}
	}
}

func TestRegion_OutOfRange(t *testing.T) {
	r := Open(t.TempDir(), 0, 0, Options{Locks: lock.NewTable()})
	defer r.Destroy()
	for _, c := range [][2]int{{-1, 0}, {32, 0}, {0, 32}} {
		if _, err := r.HasValue(c[0], c[1]); !errors.Is(err, core.ErrOutOfRange) {
			t.Fatalf("HasValue%v err=%v", c, err)
		}
		if err := r.SetValue(c[0], c[1], testTag(0, nil)); !errors.Is(err, core.ErrOutOfRange) {
			t.Fatalf("SetValue%v err=%v", c, err)
		}
	}
}

func TestRegion_Compressions(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionZlib, CompressionNone, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			r := Open(t.TempDir(), 0, 0, Options{Compression: c, Locks: lock.NewTable()})
			defer r.Destroy()
			payload := bytes.Repeat([]byte("stone;dirt;"), 20000)
			if err := r.SetValue(7, 9, testTag(42, payload)); err != nil {
				t.Fatalf("SetValue: %v", err)
			}
			tag, err := r.GetValue(7, 9)
			if err != nil {
				t.Fatalf("GetValue: %v", err)
			}
			cpd, _ := nbtx.DecodeCompound(tag.Tag)
			blob, _ := nbtx.AsByteArray(cpd["blob"])
			if !bytes.Equal(blob, payload) {
				t.Fatalf("payload mismatch")
			}
			entries, _ := r.Entries()
			if len(entries) != 1 || entries[0].Scheme != c {
				t.Fatalf("entries=%+v", entries)
			}
		})
	}
}

func TestRegion_SectorSizes(t *testing.T) {
	for _, ss := range []int{1024, 4096, 16384} {
		dir := t.TempDir()
		r := Open(dir, 0, 0, Options{SectorSize: ss, Locks: lock.NewTable()})
		if err := r.SetValue(0, 0, testTag(1, randomBytes(1, 3000))); err != nil {
			t.Fatalf("ss=%d SetValue: %v", ss, err)
		}
		fi, err := os.Stat(r.Path())
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if fi.Size()%int64(ss) != 0 {
			t.Fatalf("ss=%d file size %d not sector aligned", ss, fi.Size())
		}
		hs := int64((8192 + ss - 1) / ss)
		entries, _ := r.Entries()
		if entries[0].Offset != hs {
			t.Fatalf("ss=%d first entry at sector %d want %d", ss, entries[0].Offset, hs)
		}
		_ = r.Destroy()
	}
}

func TestRegion_ExternalSidecar(t *testing.T) {
	dir := t.TempDir()
	r := Open(dir, -1, 0, Options{Compression: CompressionNone, ExternalThreshold: 4096, Locks: lock.NewTable()})
	defer r.Destroy()

	big := randomBytes(2, 64*1024)
	if err := r.SetValue(2, 3, testTag(1, big)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	// Global chunk coords: -1*32+2, 0*32+3.
	sidecar := filepath.Join(dir, "c.-30.3.mcc")
	if _, err := os.Stat(sidecar); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	entries, _ := r.Entries()
	if len(entries) != 1 || !entries[0].External || entries[0].Sectors != 1 {
		t.Fatalf("entries=%+v", entries)
	}
	tag, err := r.GetValue(2, 3)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	c, _ := nbtx.DecodeCompound(tag.Tag)
	if blob, _ := nbtx.AsByteArray(c["blob"]); !bytes.Equal(blob, big) {
		t.Fatalf("sidecar payload mismatch")
	}

	// Shrinking the entry leaves the sidecar until compaction.
	if err := r.SetValue(2, 3, testTag(2, []byte("small"))); err != nil {
		t.Fatalf("SetValue small: %v", err)
	}
	if err := r.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if _, err := os.Stat(sidecar); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale sidecar kept: %v", err)
	}
	tag, _ = r.GetValue(2, 3)
	if tagIndex(t, tag) != 2 {
		t.Fatalf("entry lost by compaction")
	}
}

func TestRegion_SidecarDisabled(t *testing.T) {
	r := Open(t.TempDir(), 0, 0, Options{Compression: CompressionNone, ExternalThreshold: 1024, DisableSidecar: true, Locks: lock.NewTable()})
	defer r.Destroy()
	if err := r.SetValue(0, 0, testTag(0, randomBytes(3, 8192))); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v want ErrTooLarge", err)
	}
}

func TestRegion_DeleteAndCompact(t *testing.T) {
	dir := t.TempDir()
	r := Open(dir, 0, 0, Options{Locks: lock.NewTable()})
	defer r.Destroy()

	if err := r.DeleteValue(1, 1); err != nil {
		t.Fatalf("delete of absent entry: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := r.SetValue(i, 0, testTag(i, randomBytes(int64(i), 6000))); err != nil {
			t.Fatalf("SetValue: %v", err)
		}
	}
	before, _ := os.Stat(r.Path())
	for i := 0; i < 6; i += 2 {
		if err := r.DeleteValue(i, 0); err != nil {
			t.Fatalf("DeleteValue: %v", err)
		}
	}
	mid, _ := os.Stat(r.Path())
	if mid.Size() != before.Size() {
		t.Fatalf("delete changed file size %d -> %d", before.Size(), mid.Size())
	}
	if err := r.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	after, _ := os.Stat(r.Path())
	if after.Size() >= before.Size() {
		t.Fatalf("compaction did not shrink: %d -> %d", before.Size(), after.Size())
	}
	for i := 1; i < 6; i += 2 {
		tag, err := r.GetValue(i, 0)
		if err != nil || tagIndex(t, tag) != int64(i) {
			t.Fatalf("cell %d after compaction: %v", i, err)
		}
	}
	if ok, _ := r.HasValue(0, 0); ok {
		t.Fatalf("deleted cell came back")
	}

	for i := 1; i < 6; i += 2 {
		_ = r.DeleteValue(i, 0)
	}
	if err := r.Compact(); err != nil {
		t.Fatalf("Compact empty: %v", err)
	}
	if _, err := os.Stat(r.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty region file kept: %v", err)
	}
	if coords, err := r.Coords(); err != nil || len(coords) != 0 {
		t.Fatalf("coords after removal=%v,%v", coords, err)
	}
}

func TestRegion_RepeatedCompactionIsStable(t *testing.T) {
	for _, c := range []Compression{CompressionZlib, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			r := Open(dir, 0, 0, Options{Compression: c, ExternalThreshold: 16 * 1024, Locks: lock.NewTable()})
			defer r.Destroy()

			for i := 0; i < 8; i++ {
				if err := r.SetValue(i, 1, testTag(i, randomBytes(int64(i), 6000))); err != nil {
					t.Fatalf("SetValue: %v", err)
				}
			}
			big := randomBytes(99, 64*1024)
			if err := r.SetValue(9, 9, testTag(99, big)); err != nil {
				t.Fatalf("SetValue sidecar: %v", err)
			}
			for i := 0; i < 8; i += 3 {
				if err := r.DeleteValue(i, 1); err != nil {
					t.Fatalf("DeleteValue: %v", err)
				}
			}
			orig, err := os.ReadFile(r.Path())
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}

			var images [][]byte
			for pass := 0; pass < 3; pass++ {
				if err := r.Compact(); err != nil {
					t.Fatalf("Compact pass %d: %v", pass, err)
				}
				b, err := os.ReadFile(r.Path())
				if err != nil {
					t.Fatalf("ReadFile: %v", err)
				}
				images = append(images, b)
			}
			if len(images[0]) > len(orig) {
				t.Fatalf("first compaction grew the file: %d -> %d", len(orig), len(images[0]))
			}
			if len(images[1]) > len(images[0]) {
				t.Fatalf("second compaction grew the file: %d -> %d", len(images[0]), len(images[1]))
			}
			if !bytes.Equal(images[1], images[2]) {
				t.Fatalf("third compaction changed the file")
			}

			if _, err := os.Stat(filepath.Join(dir, "c.9.9.mcc")); err != nil {
				t.Fatalf("referenced sidecar removed: %v", err)
			}
			tag, err := r.GetValue(9, 9)
			if err != nil {
				t.Fatalf("GetValue sidecar: %v", err)
			}
			cpd, _ := nbtx.DecodeCompound(tag.Tag)
			if blob, _ := nbtx.AsByteArray(cpd["blob"]); !bytes.Equal(blob, big) {
				t.Fatalf("sidecar payload lost by compaction")
			}
			for i := 0; i < 8; i++ {
				ok, err := r.HasValue(i, 1)
				if err != nil {
					t.Fatalf("HasValue: %v", err)
				}
				if want := i%3 != 0; ok != want {
					t.Fatalf("cell %d present=%v want %v", i, ok, want)
				}
				if ok {
					tag, err := r.GetValue(i, 1)
					if err != nil || tagIndex(t, tag) != int64(i) {
						t.Fatalf("cell %d after compaction: %v", i, err)
					}
				}
			}
		})
	}
}

func TestRegion_ReusesFreedSectors(t *testing.T) {
	r := Open(t.TempDir(), 0, 0, Options{Compression: CompressionNone, Locks: lock.NewTable()})
	defer r.Destroy()
	_ = r.SetValue(0, 0, testTag(0, randomBytes(1, 10000)))
	_ = r.SetValue(1, 0, testTag(1, randomBytes(2, 100)))
	size1, _ := os.Stat(r.Path())
	_ = r.DeleteValue(0, 0)
	_ = r.SetValue(2, 0, testTag(2, randomBytes(3, 5000)))
	size2, _ := os.Stat(r.Path())
	if size2.Size() != size1.Size() {
		t.Fatalf("freed sectors were not reused: %d -> %d", size1.Size(), size2.Size())
	}
}

func TestRegion_CorruptLocation(t *testing.T) {
	dir := t.TempDir()
	r := Open(dir, 0, 0, Options{Locks: lock.NewTable()})
	_ = r.SetValue(0, 0, testTag(0, nil))
	_ = r.Destroy()

	f, err := os.OpenFile(filepath.Join(dir, "r.0.0.mca"), os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], 500<<8|1)
	_, _ = f.WriteAt(b[:], 4) // cell 1,0 past EOF
	binary.BigEndian.PutUint32(b[:], 0<<8|1)
	_, _ = f.WriteAt(b[:], 8) // cell 2,0 into the header
	_ = f.Close()

	r = Open(dir, 0, 0, Options{Locks: lock.NewTable()})
	defer r.Destroy()
	if _, err := r.GetValue(1, 0); !errors.Is(err, ErrCorruptRegion) {
		t.Fatalf("past EOF err=%v", err)
	}
	if _, err := r.GetValue(2, 0); !errors.Is(err, ErrCorruptRegion) {
		t.Fatalf("header overlap err=%v", err)
	}
	if _, err := r.GetValue(0, 0); err != nil {
		t.Fatalf("healthy entry: %v", err)
	}
	info, _ := os.Stat(filepath.Join(dir, "r.0.0.mca"))
	if err := r.Compact(); !errors.Is(err, ErrCorruptRegion) {
		t.Fatalf("Compact err=%v want ErrCorruptRegion", err)
	}
	coords, err := r.Coords()
	if err != nil || len(coords) != 3 {
		t.Fatalf("coords after failed compact=%v err=%v want 3 cells", coords, err)
	}
	if after, _ := os.Stat(filepath.Join(dir, "r.0.0.mca")); after.Size() != info.Size() {
		t.Fatalf("size=%d want %d", after.Size(), info.Size())
	}

	// Rewriting a corrupt cell repairs it.
	if err := r.SetValue(1, 0, testTag(9, nil)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if tag, err := r.GetValue(1, 0); err != nil || tagIndex(t, tag) != 9 {
		t.Fatalf("repaired cell: %v", err)
	}
	if err := r.DeleteValue(2, 0); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
	if err := r.Compact(); err != nil {
		t.Fatalf("Compact after repair: %v", err)
	}
	coords, _ = r.Coords()
	if len(coords) != 2 {
		t.Fatalf("coords=%v want 2 cells", coords)
	}
	if tag, err := r.GetValue(0, 0); err != nil || tagIndex(t, tag) != 0 {
		t.Fatalf("healthy entry after compact: %v", err)
	}
}

func TestRegion_FailedWriteReleasesSectors(t *testing.T) {
	r := Open(t.TempDir(), 0, 0, Options{Compression: CompressionNone, Locks: lock.NewTable()})
	defer r.Destroy()
	if err := r.SetValue(0, 0, testTag(0, randomBytes(1, 100))); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	usedSectors := func() int {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := 0
		for _, u := range r.used {
			if u {
				n++
			}
		}
		return n
	}
	want := usedSectors()

	r.mu.Lock()
	_ = r.f.Close()
	r.mu.Unlock()
	if err := r.SetValue(1, 0, testTag(1, randomBytes(2, 100))); err == nil {
		t.Fatalf("SetValue on a closed file succeeded")
	}
	if got := usedSectors(); got != want {
		t.Fatalf("used sectors=%d want %d", got, want)
	}
	// A larger entry moves away from its run; the old run stays in use.
	if err := r.SetValue(0, 0, testTag(0, randomBytes(3, 20000))); err == nil {
		t.Fatalf("SetValue on a closed file succeeded")
	}
	if got := usedSectors(); got != want {
		t.Fatalf("used sectors after move=%d want %d", got, want)
	}
}

func TestRegion_LockRendezvous(t *testing.T) {
	const sleep = time.Second
	dir := t.TempDir()
	tbl := lock.NewTable()
	r1 := Open(dir, 0, 0, Options{Locks: tbl})
	defer r1.Destroy()
	r2 := Open(dir, 0, 0, Options{Locks: tbl})
	defer r2.Destroy()

	var (
		mu    sync.Mutex
		order []int
		ends  []time.Time
		wg    sync.WaitGroup
	)
	record := func(step int) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}
	finish := func() {
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
	}
	ready := make(chan struct{}, 2)
	start := make(chan struct{})
	held := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		ready <- struct{}{}
		<-start
		ref := r1.Lock()
		defer ref.Release()
		ref.Lock()
		close(held)
		record(1)
		for z := 0; z < 3; z++ {
			if err := r1.SetValue(0, z, testTag(10+z, nil)); err != nil {
				t.Errorf("T1 SetValue: %v", err)
			}
		}
		if coords, _ := r1.Coords(); len(coords) != 3 {
			t.Errorf("T1 coords=%v", coords)
		}
		time.Sleep(sleep)
		record(2)
		ref.Unlock()
		finish()
	}()
	go func() {
		defer wg.Done()
		ready <- struct{}{}
		<-start
		<-held
		ref := r2.Lock()
		defer ref.Release()
		ref.Lock()
		record(3)
		if err := r2.SetValue(0, 2, testTag(22, nil)); err != nil {
			t.Errorf("T2 SetValue: %v", err)
		}
		if err := r2.SetValue(0, 3, testTag(23, nil)); err != nil {
			t.Errorf("T2 SetValue: %v", err)
		}
		if coords, _ := r2.Coords(); len(coords) != 4 {
			t.Errorf("T2 coords=%v", coords)
		}
		time.Sleep(sleep)
		record(4)
		ref.Unlock()
		finish()
	}()

	<-ready
	<-ready
	begin := time.Now()
	close(start)
	wg.Wait()

	for i, step := range order {
		if step != i+1 {
			t.Fatalf("order=%v want [1 2 3 4]", order)
		}
	}
	if len(order) != 4 {
		t.Fatalf("order=%v want [1 2 3 4]", order)
	}
	var last time.Time
	for _, e := range ends {
		if e.After(last) {
			last = e
		}
	}
	if dt := last.Sub(begin); dt < 2*sleep-10*time.Millisecond {
		t.Fatalf("elapsed=%s want >= %s", dt, 2*sleep)
	}

	r3 := Open(dir, 0, 0, Options{Locks: tbl})
	defer r3.Destroy()
	for z, want := range []int64{10, 11, 22, 23} {
		tag, err := r3.GetValue(0, z)
		if err != nil {
			t.Fatalf("GetValue(0,%d): %v", z, err)
		}
		if got := tagIndex(t, tag); got != want {
			t.Fatalf("cell 0,%d=%d want %d", z, got, want)
		}
	}
}

func TestRegion_DestroyAndLockLifetime(t *testing.T) {
	tbl := lock.NewTable()
	r := Open(t.TempDir(), 0, 0, Options{Locks: tbl})
	ref := r.Lock()
	if err := r.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := r.HasValue(0, 0); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("err=%v want ErrDestroyed", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("lock dropped while a handle is live")
	}
	ref.Lock()
	ref.Unlock()
	ref.Release()
	if tbl.Len() != 0 {
		t.Fatalf("lock leaked: len=%d", tbl.Len())
	}
}

func TestRegion_ReadableByGoMC(t *testing.T) {
	dir := t.TempDir()
	r := Open(dir, 0, 0, Options{Compression: CompressionZlib, Locks: lock.NewTable()})
	if err := r.SetValue(4, 5, testTag(77, []byte("interop"))); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	_ = r.Destroy()

	mc, err := region.Open(filepath.Join(dir, "r.0.0.mca"))
	if err != nil {
		t.Fatalf("go-mc open: %v", err)
	}
	defer mc.Close()
	if !mc.ExistSector(4, 5) {
		t.Fatalf("go-mc does not see the sector")
	}
	data, err := mc.ReadSector(4, 5)
	if err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if data[0] != byte(CompressionZlib) {
		t.Fatalf("scheme=%d", data[0])
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		t.Fatalf("zlib: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tag, err := nbtx.Decode(raw)
	if err != nil || tagIndex(t, tag) != 77 {
		t.Fatalf("decoded tag: %v", err)
	}
}

func TestParseRegionFileName(t *testing.T) {
	rx, rz, err := ParseRegionFileName("r.-3.12.mca")
	if err != nil || rx != -3 || rz != 12 {
		t.Fatalf("got %d,%d,%v", rx, rz, err)
	}
	for _, bad := range []string{"r.1.mca", "c.1.2.mcc", "r.a.2.mca"} {
		if _, _, err := ParseRegionFileName(bad); !errors.Is(err, ErrBadFileName) {
			t.Fatalf("%s err=%v", bad, err)
		}
	}
}
