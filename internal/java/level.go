package java

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelstore.ai/internal/history"
	"voxelstore.ai/internal/java/anvil"
	"voxelstore.ai/internal/java/chunk"
	"voxelstore.ai/internal/lock"
)

// History operations reported to a HistoryLogger.
const (
	OpRestorePoint = "restore_point"
	OpUndo         = "undo"
	OpRedo         = "redo"
	OpSave         = "save"
	OpCompact      = "compact"
)

type HistoryEntry struct {
	Time         time.Time `json:"time"`
	Level        string    `json:"level"`
	Op           string    `json:"op"`
	RestorePoint string    `json:"restore_point,omitempty"`
	UndoCount    int       `json:"undo_count"`
	RedoCount    int       `json:"redo_count"`
	Chunks       int       `json:"chunks,omitempty"`
	Bytes        int64     `json:"bytes,omitempty"`
}

type HistoryLogger interface {
	WriteHistory(entry HistoryEntry) error
}

type chunkKey struct {
	Dimension string
	CX, CZ    int64
}

func (k chunkKey) String() string {
	return fmt.Sprintf("%s %d,%d", k.Dimension, k.CX, k.CZ)
}

// Level layers undo history and chunk handles over a RawLevel.
//
// Chunk edits are kept in memory as history entries until Save writes the
// changed chunks back to the region files.
type Level struct {
	raw     *RawLevel
	history *history.Manager
	chunks  *history.Layer[chunkKey, []byte]

	saveMu sync.Mutex

	mu             sync.Mutex
	historyEnabled bool
	dims           map[string]*Dimension
	points         []string
	historyLogger  HistoryLogger
}

// LoadLevel loads the level at path. It starts closed with history enabled.
func LoadLevel(path string, opts Options) (*Level, error) {
	raw, err := Load(path, opts)
	if err != nil {
		return nil, err
	}
	return NewLevel(raw), nil
}

func NewLevel(raw *RawLevel) *Level {
	m := history.NewManager()
	l := &Level{
		raw:            raw,
		history:        m,
		chunks:         history.NewLayer[chunkKey, []byte](m),
		historyEnabled: true,
		dims:           map[string]*Dimension{},
	}
	raw.Closed().Connect(func(*RawLevel) { l.resetState() })
	raw.Reloaded().Connect(func(*RawLevel) { l.resetState() })
	return l
}

func (l *Level) Raw() *RawLevel { return l.raw }

func (l *Level) Path() string            { return l.raw.Path() }
func (l *Level) Platform() string        { return l.raw.Platform() }
func (l *Level) LevelName() string       { return l.raw.LevelName() }
func (l *Level) DataVersion() int64      { return l.raw.DataVersion() }
func (l *Level) ModifiedTime() time.Time { return l.raw.ModifiedTime() }
func (l *Level) IsSupported() bool       { return l.raw.IsSupported() }
func (l *Level) Lock() *lock.Ref         { return l.raw.Lock() }
func (l *Level) IsOpen() bool            { return l.raw.IsOpen() }
func (l *Level) Open() error             { return l.raw.Open() }

// Close discards unsaved changes and the undo history.
func (l *Level) Close() error { return l.raw.Close() }

// Reload discards unsaved changes and the undo history and re-reads the
// level from disk.
func (l *Level) Reload() error { return l.raw.Reload() }

func (l *Level) ReloadMetadata() error { return l.raw.ReloadMetadata() }

func (l *Level) SetHistoryLogger(h HistoryLogger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.historyLogger = h
}

func (l *Level) HistoryEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.historyEnabled
}

// SetHistoryEnabled controls whether the first write to a chunk loads its
// stored state as the undo baseline. With history disabled the written
// value becomes the baseline.
func (l *Level) SetHistoryEnabled(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.historyEnabled = v
}

// CreateRestorePoint starts a new undo bin and returns its id. Chunk edits
// made before the first restore point cannot be undone.
func (l *Level) CreateRestorePoint() string {
	l.mu.Lock()
	l.history.CreateUndoBin()
	n := l.history.UndoCount()
	id := uuid.NewString()
	l.points = append(l.points[:n-1], id)
	l.mu.Unlock()

	l.logHistory(HistoryEntry{Op: OpRestorePoint, RestorePoint: id})
	return id
}

// RestorePoints lists the ids of the restore points that can be undone,
// oldest first.
func (l *Level) RestorePoints() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.history.UndoCount()
	return append([]string(nil), l.points[:n]...)
}

// Undo steps back one restore point. It is a no-op when nothing can be
// undone.
func (l *Level) Undo() {
	l.mu.Lock()
	n := l.history.UndoCount()
	if n == 0 {
		l.mu.Unlock()
		return
	}
	id := l.points[n-1]
	l.history.Undo()
	l.mu.Unlock()

	l.logHistory(HistoryEntry{Op: OpUndo, RestorePoint: id})
}

// Redo re-applies the next undone restore point, if any.
func (l *Level) Redo() {
	l.mu.Lock()
	if l.history.RedoCount() == 0 {
		l.mu.Unlock()
		return
	}
	l.history.Redo()
	id := l.points[l.history.UndoCount()-1]
	l.mu.Unlock()

	l.logHistory(HistoryEntry{Op: OpRedo, RestorePoint: id})
}

func (l *Level) UndoCount() int { return l.history.UndoCount() }
func (l *Level) RedoCount() int { return l.history.RedoCount() }

// UnsavedChunks reports how many chunks differ from their stored state.
func (l *Level) UnsavedChunks() int { return len(l.chunks.ChangedKeys()) }

func (l *Level) DimensionIDs() ([]string, error) { return l.raw.DimensionIDs() }

func (l *Level) Dimension(id string) (*Dimension, error) {
	raw, err := l.raw.Dimension(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.dims[id]
	if d == nil || d.raw != raw {
		d = newDimension(l, raw)
		l.dims[id] = d
	}
	return d, nil
}

// Save writes every changed chunk to disk and marks the written states as
// saved. Edits made while Save runs stay unsaved.
func (l *Level) Save() error {
	if !l.IsOpen() {
		return ErrLevelNotOpen
	}
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	keys := l.chunks.ChangedKeys()
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		return a.CZ < b.CZ
	})
	revs := make(map[chunkKey]history.Revision, len(keys))
	for _, k := range keys {
		rev, err := l.saveChunk(k)
		if err != nil {
			l.chunks.MarkSavedAt(revs)
			return fmt.Errorf("save %s: %w", k, err)
		}
		revs[k] = rev
	}
	l.chunks.MarkSavedAt(revs)
	if err := l.raw.SaveIDOverrides(); err != nil {
		return err
	}
	l.raw.printf("saved %d chunks of %s", len(keys), l.Path())
	l.logHistory(HistoryEntry{Op: OpSave, Chunks: len(keys)})
	return nil
}

func (l *Level) saveChunk(k chunkKey) (history.Revision, error) {
	dim, err := l.raw.Dimension(k.Dimension)
	if err != nil {
		return history.Revision{}, err
	}
	v, rev, err := l.chunks.GetRevision(k)
	if err != nil {
		return rev, err
	}
	if v == nil {
		return rev, dim.DeleteChunk(k.CX, k.CZ)
	}
	c, err := chunk.UnmarshalBinary(v)
	if err != nil {
		return rev, err
	}
	raw, err := dim.EncodeChunk(c, k.CX, k.CZ)
	if err != nil {
		return rev, err
	}
	return rev, dim.SetRawChunk(k.CX, k.CZ, raw)
}

// Compact compacts the region files of every dimension. Unsaved changes are
// not written first.
func (l *Level) Compact() (anvil.CompactStats, error) {
	st, err := l.raw.Compact()
	l.logHistory(HistoryEntry{Op: OpCompact, Chunks: int(st.Compacted), Bytes: st.BytesReclaimed})
	return st, err
}

// EditChunks locks the handles of coords in a global order, runs fn and
// unlocks them again. ctx bounds the wait for the locks.
func (l *Level) EditChunks(ctx context.Context, dimensionID string, coords [][2]int64, fn func(handles []*ChunkHandle) error) error {
	d, err := l.Dimension(dimensionID)
	if err != nil {
		return err
	}
	handles := make([]*ChunkHandle, 0, len(coords))
	lockers := make([]lock.Locker, 0, len(coords))
	for _, c := range coords {
		h, err := d.ChunkHandle(c[0], c[1])
		if err != nil {
			return err
		}
		handles = append(handles, h)
		lockers = append(lockers, h.ref)
	}
	unlock, err := lock.AcquireAll(ctx, lockers...)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(handles)
}

func (l *Level) resetState() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history.Reset()
	l.points = nil
	for _, d := range l.dims {
		d.release()
	}
	l.dims = map[string]*Dimension{}
}

func (l *Level) logHistory(e HistoryEntry) {
	l.mu.Lock()
	h := l.historyLogger
	l.mu.Unlock()
	if h == nil {
		return
	}
	e.Time = time.Now().UTC()
	e.Level = l.Path()
	e.UndoCount = l.history.UndoCount()
	e.RedoCount = l.history.RedoCount()
	_ = h.WriteHistory(e)
}
