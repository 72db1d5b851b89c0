// Package history records per-key value snapshots grouped into undo bins.
//
// A Manager owns the bin cursor; any number of typed Layers share it. Each
// resource in a layer keeps the values written to it tagged with the bin they
// were written in, and the visible value is the newest one at or before the
// cursor. Keys that are never touched after a bin is created cost nothing.
package history

import (
	"errors"
	"sync"
)

// ErrUnknownResource is returned when a key has no history in a layer.
var ErrUnknownResource = errors.New("history: unknown resource")

// InitMode decides what happens when a value is set for a key the layer has
// never seen.
type InitMode int

const (
	// InitError rejects the write.
	InitError InitMode = iota
	// InitEmpty records the zero value as the original state.
	InitEmpty
	// InitValue records the written value as the original state.
	InitValue
)

func (m InitMode) String() string {
	switch m {
	case InitError:
		return "error"
	case InitEmpty:
		return "empty"
	case InitValue:
		return "value"
	default:
		return "unknown"
	}
}

type layerState interface {
	truncate(after int)
	markSaved(cursor int)
	reset()
}

type Manager struct {
	mu     sync.Mutex
	cursor int
	bins   int
	layers []layerState
}

func NewManager() *Manager {
	return &Manager{}
}

// CreateUndoBin starts a new restore point. Redo state is discarded.
func (m *Manager) CreateUndoBin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardRedoLocked()
	m.cursor++
	m.bins = m.cursor
}

func (m *Manager) Undo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor > 0 {
		m.cursor--
	}
}

func (m *Manager) Redo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor < m.bins {
		m.cursor++
	}
}

func (m *Manager) UndoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

func (m *Manager) RedoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bins - m.cursor
}

// MarkSaved records the visible state of every resource as the saved state.
func (m *Manager) MarkSaved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.layers {
		l.markSaved(m.cursor)
	}
}

// Reset forgets all bins and every resource of every layer.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = 0
	m.bins = 0
	for _, l := range m.layers {
		l.reset()
	}
}

func (m *Manager) discardRedoLocked() {
	if m.bins <= m.cursor {
		return
	}
	for _, l := range m.layers {
		l.truncate(m.cursor)
	}
	m.bins = m.cursor
}
