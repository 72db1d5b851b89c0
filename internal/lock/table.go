package lock

import (
	"sync"
	"sync/atomic"
)

// Table hands out reference counted locks keyed by string. An entry lives as
// long as at least one Ref to it is unreleased.
type Table struct {
	mu      sync.Mutex
	entries map[string]*tableEntry
}

type tableEntry struct {
	lock *OrderedLock
	refs int
}

func NewTable() *Table {
	return &Table{entries: map[string]*tableEntry{}}
}

// Shared is the process wide table used when callers don't bring their own.
var Shared = NewTable()

// Ref is one reference to a table lock.
type Ref struct {
	*OrderedLock

	table    *Table
	released atomic.Bool
}

func (t *Table) Acquire(key string) *Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	if e == nil {
		e = &tableEntry{lock: New(key)}
		t.entries[key] = e
	}
	e.refs++
	return &Ref{OrderedLock: e.lock, table: t}
}

// Len reports live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Retain returns a new independent reference to the same lock.
func (r *Ref) Retain() *Ref {
	return r.table.Acquire(r.Key())
}

// Release drops this reference. Calling it twice is a no-op.
func (r *Ref) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[r.Key()]
	if e == nil || e.lock != r.OrderedLock {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(t.entries, r.Key())
	}
}
