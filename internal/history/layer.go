package history

import "fmt"

type entry[V any] struct {
	bin   int
	value V
}

type resource[V any] struct {
	entries []entry[V]
	// saved is the entry index that matches persisted state, -1 when none does.
	saved int
	// gen changes on every write to entries.
	gen uint64
}

// Revision identifies the value GetRevision returned for one resource.
type Revision struct {
	index int
	gen   uint64
}

func (r *resource[V]) visible(cursor int) int {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].bin <= cursor {
			return i
		}
	}
	return 0
}

// Layer is the history of one kind of resource.
type Layer[K comparable, V any] struct {
	m         *Manager
	resources map[K]*resource[V]
}

// NewLayer registers a new layer with m.
func NewLayer[K comparable, V any](m *Manager) *Layer[K, V] {
	l := &Layer[K, V]{m: m, resources: map[K]*resource[V]{}}
	m.mu.Lock()
	m.layers = append(m.layers, l)
	m.mu.Unlock()
	return l
}

// SetInitialValue records the original state of k. It does nothing when k
// already has history.
func (l *Layer[K, V]) SetInitialValue(k K, v V) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if _, ok := l.resources[k]; ok {
		return
	}
	l.resources[k] = &resource[V]{entries: []entry[V]{{bin: 0, value: v}}, saved: 0}
}

// SetValue writes v into the current bin.
func (l *Layer[K, V]) SetValue(k K, v V, mode InitMode) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if _, ok := l.resources[k]; !ok && mode == InitError {
		return fmt.Errorf("%w: %v", ErrUnknownResource, k)
	}
	l.m.discardRedoLocked()
	l.setLocked(k, v, mode)
	return nil
}

// Pair is one key and value for SetValues.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// SetValues writes every pair or, when one of them would be rejected, none.
func (l *Layer[K, V]) SetValues(pairs []Pair[K, V], mode InitMode) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if mode == InitError {
		for _, p := range pairs {
			if _, ok := l.resources[p.Key]; !ok {
				return fmt.Errorf("%w: %v", ErrUnknownResource, p.Key)
			}
		}
	}
	l.m.discardRedoLocked()
	for _, p := range pairs {
		l.setLocked(p.Key, p.Value, mode)
	}
	return nil
}

func (l *Layer[K, V]) setLocked(k K, v V, mode InitMode) {
	cursor := l.m.cursor
	r, ok := l.resources[k]
	if !ok {
		var initial V
		if mode == InitValue {
			initial = v
		}
		// The original state was never read from storage so nothing is saved yet.
		r = &resource[V]{entries: []entry[V]{{bin: 0, value: initial}}, saved: -1}
		l.resources[k] = r
	}
	r.gen++
	last := &r.entries[len(r.entries)-1]
	if last.bin == cursor {
		last.value = v
		if r.saved == len(r.entries)-1 {
			r.saved = -1
		}
		return
	}
	r.entries = append(r.entries, entry[V]{bin: cursor, value: v})
}

func (l *Layer[K, V]) GetValue(k K) (V, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	r, ok := l.resources[k]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %v", ErrUnknownResource, k)
	}
	return r.entries[r.visible(l.m.cursor)].value, nil
}

// GetRevision returns the visible value of k and a Revision to hand to
// MarkSavedAt once that value is persisted.
func (l *Layer[K, V]) GetRevision(k K) (V, Revision, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	r, ok := l.resources[k]
	if !ok {
		var zero V
		return zero, Revision{}, fmt.Errorf("%w: %v", ErrUnknownResource, k)
	}
	i := r.visible(l.m.cursor)
	return r.entries[i].value, Revision{index: i, gen: r.gen}, nil
}

// MarkSavedAt records the revisions in revs as saved. A resource written
// since its revision was taken keeps its previous saved state.
func (l *Layer[K, V]) MarkSavedAt(revs map[K]Revision) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	for k, rev := range revs {
		r, ok := l.resources[k]
		if !ok || r.gen != rev.gen || rev.index >= len(r.entries) {
			continue
		}
		r.saved = rev.index
	}
}

func (l *Layer[K, V]) Has(k K) bool {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	_, ok := l.resources[k]
	return ok
}

// HasChanged reports whether the visible state of k differs from the saved one.
func (l *Layer[K, V]) HasChanged(k K) bool {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	r, ok := l.resources[k]
	if !ok {
		return false
	}
	return r.visible(l.m.cursor) != r.saved
}

// Resources returns every key with history.
func (l *Layer[K, V]) Resources() []K {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	out := make([]K, 0, len(l.resources))
	for k := range l.resources {
		out = append(out, k)
	}
	return out
}

// ChangedKeys returns the keys whose visible state differs from the saved one.
func (l *Layer[K, V]) ChangedKeys() []K {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	var out []K
	for k, r := range l.resources {
		if r.visible(l.m.cursor) != r.saved {
			out = append(out, k)
		}
	}
	return out
}

func (l *Layer[K, V]) truncate(after int) {
	for _, r := range l.resources {
		n := len(r.entries)
		for n > 1 && r.entries[n-1].bin > after {
			n--
		}
		if n == len(r.entries) {
			continue
		}
		clear(r.entries[n:])
		r.entries = r.entries[:n]
		r.gen++
		if r.saved >= n {
			r.saved = -1
		}
	}
}

func (l *Layer[K, V]) markSaved(cursor int) {
	for _, r := range l.resources {
		r.saved = r.visible(cursor)
	}
}

func (l *Layer[K, V]) reset() {
	l.resources = map[K]*resource[V]{}
}
