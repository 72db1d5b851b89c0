package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type NamespacedID struct {
	Namespace string
	Name      string
}

func (id NamespacedID) String() string { return id.Namespace + ":" + id.Name }

// ParseNamespacedID splits "namespace:name". A bare name gets the minecraft namespace.
func ParseNamespacedID(s string) (NamespacedID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NamespacedID{}, fmt.Errorf("%w: empty", ErrBadID)
	}
	ns, name, ok := strings.Cut(s, ":")
	if !ok {
		return NamespacedID{Namespace: "minecraft", Name: s}, nil
	}
	if ns == "" || name == "" {
		return NamespacedID{}, fmt.Errorf("%w: %q", ErrBadID, s)
	}
	return NamespacedID{Namespace: ns, Name: name}, nil
}

// Item is one registered pair.
type Item struct {
	Numerical uint32
	ID        NamespacedID
}

// IdRegistry is a bidirectional mapping between numerical ids and namespaced
// ids. It is safe for concurrent use.
type IdRegistry struct {
	mu    sync.RWMutex
	byNum map[uint32]NamespacedID
	byID  map[NamespacedID]uint32
}

func New() *IdRegistry {
	return &IdRegistry{
		byNum: map[uint32]NamespacedID{},
		byID:  map[NamespacedID]uint32{},
	}
}

// Register adds n <-> id. Registering an identical pair again is a no-op.
func (r *IdRegistry) Register(n uint32, id NamespacedID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byNum[n]; ok {
		if cur == id {
			return nil
		}
		return fmt.Errorf("%w: %d already maps to %s", ErrCollision, n, cur)
	}
	if cur, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s already maps to %d", ErrCollision, id, cur)
	}
	r.byNum[n] = id
	r.byID[id] = n
	return nil
}

func (r *IdRegistry) NamespaceID(n uint32) (NamespacedID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNum[n]
	if !ok {
		return NamespacedID{}, fmt.Errorf("%w: %d", ErrNotFound, n)
	}
	return id, nil
}

func (r *IdRegistry) NumericalID(id NamespacedID) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, nil
}

// Get returns def when n is not registered.
func (r *IdRegistry) Get(n uint32, def NamespacedID) NamespacedID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byNum[n]; ok {
		return id
	}
	return def
}

func (r *IdRegistry) Contains(n uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byNum[n]
	return ok
}

func (r *IdRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byNum)
}

// Items returns a snapshot ordered by numerical id. The slice is owned by
// the caller and unaffected by later changes to the registry.
func (r *IdRegistry) Items() []Item {
	r.mu.RLock()
	out := make([]Item, 0, len(r.byNum))
	for n, id := range r.byNum {
		out = append(out, Item{Numerical: n, ID: id})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Numerical < out[j].Numerical })
	return out
}

func (r *IdRegistry) Keys() []uint32 {
	items := r.Items()
	out := make([]uint32, len(items))
	for i, it := range items {
		out[i] = it.Numerical
	}
	return out
}

func (r *IdRegistry) Values() []NamespacedID {
	items := r.Items()
	out := make([]NamespacedID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
