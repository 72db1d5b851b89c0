package lock

import (
	"context"
	"sort"
	"sync"
)

// OrderedLock is a mutual exclusion lock that hands ownership to waiters in
// the order they asked for it. It is not reentrant.
type OrderedLock struct {
	key string

	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func New(key string) *OrderedLock {
	return &OrderedLock{key: key}
}

// Key orders locks for AcquireAll.
func (l *OrderedLock) Key() string { return l.key }

func (l *OrderedLock) Lock() {
	_ = l.LockContext(context.Background())
}

// LockContext blocks until the lock is held or ctx is done.
func (l *OrderedLock) LockContext(ctx context.Context) error {
	l.mu.Lock()
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Ownership was handed over while we gave up; pass it on.
		l.Unlock()
		return ctx.Err()
	}
}

func (l *OrderedLock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held || len(l.waiters) > 0 {
		return false
	}
	l.held = true
	return true
}

func (l *OrderedLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("lock: unlock of unlocked OrderedLock " + l.key)
	}
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next)
		return
	}
	l.held = false
}

// Locker is satisfied by *OrderedLock and *Ref.
type Locker interface {
	Key() string
	LockContext(ctx context.Context) error
	Unlock()
}

// AcquireAll locks every distinct key in ascending key order. On failure the
// locks already taken are released. The returned func unlocks in reverse order.
func AcquireAll(ctx context.Context, locks ...Locker) (func(), error) {
	sorted := make([]Locker, 0, len(locks))
	for _, l := range locks {
		if l != nil {
			sorted = append(sorted, l)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	held := make([]Locker, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
	for i, l := range sorted {
		if i > 0 && sorted[i-1].Key() == l.Key() {
			continue
		}
		if err := l.LockContext(ctx); err != nil {
			release()
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}
