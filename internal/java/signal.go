package java

import "sync"

// Token identifies one connected callback.
type Token uint64

// Signal is a list of callbacks run synchronously in connection order.
type Signal[T any] struct {
	mu    sync.Mutex
	next  Token
	slots []slot[T]
}

type slot[T any] struct {
	token Token
	fn    func(T)
}

func (s *Signal[T]) Connect(fn func(T)) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.slots = append(s.slots, slot[T]{token: s.next, fn: fn})
	return s.next
}

// Disconnect removes the callback registered under t. It reports whether
// one was found.
func (s *Signal[T]) Disconnect(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.slots {
		if sl.token == t {
			s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every connected callback with v. Callbacks may connect or
// disconnect while it runs; such changes apply to the next Emit.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := append([]slot[T](nil), s.slots...)
	s.mu.Unlock()
	for _, sl := range slots {
		sl.fn(v)
	}
}
