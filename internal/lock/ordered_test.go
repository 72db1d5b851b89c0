package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOrderedLock_FIFOHandoff(t *testing.T) {
	l := New("a")
	l.Lock()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Lock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Unlock()
		}(i)
		waitForWaiters(t, l, i+1)
	}
	l.Unlock()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order=%v want ascending", order)
		}
	}
}

func TestOrderedLock_TryLock(t *testing.T) {
	l := New("a")
	if !l.TryLock() {
		t.Fatalf("TryLock on free lock failed")
	}
	if l.TryLock() {
		t.Fatalf("TryLock on held lock succeeded")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatalf("TryLock after unlock failed")
	}
	l.Unlock()
}

func TestOrderedLock_ContextCancel(t *testing.T) {
	l := New("a")
	l.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.LockContext(ctx); err == nil {
		t.Fatalf("expected context error")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatalf("lock should be free after cancelled waiter left")
	}
	l.Unlock()
}

// Two workers each take {A,B} in different argument order. Ordered
// acquisition means neither can deadlock the other.
func TestAcquireAll_NoDeadlock(t *testing.T) {
	a, b := New("a"), New("b")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := AcquireAll(context.Background(), a, b)
			if err != nil {
				t.Errorf("AcquireAll: %v", err)
				return
			}
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := AcquireAll(context.Background(), b, a, b)
			if err != nil {
				t.Errorf("AcquireAll: %v", err)
				return
			}
			release()
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlock")
	}
}

func TestAcquireAll_ReleasesOnFailure(t *testing.T) {
	a, b := New("a"), New("b")
	b.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := AcquireAll(ctx, b, a); err == nil {
		t.Fatalf("expected error")
	}
	if !a.TryLock() {
		t.Fatalf("a should have been released")
	}
}

func waitForWaiters(t *testing.T, l *OrderedLock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		got := len(l.waiters)
		l.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters", n)
}
