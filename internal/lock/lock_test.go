package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLockerTryLock(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "user-1/2026-01-05/*")
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := l.TryLock(ctx, "user-1/2026-01-05/*"); ok {
		t.Error("second TryLock on held key should fail")
	}
	if u, ok, _ := l.TryLock(ctx, "user-2/2026-01-05/*"); !ok {
		t.Error("TryLock on a different key should succeed")
	} else {
		u()
	}

	unlock()
	unlock() // idempotent

	u, ok, _ := l.TryLock(ctx, "user-1/2026-01-05/*")
	if !ok {
		t.Fatal("TryLock after unlock should succeed")
	}
	u()
}

func TestMemoryLockerLockSerializes(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "user-1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak holders = %d, want 1", peak.Load())
	}
}

func TestMemoryLockerLockHonorsContext(t *testing.T) {
	l := NewMemoryLocker()
	unlock, _ := l.Lock(context.Background(), "user-1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := l.Lock(ctx, "user-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
