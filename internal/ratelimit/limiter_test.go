package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireReleaseRespectsConcurrency(t *testing.T) {
	l := New(2, 1000, nil)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while 2 slots are held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should unblock after a release")
	}
	l.Release()
	l.Release()
}

func TestWindowEnforcesRequestsPerMinute(t *testing.T) {
	var waited int32
	l := New(10, 3, func(time.Duration) { atomic.AddInt32(&waited, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		l.Release()
	}

	if got := l.WindowCount(); got != 3 {
		t.Fatalf("window count = %d, want 3", got)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		shortCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if err := l.Acquire(shortCtx); err == nil {
			t.Error("expected 4th acquire within the window to block past the short timeout")
		}
	}()
	wg.Wait()

	if atomic.LoadInt32(&waited) == 0 {
		t.Fatal("expected onWait to fire when the window is saturated")
	}
}
