package singleflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/types"
)

// TestCoalescesConcurrentCallers is the S2 scenario, shortened: 20
// concurrent callers for the same key with a 100ms-long scrape must invoke
// fn exactly once.
func TestCoalescesConcurrentCallers(t *testing.T) {
	l := NewLocal(5 * time.Second)
	var invocations int32

	fn := func(ctx context.Context) (*types.Result, error) {
		atomic.AddInt32(&invocations, 1)
		time.Sleep(100 * time.Millisecond)
		return &types.Result{URL: "https://site/a", Success: true}, nil
	}

	var wg sync.WaitGroup
	var coalesced int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err, shared := l.Do(context.Background(), "key-a", fn)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if shared {
				atomic.AddInt32(&coalesced, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&invocations); got != 1 {
		t.Fatalf("fn invoked %d times, want exactly 1", got)
	}
	if got := atomic.LoadInt32(&coalesced); got < 19 {
		t.Fatalf("coalesced = %d, want >= 19", got)
	}
}

func TestAwaitTimeoutDoesNotCancelLeader(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)
	done := make(chan struct{})

	fn := func(ctx context.Context) (*types.Result, error) {
		time.Sleep(200 * time.Millisecond)
		close(done)
		return &types.Result{URL: "https://site/b", Success: true}, nil
	}

	_, err, _ := l.Do(context.Background(), "key-b", fn)
	if err != types.ErrNoLeaderResult {
		t.Fatalf("err = %v, want ErrNoLeaderResult", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("leader goroutine should keep running past the caller's timeout")
	}
}
