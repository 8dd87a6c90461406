// Package singleflight implements §4.5: in-process coalescing of
// concurrent requests for the same key, plus an optional cross-process
// leader/follower protocol over Redis. Ported from
// original_source/app/services/facebook/product/task_engine.py's
// PureSingleFlight and RedisCoordination classes.
package singleflight

import (
	"context"
	"sync"
	"time"

	"github.com/IshaanNene/scrapehub/internal/types"
)

// ScrapeFunc performs the actual scrape. It is invoked exactly once per key
// per leader election, regardless of how many callers are waiting.
type ScrapeFunc func(context.Context) (*types.Result, error)

type call struct {
	done   chan struct{}
	result *types.Result
	err    error
}

// Local coalesces concurrent in-process callers for the same key into one
// ScrapeFunc invocation. The default await timeout is 45s, matching
// PureSingleFlight's hard ceiling.
type Local struct {
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]*call
}

func NewLocal(timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Local{timeout: timeout, inflight: make(map[string]*call)}
}

// Do runs fn for key if no invocation is already in flight, otherwise waits
// on the existing one. The bool return reports whether this caller shared
// an existing leader's invocation (coalesced) or started it (direct).
func (l *Local) Do(ctx context.Context, key string, fn ScrapeFunc) (*types.Result, error, bool) {
	l.mu.Lock()
	if c, ok := l.inflight[key]; ok {
		l.mu.Unlock()
		result, err := l.await(ctx, c)
		return result, err, true
	}

	c := &call{done: make(chan struct{})}
	l.inflight[key] = c
	l.mu.Unlock()

	go func() {
		// The leader's work is not bound to any one caller's context: a
		// caller abandoning its await must not cancel work that other
		// followers are depending on.
		leaderCtx, cancel := context.WithTimeout(context.Background(), 2*l.timeout)
		defer cancel()
		c.result, c.err = fn(leaderCtx)
		close(c.done)

		l.mu.Lock()
		delete(l.inflight, key)
		l.mu.Unlock()
	}()

	result, err := l.await(ctx, c)
	return result, err, false
}

func (l *Local) await(ctx context.Context, c *call) (*types.Result, error) {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.result, c.err
	case <-timer.C:
		return nil, types.ErrNoLeaderResult
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
