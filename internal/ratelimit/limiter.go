// Package ratelimit implements the RateLimiter of SPEC_FULL.md §4.2: a
// global concurrency semaphore plus a 60-second sliding window of
// request-start timestamps, recorded when a request is admitted. The algorithm — including the "release the
// concurrency slot while waiting out the window" trick — is ported from
// original_source/app/services/facebook/product/rate_limiter.py.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter enforces both a concurrency ceiling and a requests-per-minute cap.
type Limiter struct {
	sem *semaphore.Weighted

	mu         sync.Mutex
	timestamps *list.List // time.Time, oldest at Front
	maxRPM     int

	onWait func(wait time.Duration) // signal hook for the Throttler
}

// New creates a Limiter admitting at most maxConcurrent in-flight fetches
// and maxRPM fetch starts per rolling 60-second window.
func New(maxConcurrent, maxRPM int, onWait func(time.Duration)) *Limiter {
	if onWait == nil {
		onWait = func(time.Duration) {}
	}
	return &Limiter{
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		timestamps: list.New(),
		maxRPM:     maxRPM,
		onWait:     onWait,
	}
}

// Acquire blocks until a concurrency slot is free and the sliding window
// admits a new request start. It releases the concurrency slot while
// waiting out the window so unrelated traffic is not blocked by one
// caller's rate-limit wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	for {
		now := time.Now()
		l.mu.Lock()
		l.trim(now)
		if l.timestamps.Len() < l.maxRPM {
			l.timestamps.PushBack(now)
			l.mu.Unlock()
			return nil
		}
		oldest := l.timestamps.Front().Value.(time.Time)
		wait := 60*time.Second - now.Sub(oldest)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		l.onWait(wait)
		l.sem.Release(1)

		timer := time.NewTimer(wait + 50*time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if err := l.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
}

// Release returns the concurrency slot. It is safe to call exactly once
// per successful Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// trim drops timestamps older than 60s. Caller must hold l.mu.
func (l *Limiter) trim(now time.Time) {
	for e := l.timestamps.Front(); e != nil; {
		next := e.Next()
		if now.Sub(e.Value.(time.Time)) >= 60*time.Second {
			l.timestamps.Remove(e)
		}
		e = next
	}
}

// WindowCount reports the number of request starts in the current 60s
// window, for tests and admin introspection.
func (l *Limiter) WindowCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(time.Now())
	return l.timestamps.Len()
}
