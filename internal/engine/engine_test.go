package engine

import (
	"context"
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/cache"
	"github.com/IshaanNene/scrapehub/internal/cachekey"
	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/throttler"
	"github.com/IshaanNene/scrapehub/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *cache.Tiered) {
	t.Helper()
	l1 := cache.NewL1(100, nil)
	tiered := cache.NewTiered(l1, nil)
	th := throttler.New(config.ThrottlerConfig{
		BaseDelay: 0, MaxDelay: time.Second, LatencyThreshold: 2 * time.Second,
		MissThreshold: 0.6, MemoryThresholdMB: 800,
	})
	e := &Engine{
		cache:    tiered,
		throttle: th,
		cacheTTL: 10 * time.Minute,
		negTTL:   30 * time.Second,
		logger:   nilLogger(),
	}
	return e, tiered
}

// A cache hit must short-circuit before touching SingleFlight, the
// RateLimiter, or the PagePool — all left nil here, so any attempt to use
// them would panic.
func TestScrapeReturnsCachedResultWithoutTouchingPipeline(t *testing.T) {
	e, tiered := newTestEngine(t)
	ctx := context.Background()

	key, err := cachekey.Key("https://example.com/post", string(types.ModeSimple))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	cached := &types.Result{URL: "https://example.com/post", Mode: types.ModeSimple, Success: true}
	tiered.Put(ctx, key, cached, time.Minute)

	result, err := e.Scrape(ctx, "https://example.com/post", types.ModeSimple)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if !result.FromCache {
		t.Fatal("expected FromCache to be true")
	}
	if !result.Success {
		t.Fatal("expected cached success result")
	}
}

func TestScrapeRejectsInvalidMode(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Scrape(context.Background(), "https://example.com", types.Mode("bogus"))
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	var se *types.ScrapeError
	if as, ok := err.(*types.ScrapeError); ok {
		se = as
	}
	if se == nil || se.Kind != types.ErrInput {
		t.Fatalf("expected input_error, got %v", err)
	}
}

func TestStoreUsesNegativeTTLForCacheableFailures(t *testing.T) {
	e, tiered := newTestEngine(t)
	ctx := context.Background()
	key, _ := cachekey.Key("https://example.com/fail", string(types.ModeSimple))

	failure := &types.Result{
		URL: "https://example.com/fail", Mode: types.ModeSimple,
		Success: false, ErrorKind: types.ErrNavigation, Error: "navigate: timeout",
	}
	e.store(ctx, key, failure)

	entry, ok := tiered.Get(ctx, key)
	if !ok {
		t.Fatal("expected cacheable failure to be negatively cached")
	}
	if entry.Payload.Success {
		t.Fatal("cached entry should record the failure")
	}
	if entry.TTL != e.negTTL {
		t.Fatalf("entry TTL = %v, want negative TTL %v", entry.TTL, e.negTTL)
	}
}

func TestStoreSkipsUncacheableFailures(t *testing.T) {
	e, tiered := newTestEngine(t)
	ctx := context.Background()
	key, _ := cachekey.Key("https://example.com/unavailable", string(types.ModeSimple))

	failure := &types.Result{
		URL: "https://example.com/unavailable", Mode: types.ModeSimple,
		Success: false, ErrorKind: types.ErrServiceUnavailable,
	}
	e.store(ctx, key, failure)

	if _, ok := tiered.Get(ctx, key); ok {
		t.Fatal("service_unavailable must not be negatively cached")
	}
}
