// Package engine implements the TaskEngine of SPEC_FULL.md §4.8: the
// per-URL pipeline that strings together the Throttler, the two-tier
// cache, SingleFlight, the RateLimiter, the PagePool, the Fetcher and the
// Extractor. Step order and retry policy are ported from
// original_source/app/services/facebook/product/task_engine.py's
// process_url.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/scrapehub/internal/cache"
	"github.com/IshaanNene/scrapehub/internal/cachekey"
	"github.com/IshaanNene/scrapehub/internal/extractor"
	"github.com/IshaanNene/scrapehub/internal/fetcher"
	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/pagepool"
	"github.com/IshaanNene/scrapehub/internal/ratelimit"
	"github.com/IshaanNene/scrapehub/internal/singleflight"
	"github.com/IshaanNene/scrapehub/internal/throttler"
	"github.com/IshaanNene/scrapehub/internal/types"
)

const maxAttempts = 3

// Engine is the TaskEngine: one instance is shared by every worker goroutine.
type Engine struct {
	pool      *pagepool.Pool
	limiter   *ratelimit.Limiter
	cache     *cache.Tiered
	coord     *singleflight.Coordinator
	fetcher   *fetcher.Fetcher
	extractor *extractor.Extractor
	throttle  *throttler.Throttler
	cacheTTL  time.Duration
	negTTL    time.Duration
	m         *metrics.Metrics
	logger    *slog.Logger
}

func New(
	pool *pagepool.Pool,
	limiter *ratelimit.Limiter,
	tiered *cache.Tiered,
	coord *singleflight.Coordinator,
	f *fetcher.Fetcher,
	ex *extractor.Extractor,
	th *throttler.Throttler,
	cacheTTL, negTTL time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		pool: pool, limiter: limiter, cache: tiered, coord: coord,
		fetcher: f, extractor: ex, throttle: th,
		cacheTTL: cacheTTL, negTTL: negTTL, m: m,
		logger: logger.With("component", "engine"),
	}
}

// Scrape runs the full pipeline for one URL under mode, returning a Result
// that is never nil on a nil error.
func (e *Engine) Scrape(ctx context.Context, rawURL string, mode types.Mode) (*types.Result, error) {
	if !mode.Valid() {
		return nil, &types.ScrapeError{Kind: types.ErrInput, URL: rawURL, Err: fmt.Errorf("invalid mode %q", mode)}
	}

	if delay := e.throttle.CurrentDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key, err := cachekey.Key(rawURL, string(mode))
	if err != nil {
		return nil, &types.ScrapeError{Kind: types.ErrInput, URL: rawURL, Err: err}
	}

	if entry, ok := e.cache.Get(ctx, key); ok {
		e.throttle.RecordCacheLookup(true)
		result := *entry.Payload
		result.FromCache = true
		return &result, resultError(&result)
	}
	e.throttle.RecordCacheLookup(false)

	if e.m != nil {
		e.m.ScrapesTotal.WithLabelValues(string(mode)).Inc()
	}

	result, err := e.coord.Do(ctx, key, rawURL, mode, func(ctx context.Context) (*types.Result, error) {
		return e.scrapeWithRetry(ctx, rawURL, mode)
	})
	if err != nil && result == nil {
		return nil, err
	}

	e.store(ctx, key, result)
	return result, resultError(result)
}

// scrapeWithRetry is the SingleFlight leader body: up to maxAttempts
// fetch+extract attempts with 2^n second backoff between them.
func (e *Engine) scrapeWithRetry(ctx context.Context, rawURL string, mode types.Mode) (*types.Result, error) {
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return e.failureResult(rawURL, mode, ctx.Err()), ctx.Err()
			}
		}

		result, err := e.attempt(ctx, rawURL, mode)
		if err == nil {
			return result, nil
		}
		last = err

		if kind := types.ClassifyError(err); kind == types.ErrCheckpoint || kind == types.ErrInput {
			break // not worth retrying
		}
	}
	return e.failureResult(rawURL, mode, last), last
}

// attempt runs one rate-limited, page-bound fetch+extract.
func (e *Engine) attempt(ctx context.Context, rawURL string, mode types.Mode) (*types.Result, error) {
	start := time.Now()

	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.limiter.Release()

	handle, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, &types.ScrapeError{Kind: types.ErrInternal, URL: rawURL, Err: err}
	}

	outcome, err := e.fetcher.Fetch(ctx, handle, rawURL, mode)
	if err != nil {
		e.pool.Release(handle, false)
		e.throttle.RecordNavigation(time.Since(start))
		return nil, err
	}
	e.throttle.RecordNavigation(outcome.NavigationTime)

	extractStart := time.Now()
	html, err := handle.Page.HTML()
	if err != nil {
		e.pool.Release(handle, false)
		return nil, &types.ScrapeError{Kind: types.ErrExtraction, URL: rawURL, Err: err}
	}

	payload, err := e.extractor.Extract(html, outcome.FinalURL, mode)
	e.pool.Release(handle, err == nil)
	if err != nil {
		return nil, err
	}
	extractionTime := time.Since(extractStart)

	return &types.Result{
		URL:            outcome.FinalURL,
		Mode:           mode,
		Success:        true,
		ScrapeTime:     time.Since(start),
		NavigationTime: outcome.NavigationTime,
		ExtractionTime: extractionTime,
		Timestamp:      time.Now(),
		Payload:        payload,
	}, nil
}

func (e *Engine) failureResult(rawURL string, mode types.Mode, err error) *types.Result {
	kind := types.ClassifyError(err)
	var se *types.ScrapeError
	if as, ok := err.(*types.ScrapeError); ok {
		se = as
		kind = se.Kind
	}
	if e.m != nil {
		e.m.ScrapesFailedTotal.WithLabelValues(string(kind), string(mode)).Inc()
		if kind == types.ErrRateLimited {
			e.m.RateLimitsTotal.Inc()
		}
		if kind == types.ErrCheckpoint {
			e.m.CheckpointsTotal.Inc()
		}
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &types.Result{
		URL: rawURL, Mode: mode, Success: false,
		Timestamp: time.Now(), Error: msg, ErrorKind: kind,
	}
}

// store writes a completed result to both cache tiers, using the shorter
// negative TTL for cacheable failures and skipping the write entirely for
// transient/uncacheable ones.
func (e *Engine) store(ctx context.Context, key string, result *types.Result) {
	if result == nil {
		return
	}
	if result.Success {
		if e.m != nil {
			e.m.ScrapesSuccessTotal.WithLabelValues(string(result.Mode)).Inc()
			e.m.ScrapeDuration.WithLabelValues(string(result.Mode)).Observe(result.ScrapeTime.Seconds())
		}
		e.cache.Put(ctx, key, result, e.cacheTTL)
		return
	}
	if result.ErrorKind.NegativeCacheable() {
		e.cache.Put(ctx, key, result, e.negTTL)
	}
}

func resultError(r *types.Result) error {
	if r == nil || r.Success {
		return nil
	}
	return &types.ScrapeError{Kind: r.ErrorKind, URL: r.URL, Err: fmt.Errorf("%s", r.Error)}
}
