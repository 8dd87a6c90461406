// Package scrapehub provides a public SDK for embedding the scrape
// pipeline as a library, adapted from the teacher's pkg/webstalk
// functional-options Crawler facade to this service's PagePool /
// RateLimiter / Cache / SingleFlight / Throttler / Scaler / WorkerPool
// stack.
//
// Example usage:
//
//	client, err := scrapehub.New(nil,
//	    scrapehub.WithMaxConcurrent(6),
//	    scrapehub.WithCacheTTL(10*time.Minute),
//	)
//	if err != nil { ... }
//	defer client.Close()
//
//	result, err := client.ScrapeOne(ctx, "https://example.com/post", types.ModeSimple)
package scrapehub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/scrapehub/internal/cache"
	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/engine"
	"github.com/IshaanNene/scrapehub/internal/extractor"
	"github.com/IshaanNene/scrapehub/internal/fetcher"
	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/pagepool"
	"github.com/IshaanNene/scrapehub/internal/ratelimit"
	"github.com/IshaanNene/scrapehub/internal/scaler"
	"github.com/IshaanNene/scrapehub/internal/singleflight"
	"github.com/IshaanNene/scrapehub/internal/throttler"
	"github.com/IshaanNene/scrapehub/internal/types"
	"github.com/IshaanNene/scrapehub/internal/worker"
)

// Option configures the Config a Client is built from.
type Option func(*config.Config)

func WithMaxConcurrent(n int) Option {
	return func(c *config.Config) { c.RateLimit.MaxConcurrent = n }
}

func WithMaxRequestsPerMinute(n int) Option {
	return func(c *config.Config) { c.RateLimit.MaxRequestsPerMinute = n }
}

func WithCacheTTL(d time.Duration) Option {
	return func(c *config.Config) { c.Cache.TTL = d }
}

func WithL2URL(url string) Option {
	return func(c *config.Config) { c.Cache.L2URL = url }
}

func WithHeadless(headless bool) Option {
	return func(c *config.Config) { c.Pool.Headless = headless }
}

func WithWorkerBounds(min, max int) Option {
	return func(c *config.Config) { c.Scaler.MinWorkers = min; c.Scaler.MaxWorkers = max }
}

// Client is the embeddable facade over the full scrape pipeline: one
// PagePool, one TaskEngine, and the WorkerPool that drives it.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	pool  *pagepool.Pool
	wpool *worker.Pool
	eng   *engine.Engine
	m     *metrics.Metrics
}

// New builds and starts a Client: launches the browser pool and spins up
// the worker pool at the Scaler's minimum count.
func New(logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New()

	pool, err := pagepool.New(cfg.Pool, m, logger)
	if err != nil {
		return nil, fmt.Errorf("start page pool: %w", err)
	}

	l1 := cache.NewL1(cfg.Cache.L1Capacity, m)
	l2, err := cache.NewL2(cfg.Cache.L2URL, m)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connect l2 cache: %w", err)
	}
	tiered := cache.NewTiered(l1, l2)

	coord := singleflight.New(l2.Client(), 45*time.Second, 30*time.Second, m)

	th := throttler.New(cfg.Throttler)
	limiter := ratelimit.New(cfg.RateLimit.MaxConcurrent, cfg.RateLimit.MaxRequestsPerMinute,
		func(time.Duration) { th.RecordRateLimitEvent() })

	f := fetcher.New(m, logger)
	ex := extractor.New(m, logger)

	eng := engine.New(pool, limiter, tiered, coord, f, ex, th, cfg.Cache.TTL, cfg.Cache.NegativeTTL, m, logger)

	sc := scaler.New(cfg.Scaler)
	wpool := worker.New(cfg.Worker, eng, sc, m, logger)

	pool.OnMemorySample(func(mb float64) {
		th.RecordMemorySample(mb)
		wpool.ReportMemorySample(mb)
		if m != nil {
			m.BrowserMemoryMB.WithLabelValues("root").Set(mb)
		}
	})

	return &Client{cfg: cfg, logger: logger, pool: pool, wpool: wpool, eng: eng, m: m}, nil
}

// ScrapeOne runs the pipeline for a single URL and blocks for its result.
func (c *Client) ScrapeOne(ctx context.Context, url string, mode types.Mode) (*types.Result, error) {
	return c.eng.Scrape(ctx, url, mode)
}

// Submit splits urls into ChunkSize-sized Jobs (§4.11) and enqueues each
// for asynchronous processing; poll the returned Jobs for progress.
func (c *Client) Submit(id string, urls []string, mode types.Mode) []*types.Job {
	chunks := types.ChunkURLs(urls, c.cfg.Worker.ChunkSize)
	jobs := make([]*types.Job, 0, len(chunks))
	for i, chunk := range chunks {
		job := types.NewJob(fmt.Sprintf("%s-%d", id, i), chunk, mode)
		c.wpool.Submit(job)
		jobs = append(jobs, job)
	}
	return jobs
}

// Stream splits urls into ChunkSize-sized Jobs (§4.11), enqueues each, and
// returns one channel merging every chunk's Results in completion order.
func (c *Client) Stream(id string, urls []string, mode types.Mode) <-chan *types.Result {
	chunks := types.ChunkURLs(urls, c.cfg.Worker.ChunkSize)
	chans := make([]<-chan *types.Result, 0, len(chunks))
	for i, chunk := range chunks {
		job := types.NewJob(fmt.Sprintf("%s-%d", id, i), chunk, mode)
		chans = append(chans, c.wpool.SubmitStream(job))
	}
	return mergeResults(chans, len(urls))
}

// mergeResults fans multiple per-chunk result channels into one, buffered
// to capacity so a consumer that stops reading early never blocks a
// sender goroutine.
func mergeResults(chans []<-chan *types.Result, capacity int) <-chan *types.Result {
	out := make(chan *types.Result, capacity)
	var wg sync.WaitGroup
	wg.Add(len(chans))
	for _, ch := range chans {
		go func(c <-chan *types.Result) {
			defer wg.Done()
			for r := range c {
				out <- r
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Close stops the worker pool and the underlying browser pool.
func (c *Client) Close() error {
	c.wpool.Close()
	return c.pool.Close()
}
