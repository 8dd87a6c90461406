// Package pagepool implements the PagePool of SPEC_FULL.md §4.1: a bounded
// set of long-lived browser contexts, each holding a bounded set of
// long-lived pages. Launch flags and stealth wrapping are carried over from
// the teacher's internal/fetcher/browser.go; per-handle health scoring and
// memory-driven resize are ported from
// other_examples/.../Easonliuliang-purify's engine/adaptive_pool.go.
package pagepool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/types"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var trackerBlockPatterns = []string{
	"*google-analytics.com*", "*doubleclick.net*", "*googlesyndication.com*",
	"*adsystem.com*", "*analytics*",
}

var mediaBlockPatterns = []string{"*.mp4", "*.webm", "*.mp3", "*.avi", "*.mov"}
var imageBlockPatterns = []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp", "*.svg"}

// pageContext is one long-lived incognito browsing context. Its loan
// counter — not any individual page's — governs context rotation (§4.1).
type pageContext struct {
	id        int64
	browser   *rod.Browser
	loanCount atomic.Int32
	created   time.Time
	retired   atomic.Bool
}

// PageHandle is the unit loaned out by acquire/release. Its error score
// governs page-level (not context-level) retirement, the grounding for
// which is purify's PageHandle.
type PageHandle struct {
	ID       int64
	Page     *rod.Page
	ctx      *pageContext
	errScore float64
	useCount int
	created  time.Time
	mu       sync.Mutex
}

func (h *PageHandle) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.errScore = math.Max(0, h.errScore-0.5)
}

func (h *PageHandle) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.errScore += 1.0
}

func (h *PageHandle) shouldRetire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errScore >= 3.0 || h.useCount >= 50 || time.Since(h.created) >= 50*time.Minute
}

// Pool is the PagePool of §4.1.
type Pool struct {
	cfg    config.PoolConfig
	logger *slog.Logger
	m      *metrics.Metrics

	root *rod.Browser

	mu         sync.Mutex
	contexts   map[int64]*pageContext
	nextCtxID  atomic.Int64
	nextPageID atomic.Int64

	idle    chan *PageHandle
	active  atomic.Int32
	closed  atomic.Bool
	stopped chan struct{}

	memSampleMu sync.Mutex
	onMemSample func(mb float64)
}

// New launches the headless browser and pre-creates cfg.MinContexts
// contexts of cfg.MaxPagesPerContext pages each. Initialization failure is
// fatal, per §4.1.
func New(cfg config.PoolConfig, m *metrics.Metrics, logger *slog.Logger) (*Pool, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-web-security").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled")

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	root := rod.New().ControlURL(launchURL)
	if err := root.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	p := &Pool{
		cfg:      cfg,
		logger:   logger.With("component", "pagepool"),
		m:        m,
		root:     root,
		contexts: make(map[int64]*pageContext),
		idle:     make(chan *PageHandle, cfg.MaxContexts*cfg.MaxPagesPerContext),
		stopped:  make(chan struct{}),
	}

	for i := 0; i < cfg.MinContexts; i++ {
		if err := p.createContext(); err != nil {
			return nil, fmt.Errorf("pre-create context %d: %w", i, err)
		}
	}

	go p.scalingLoop()
	return p, nil
}

func (p *Pool) createContext() error {
	p.mu.Lock()
	if len(p.contexts) >= p.cfg.MaxContexts {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	incognito, err := p.root.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}

	pc := &pageContext{id: p.nextCtxID.Add(1), browser: incognito, created: time.Now()}

	for i := 0; i < p.cfg.MaxPagesPerContext; i++ {
		h, err := p.createPage(pc)
		if err != nil {
			p.logger.Warn("failed to pre-create page", "context", pc.id, "error", err)
			continue
		}
		p.idle <- h
	}

	p.mu.Lock()
	p.contexts[pc.id] = pc
	p.mu.Unlock()
	return nil
}

func (p *Pool) createPage(pc *pageContext) (*PageHandle, error) {
	page, err := pc.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	if p.cfg.Stealth {
		if sp, err := stealth.Page(pc.browser); err == nil {
			page = sp
		}
	}

	ua := userAgents[int(pc.id)%len(userAgents)]
	_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})

	blocked := append(append([]string{}, trackerBlockPatterns...), mediaBlockPatterns...)
	if !p.cfg.EnableImages {
		blocked = append(blocked, imageBlockPatterns...)
	}
	_ = proto.NetworkSetBlockedURLs{Urls: blocked}.Call(page)

	return &PageHandle{
		ID:      p.nextPageID.Add(1),
		Page:    page,
		ctx:     pc,
		created: time.Now(),
	}, nil
}

// Acquire returns a page handle, creating a fresh context on demand if all
// contexts are fully loaned and the pool is under MaxContexts. Handles
// belonging to an already-retired context (sitting in idle when their
// context was retired) are discarded rather than handed out.
func (p *Pool) Acquire(ctx context.Context) (*PageHandle, error) {
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}

	if h, ok := p.tryIdle(); ok {
		return h, nil
	}

	p.mu.Lock()
	canGrow := len(p.contexts) < p.cfg.MaxContexts
	p.mu.Unlock()
	if canGrow {
		if err := p.createContext(); err == nil {
			if h, ok := p.tryIdle(); ok {
				return h, nil
			}
		}
	}

	for {
		select {
		case h := <-p.idle:
			if h.ctx.retired.Load() {
				_ = h.Page.Close()
				continue
			}
			p.onAcquire(h)
			return h, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryIdle non-blockingly pops a live handle from idle, discarding and
// retrying past any handle whose context has since been retired.
func (p *Pool) tryIdle() (*PageHandle, bool) {
	for {
		select {
		case h := <-p.idle:
			if h.ctx.retired.Load() {
				_ = h.Page.Close()
				continue
			}
			p.onAcquire(h)
			return h, true
		default:
			return nil, false
		}
	}
}

func (p *Pool) onAcquire(h *PageHandle) {
	p.active.Add(1)
	h.ctx.loanCount.Add(1)
	if p.m != nil {
		p.m.ActivePages.Set(float64(p.active.Load()))
	}
}

// Release returns a handle to the pool. cookies/storage are deliberately
// left untouched — only the document is reset to about:blank — per §4.1's
// explicit choice, which diverges from original_source/browser_pool.py's
// full cookie/storage clear (see DESIGN.md).
func (p *Pool) Release(h *PageHandle, success bool) {
	p.active.Add(-1)
	if p.m != nil {
		p.m.ActivePages.Set(float64(p.active.Load()))
	}

	if success {
		h.recordSuccess()
	} else {
		h.recordFailure()
	}

	if h.ctx.loanCount.Load() >= int32(p.cfg.ContextReuseLimit) {
		p.retireContext(h.ctx)
		return
	}

	if h.ctx.retired.Load() {
		_ = h.Page.Close()
		return
	}

	if h.shouldRetire() {
		// Page-level retirement: close this page and put a fresh one from
		// the same context in its place.
		_ = h.Page.Close()
		if nh, err := p.createPage(h.ctx); err == nil {
			select {
			case p.idle <- nh:
			default:
				_ = nh.Page.Close()
			}
		}
		return
	}

	_ = h.Page.Navigate("about:blank")
	select {
	case p.idle <- h:
	default:
		_ = h.Page.Close()
	}
}

// retireContext closes a context and every page in it — including idle
// siblings sitting unloaned in p.idle — replacing it with a fresh context
// of the same page count if the pool is at or below MinContexts. Guarded
// by pc.retired so a context is retired exactly once even if two loaned
// handles from the same context both trigger retirement concurrently
// (scenario S6).
func (p *Pool) retireContext(pc *pageContext) {
	if !pc.retired.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	delete(p.contexts, pc.id)
	remaining := len(p.contexts)
	p.mu.Unlock()

	p.drainIdleForContext(pc)
	_ = pc.browser.Close()

	if remaining < p.cfg.MinContexts {
		if err := p.createContext(); err != nil {
			p.logger.Warn("failed to replace retired context", "error", err)
		}
	}
}

// drainIdleForContext closes every idle handle belonging to pc and
// requeues the rest, so a retired context's siblings are never dispensed
// again via Acquire.
func (p *Pool) drainIdleForContext(pc *pageContext) {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		select {
		case h := <-p.idle:
			if h.ctx.id == pc.id {
				_ = h.Page.Close()
			} else {
				p.idle <- h
			}
		default:
			return
		}
	}
}

// Close drains and closes every page and context, then the root browser.
func (p *Pool) Close() error {
	p.closed.Store(true)
	close(p.stopped)

drain:
	for {
		select {
		case h := <-p.idle:
			_ = h.Page.Close()
		default:
			break drain
		}
	}

	p.mu.Lock()
	for id, pc := range p.contexts {
		_ = pc.browser.Close()
		delete(p.contexts, id)
	}
	p.mu.Unlock()

	return p.root.Close()
}

func (p *Pool) ActiveContexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

func (p *Pool) ActivePages() int { return int(p.active.Load()) }

// OnMemorySample registers fn to be called with each periodic memory
// sample scaleCheck takes, feeding the Throttler/Scaler/BrowserMemoryMB
// gauge the memory-pressure signal §4.9/§4.10 describe.
func (p *Pool) OnMemorySample(fn func(mb float64)) {
	p.memSampleMu.Lock()
	defer p.memSampleMu.Unlock()
	p.onMemSample = fn
}

// scalingLoop periodically samples process memory and sheds an idle page
// under memory pressure, grounded on purify's adaptive_pool.go scaleCheck.
func (p *Pool) scalingLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			p.scaleCheck()
		}
	}
}

func (p *Pool) scaleCheck() {
	var mstats runtime.MemStats
	runtime.ReadMemStats(&mstats)
	var pressure float64
	if mstats.HeapSys > 0 {
		pressure = float64(mstats.HeapInuse) / float64(mstats.HeapSys)
	}
	if p.m != nil {
		p.m.ActiveContexts.Set(float64(p.ActiveContexts()))
	}

	memMB := float64(mstats.HeapInuse) / (1024 * 1024)
	p.memSampleMu.Lock()
	onSample := p.onMemSample
	p.memSampleMu.Unlock()
	if onSample != nil {
		onSample(memMB)
	}

	if pressure <= 0.9 {
		return
	}
	// Under memory pressure, shed one idle page rather than growing further.
	select {
	case h := <-p.idle:
		_ = h.Page.Close()
		p.logger.Debug("pagepool: shed idle page under memory pressure", "page", h.ID)
	default:
	}
}
