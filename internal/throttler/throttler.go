// Package throttler implements §4.9's adaptive per-submission delay, ported
// constant-for-constant from
// original_source/app/services/facebook/product/throttler.py.
package throttler

import (
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/IshaanNene/scrapehub/internal/config"
)

const (
	durationWindowSize = 15
	missWindowSize     = 20
	memoryWindowSize   = 8
	ewmaAlpha          = 0.3
	zScoreThreshold    = 2.0
)

// Throttler maintains rolling windows of navigation latency, cache-miss
// outcomes, rate-limit events, and memory samples, and derives the
// per-submission delay the TaskEngine waits out at the start of each Scrape.
type Throttler struct {
	cfg config.ThrottlerConfig

	mu sync.Mutex

	durationWindow []float64 // seconds
	ewmaLatency    float64

	missWindow []bool

	rateLimitMultiplier float64
	sawRateLimitEvent   bool

	memoryWindow []float64

	currentDelay float64 // seconds
	activeUntil  time.Time
}

func New(cfg config.ThrottlerConfig) *Throttler {
	return &Throttler{cfg: cfg, rateLimitMultiplier: 1.0, currentDelay: cfg.BaseDelay.Seconds()}
}

// RecordNavigation adds a navigation-duration sample, discarding it as
// noise if the window has enough history and the sample is beyond
// zScoreThreshold standard deviations from the mean.
func (t *Throttler) RecordNavigation(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := d.Seconds()
	if len(t.durationWindow) >= 5 {
		mean, _ := stats.Mean(t.durationWindow)
		stddev, _ := stats.StandardDeviation(t.durationWindow)
		if stddev > 0 && math.Abs(v-mean)/stddev > zScoreThreshold {
			return
		}
	}

	t.durationWindow = pushBounded(t.durationWindow, v, durationWindowSize)
	t.ewmaLatency = ewmaAlpha*v + (1-ewmaAlpha)*t.ewmaLatency
	t.recomputeLocked()
}

// RecordCacheLookup records whether a cache lookup missed.
func (t *Throttler) RecordCacheLookup(hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missWindow = pushBoundedBool(t.missWindow, !hit, missWindowSize)
	t.recomputeLocked()
}

// RecordRateLimitEvent bumps the throttle multiplier on a forced
// rate-limiter wait.
func (t *Throttler) RecordRateLimitEvent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rateLimitMultiplier = math.Min(t.rateLimitMultiplier*1.5, 10.0)
	t.sawRateLimitEvent = true
	t.recomputeLocked()
}

// RecordMemorySample records a reported browser memory sample in MB.
func (t *Throttler) RecordMemorySample(mb float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memoryWindow = pushBounded(t.memoryWindow, mb, memoryWindowSize)
	t.recomputeLocked()
}

// CurrentDelay returns the delay the caller should wait before submission,
// decaying the held delay and rate-limit multiplier once per call if the
// hold window has elapsed.
func (t *Throttler) CurrentDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.After(t.activeUntil) {
		base := t.cfg.BaseDelay.Seconds()
		t.currentDelay = math.Max(base, t.currentDelay*0.95)
		if !t.sawRateLimitEvent {
			t.rateLimitMultiplier = math.Max(1.0, t.rateLimitMultiplier*0.95)
		}
	}
	t.sawRateLimitEvent = false

	return time.Duration(t.currentDelay * float64(time.Second))
}

// recomputeLocked evaluates every delay rule and, if any suggests a higher
// delay than currently held, raises and holds it for 3x its own duration.
// Caller must hold t.mu.
func (t *Throttler) recomputeLocked() {
	base := t.cfg.BaseDelay.Seconds()
	max := t.cfg.MaxDelay.Seconds()
	suggested := base

	if threshold := t.cfg.LatencyThreshold.Seconds(); t.ewmaLatency > threshold && threshold > 0 {
		d := base * (1 + math.Log(math.Max(1, t.ewmaLatency/threshold)))
		suggested = math.Max(suggested, math.Min(d, max))
	}

	if rate := missRate(t.missWindow); rate > t.cfg.MissThreshold && t.cfg.MissThreshold > 0 {
		d := base * (1 + math.Log(rate/t.cfg.MissThreshold))
		suggested = math.Max(suggested, math.Min(d, max))
	}

	if t.sawRateLimitEvent {
		d := base * t.rateLimitMultiplier
		suggested = math.Max(suggested, math.Min(d, max))
	}

	if sample := lastOrZero(t.memoryWindow); sample > t.cfg.MemoryThresholdMB && t.cfg.MemoryThresholdMB > 0 {
		d := base * 2
		suggested = math.Max(suggested, math.Min(d, max))
	}

	if suggested > t.currentDelay {
		t.currentDelay = math.Min(suggested, max)
		t.activeUntil = time.Now().Add(time.Duration(t.currentDelay * 3 * float64(time.Second)))
	}
}

func missRate(window []bool) float64 {
	if len(window) == 0 {
		return 0
	}
	var misses int
	for _, m := range window {
		if m {
			misses++
		}
	}
	return float64(misses) / float64(len(window))
}

func lastOrZero(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	return window[len(window)-1]
}

func pushBounded(window []float64, v float64, cap int) []float64 {
	window = append(window, v)
	if len(window) > cap {
		window = window[len(window)-cap:]
	}
	return window
}

func pushBoundedBool(window []bool, v bool, cap int) []bool {
	window = append(window, v)
	if len(window) > cap {
		window = window[len(window)-cap:]
	}
	return window
}
