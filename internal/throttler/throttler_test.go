package throttler

import (
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/config"
)

func testConfig() config.ThrottlerConfig {
	return config.ThrottlerConfig{
		BaseDelay:         50 * time.Millisecond,
		MaxDelay:          3 * time.Second,
		LatencyThreshold:  2 * time.Second,
		MissThreshold:     0.6,
		MemoryThresholdMB: 800.0,
	}
}

func TestCurrentDelayStartsAtBase(t *testing.T) {
	th := New(testConfig())
	if got := th.CurrentDelay(); got != testConfig().BaseDelay {
		t.Fatalf("initial delay = %v, want %v", got, testConfig().BaseDelay)
	}
}

// Invariant 8: a rate-limit event must never leave the delay lower than it
// was before the event.
func TestRateLimitEventIsMonotonic(t *testing.T) {
	th := New(testConfig())
	before := th.CurrentDelay()

	th.RecordRateLimitEvent()
	after := th.CurrentDelay()

	if after < before {
		t.Fatalf("delay decreased after rate-limit event: before=%v after=%v", before, after)
	}
	if after <= before {
		t.Fatalf("delay did not increase after rate-limit event: before=%v after=%v", before, after)
	}
}

func TestRepeatedRateLimitEventsEscalate(t *testing.T) {
	th := New(testConfig())
	th.RecordRateLimitEvent()
	first := th.currentDelay

	th.RecordRateLimitEvent()
	second := th.currentDelay

	if second <= first {
		t.Fatalf("second rate-limit event did not escalate delay: first=%v second=%v", first, second)
	}
}

func TestHighLatencyRaisesDelay(t *testing.T) {
	th := New(testConfig())
	for i := 0; i < 6; i++ {
		th.RecordNavigation(5 * time.Second)
	}
	if th.CurrentDelay() <= testConfig().BaseDelay {
		t.Fatalf("expected elevated delay after sustained high latency, got %v", th.CurrentDelay())
	}
}

func TestHighMissRateRaisesDelay(t *testing.T) {
	th := New(testConfig())
	for i := 0; i < missWindowSize; i++ {
		th.RecordCacheLookup(false)
	}
	if th.CurrentDelay() <= testConfig().BaseDelay {
		t.Fatalf("expected elevated delay after sustained cache misses, got %v", th.CurrentDelay())
	}
}

func TestMemoryPressureRaisesDelay(t *testing.T) {
	th := New(testConfig())
	th.RecordMemorySample(900.0)
	if th.CurrentDelay() <= testConfig().BaseDelay {
		t.Fatalf("expected elevated delay after memory pressure sample, got %v", th.CurrentDelay())
	}
}

func TestDelayDecaysAfterHoldWindow(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = 1 * time.Millisecond
	th := New(cfg)
	th.RecordRateLimitEvent()
	elevated := th.CurrentDelay()

	th.activeUntil = time.Now().Add(-time.Second)
	decayed := th.CurrentDelay()

	if decayed >= elevated {
		t.Fatalf("delay did not decay past hold window: elevated=%v decayed=%v", elevated, decayed)
	}
}
