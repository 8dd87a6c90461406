package scaler

import (
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/types"
)

func testConfig() config.ScalerConfig {
	return config.ScalerConfig{
		MinWorkers:         1,
		MaxWorkers:         10,
		ScaleUpThreshold:   1 * time.Second,
		ScaleDownThreshold: 200 * time.Millisecond,
		QueueUpThreshold:   10,
		QueueDownThreshold: 3,
		Cooldown:           30 * time.Second,
		MemoryThresholdMB:  800.0,
		RestartCooldown:    5 * time.Minute,
	}
}

func TestScalesUpOnHighWaitP90(t *testing.T) {
	s := New(testConfig())
	for i := 0; i < 20; i++ {
		s.RecordWait(types.ModeSimple, 2*time.Second)
	}
	if got := s.GetSuggestedWorkerCount(); got != 2 {
		t.Fatalf("worker count = %d, want 2", got)
	}
	if !s.isScalingUpMode {
		t.Fatal("expected isScalingUpMode to be set")
	}
}

func TestScalesUpOnQueueLength(t *testing.T) {
	s := New(testConfig())
	s.SetQueueLength(types.ModeFull, 15)
	if got := s.GetSuggestedWorkerCount(); got != 2 {
		t.Fatalf("worker count = %d, want 2", got)
	}
}

func TestScaleDownRequiresAllModesIdle(t *testing.T) {
	s := New(testConfig())
	s.currentWorkers = 5

	for i := 0; i < 20; i++ {
		s.RecordWait(types.ModeSimple, 50*time.Millisecond)
		s.RecordWait(types.ModeFull, 50*time.Millisecond)
	}
	s.SetQueueLength(types.ModeSimple, 0)
	s.SetQueueLength(types.ModeFull, 5) // above QueueDownThreshold: blocks scale-down

	if got := s.GetSuggestedWorkerCount(); got != 5 {
		t.Fatalf("worker count = %d, want unchanged 5 (one mode still busy)", got)
	}

	s.SetQueueLength(types.ModeFull, 1)
	s.lastScaledAt = time.Time{}
	if got := s.GetSuggestedWorkerCount(); got != 4 {
		t.Fatalf("worker count = %d, want 4 after all modes idle", got)
	}
}

// Invariant 7: consecutive scaling decisions must be spaced at least
// Cooldown apart.
func TestCooldownBlocksImmediateRescale(t *testing.T) {
	s := New(testConfig())
	s.SetQueueLength(types.ModeSimple, 20)

	first := s.GetSuggestedWorkerCount()
	second := s.GetSuggestedWorkerCount()

	if first != 2 {
		t.Fatalf("first suggestion = %d, want 2", first)
	}
	if second != first {
		t.Fatalf("second suggestion = %d, want unchanged %d within cooldown", second, first)
	}
}

func TestNeverScalesBelowMinOrAboveMax(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	s := New(cfg)

	for i := 0; i < 50; i++ {
		s.SetQueueLength(types.ModeSimple, 20)
		if got := s.GetSuggestedWorkerCount(); got > cfg.MaxWorkers {
			t.Fatalf("worker count %d exceeded max %d", got, cfg.MaxWorkers)
		}
	}
}

func TestShouldRestartWorkersHonorsThresholdAndCooldown(t *testing.T) {
	s := New(testConfig())
	if s.ShouldRestartWorkers(500.0) {
		t.Fatal("should not restart below memory threshold")
	}
	if !s.ShouldRestartWorkers(900.0) {
		t.Fatal("expected restart above memory threshold")
	}
	if s.ShouldRestartWorkers(900.0) {
		t.Fatal("restart cooldown should block an immediate second restart")
	}
}
