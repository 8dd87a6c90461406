// Package scaler implements §4.10's worker-count controller, ported
// constant-for-constant from
// original_source/app/services/facebook/product/scaler.py: asymmetric
// scale-up (OR of wait-time/queue-length pressure) vs scale-down (AND of
// both being comfortably low), a shared cooldown between scaling actions,
// and a separate memory-triggered worker-restart cooldown.
package scaler

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/types"
)

const windowSize = 50

// Status is a snapshot for the admin scaling/status route.
type Status struct {
	CurrentWorkers  int            `json:"current_workers"`
	WaitP90         float64        `json:"wait_p90_seconds"`
	WaitP50         float64        `json:"wait_p50_seconds"`
	QueueLengths    map[string]int `json:"queue_lengths"`
	IsScalingUp     bool           `json:"is_scaling_up"`
	IsScalingDown   bool           `json:"is_scaling_down"`
	LastScaledAt    time.Time      `json:"last_scaled_at"`
	LastRestartedAt time.Time      `json:"last_restarted_at"`
}

// Scaler recommends a worker count from recent per-mode wait times and
// queue depths. It does not itself own workers; the WorkerPool polls
// GetSuggestedWorkerCount and acts on it.
type Scaler struct {
	cfg config.ScalerConfig

	mu sync.Mutex

	waitWindow map[types.Mode][]float64
	queueLen   map[types.Mode]int

	currentWorkers int

	isScalingUpMode   bool
	isScalingDownMode bool

	lastScaledAt    time.Time
	lastRestartedAt time.Time
}

func New(cfg config.ScalerConfig) *Scaler {
	return &Scaler{
		cfg:            cfg,
		waitWindow:     make(map[types.Mode][]float64),
		queueLen:       make(map[types.Mode]int),
		currentWorkers: cfg.MinWorkers,
	}
}

// RecordWait adds a queue-wait-time sample for mode.
func (s *Scaler) RecordWait(mode types.Mode, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := append(s.waitWindow[mode], d.Seconds())
	if len(w) > windowSize {
		w = w[len(w)-windowSize:]
	}
	s.waitWindow[mode] = w
}

// SetQueueLength reports the current depth of mode's queue.
func (s *Scaler) SetQueueLength(mode types.Mode, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueLen[mode] = n
}

// GetSuggestedWorkerCount evaluates the scale-up/scale-down rules and
// returns the worker count the pool should converge to. It enforces the
// cooldown itself, so it is safe to poll frequently.
func (s *Scaler) GetSuggestedWorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastScaledAt) < s.cfg.Cooldown {
		return s.currentWorkers
	}

	p90, _ := s.worstP90Locked()
	p50, _ := s.bestP50Locked()
	maxQueue := s.maxQueueLenLocked()
	allQueuesLow := s.allQueuesAtOrBelowLocked(s.cfg.QueueDownThreshold)

	scaleUp := p90 > s.cfg.ScaleUpThreshold.Seconds() || maxQueue >= s.cfg.QueueUpThreshold
	scaleDown := p50 < s.cfg.ScaleDownThreshold.Seconds() && allQueuesLow

	s.isScalingUpMode = scaleUp && s.currentWorkers < s.cfg.MaxWorkers
	s.isScalingDownMode = scaleDown && s.currentWorkers > s.cfg.MinWorkers

	switch {
	case s.isScalingUpMode:
		s.currentWorkers++
		s.lastScaledAt = now
	case s.isScalingDownMode:
		s.currentWorkers--
		s.lastScaledAt = now
	}

	if s.currentWorkers < s.cfg.MinWorkers {
		s.currentWorkers = s.cfg.MinWorkers
	}
	if s.currentWorkers > s.cfg.MaxWorkers {
		s.currentWorkers = s.cfg.MaxWorkers
	}
	return s.currentWorkers
}

// ShouldRestartWorkers reports whether a reported memory sample justifies
// restarting the worker pool, honoring the restart cooldown independently
// of the scaling cooldown above.
func (s *Scaler) ShouldRestartWorkers(memoryMB float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if memoryMB <= s.cfg.MemoryThresholdMB {
		return false
	}
	now := time.Now()
	if now.Sub(s.lastRestartedAt) < s.cfg.RestartCooldown {
		return false
	}
	s.lastRestartedAt = now
	return true
}

// Bounds reports the configured minimum and maximum worker counts, for
// callers (e.g. the admin scaling route) that need to clamp a manual
// single-step adjustment themselves.
func (s *Scaler) Bounds() (min, max int) {
	return s.cfg.MinWorkers, s.cfg.MaxWorkers
}

func (s *Scaler) GetCurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	p90, _ := s.worstP90Locked()
	p50, _ := s.bestP50Locked()
	queues := make(map[string]int, len(s.queueLen))
	for mode, n := range s.queueLen {
		queues[string(mode)] = n
	}

	return Status{
		CurrentWorkers:  s.currentWorkers,
		WaitP90:         p90,
		WaitP50:         p50,
		QueueLengths:    queues,
		IsScalingUp:     s.isScalingUpMode,
		IsScalingDown:   s.isScalingDownMode,
		LastScaledAt:    s.lastScaledAt,
		LastRestartedAt: s.lastRestartedAt,
	}
}

// worstP90Locked returns the highest per-mode P90 wait time, the signal
// that drives scale-up (any mode under pressure is enough).
func (s *Scaler) worstP90Locked() (float64, error) {
	var worst float64
	for _, w := range s.waitWindow {
		if len(w) == 0 {
			continue
		}
		p, err := stats.Percentile(w, 90)
		if err != nil {
			continue
		}
		if p > worst {
			worst = p
		}
	}
	return worst, nil
}

// bestP50Locked returns the highest per-mode P50 wait time, the signal
// that gates scale-down (every mode must be comfortably idle).
func (s *Scaler) bestP50Locked() (float64, error) {
	var worst float64
	for _, w := range s.waitWindow {
		if len(w) == 0 {
			continue
		}
		p, err := stats.Percentile(w, 50)
		if err != nil {
			continue
		}
		if p > worst {
			worst = p
		}
	}
	return worst, nil
}

func (s *Scaler) maxQueueLenLocked() int {
	var max int
	for _, n := range s.queueLen {
		if n > max {
			max = n
		}
	}
	return max
}

func (s *Scaler) allQueuesAtOrBelowLocked(threshold int) bool {
	for _, n := range s.queueLen {
		if n > threshold {
			return false
		}
	}
	return true
}
