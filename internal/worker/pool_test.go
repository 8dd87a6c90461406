package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/scaler"
	"github.com/IshaanNene/scrapehub/internal/types"
)

func nilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScalerConfig() config.ScalerConfig {
	return config.ScalerConfig{
		MinWorkers: 2, MaxWorkers: 4,
		ScaleUpThreshold: time.Second, ScaleDownThreshold: 50 * time.Millisecond,
		QueueUpThreshold: 100, QueueDownThreshold: 3,
		Cooldown: time.Hour, MemoryThresholdMB: 800, RestartCooldown: time.Hour,
	}
}

// fakeScraper resolves every URL after a small delay so completion order
// can diverge from submission order.
type fakeScraper struct {
	calls   atomic.Int32
	delayOf func(url string) time.Duration
}

func (f *fakeScraper) Scrape(ctx context.Context, url string, mode types.Mode) (*types.Result, error) {
	f.calls.Add(1)
	delay := time.Millisecond
	if f.delayOf != nil {
		delay = f.delayOf(url)
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &types.Result{URL: url, Mode: mode, Success: true}, nil
}

func TestSubmitProcessesEveryURL(t *testing.T) {
	sc := scaler.New(testScalerConfig())
	fs := &fakeScraper{}
	p := New(config.WorkerConfig{ChunkSize: 25, MaxConcurrentPerWorker: 4}, fs, sc, nil, nilLogger())
	defer p.Close()

	job := types.NewJob("job-1", []string{"https://a", "https://b", "https://c"}, types.ModeSimple)
	p.Submit(job)

	deadline := time.After(2 * time.Second)
	for {
		status, results, _ := job.Snapshot()
		if status == types.JobCompleted && len(results) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job did not complete in time, status=%s results=%d", status, len(results))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Invariant 10: streamed results arrive in completion order, which need
// not match submission order.
func TestSubmitStreamYieldsCompletionOrder(t *testing.T) {
	sc := scaler.New(testScalerConfig())
	fs := &fakeScraper{delayOf: func(url string) time.Duration {
		if url == "https://slow" {
			return 150 * time.Millisecond
		}
		return time.Millisecond
	}}
	p := New(config.WorkerConfig{ChunkSize: 25, MaxConcurrentPerWorker: 4}, fs, sc, nil, nilLogger())
	defer p.Close()

	job := types.NewJob("job-2", []string{"https://slow", "https://fast1", "https://fast2"}, types.ModeSimple)
	resultsCh := p.SubmitStream(job)

	var order []string
	for r := range resultsCh {
		order = append(order, r.URL)
	}

	if len(order) != 3 {
		t.Fatalf("got %d results, want 3", len(order))
	}
	if order[len(order)-1] != "https://slow" {
		t.Fatalf("expected slow URL to finish last, order=%v", order)
	}
}

func TestResizeConvergesToScalerSuggestion(t *testing.T) {
	sc := scaler.New(testScalerConfig())
	fs := &fakeScraper{}
	p := New(config.WorkerConfig{ChunkSize: 25, MaxConcurrentPerWorker: 2}, fs, sc, nil, nilLogger())
	defer p.Close()

	p.mu.Lock()
	got := p.runCount
	p.mu.Unlock()
	if got != testScalerConfig().MinWorkers {
		t.Fatalf("initial worker count = %d, want %d", got, testScalerConfig().MinWorkers)
	}
}

func TestRestartRespawnsWorkers(t *testing.T) {
	sc := scaler.New(testScalerConfig())
	fs := &fakeScraper{}
	p := New(config.WorkerConfig{ChunkSize: 25, MaxConcurrentPerWorker: 2}, fs, sc, nil, nilLogger())
	defer p.Close()

	p.Restart()

	p.mu.Lock()
	got := p.runCount
	p.mu.Unlock()
	if got == 0 {
		t.Fatal("expected workers to be respawned after Restart")
	}
}
