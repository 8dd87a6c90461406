package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/scaler"
	"github.com/IshaanNene/scrapehub/internal/types"
)

func nilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePool struct {
	workers int
}

func (f *fakePool) Submit(job *types.Job) {}

func (f *fakePool) SubmitStream(job *types.Job) <-chan *types.Result {
	ch := make(chan *types.Result, len(job.URLs))
	go func() {
		defer close(ch)
		for _, u := range job.URLs {
			r := &types.Result{URL: u, Mode: job.Mode, Success: true}
			job.PutResult(u, r)
			ch <- r
		}
	}()
	return ch
}

func (f *fakePool) SetWorkerCount(n int) { f.workers = n }
func (f *fakePool) RunningWorkers() int  { return f.workers }
func (f *fakePool) Restart()             {}

func newTestServer() (*Server, *fakePool) {
	fp := &fakePool{workers: 2}
	sc := scaler.New(config.ScalerConfig{
		MinWorkers: 1, MaxWorkers: 10, Cooldown: time.Hour, RestartCooldown: time.Hour,
	})
	s := NewServer(0, fp, sc, nil, nil, nilLogger(), 25)
	return s, fp
}

func TestHandleHealthWithoutPagePool(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleScrapeBatchReturnsAllResults(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(scrapeRequest{URLs: []string{"https://a", "https://b"}, Mode: types.ModeSimple})
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 || resp.Summary.Successful != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleScrapeBatchRejectsEmptyURLs(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(scrapeRequest{URLs: nil, Mode: types.ModeSimple})
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleScalingManualSetsWorkerCount(t *testing.T) {
	s, fp := newTestServer()
	body, _ := json.Marshal(map[string]int{"workers": 5})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/scaling/manual", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fp.workers != 5 {
		t.Fatalf("workers = %d, want 5", fp.workers)
	}
}

func TestHandleScrapeOneReturnsSingleResult(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(oneRequest{URL: "https://a", Mode: types.ModeSimple})
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape/one", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var result types.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.URL != "https://a" || !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
}
