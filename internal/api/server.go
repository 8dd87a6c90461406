// Package api exposes scrapehub's HTTP surface (§6), adapted from the
// teacher's internal/api/server.go route-registration style
// (mux.HandleFunc("METHOD /path", ...) plus a uniform jsonResponse
// helper) generalized from crawl-job control to scrape submission.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/pagepool"
	"github.com/IshaanNene/scrapehub/internal/scaler"
	"github.com/IshaanNene/scrapehub/internal/types"
	"github.com/IshaanNene/scrapehub/internal/worker"
)

// Submitter is the WorkerPool surface the API depends on.
type Submitter interface {
	Submit(job *types.Job)
	SubmitStream(job *types.Job) <-chan *types.Result
	SetWorkerCount(n int)
	RunningWorkers() int
	Restart()
}

var _ Submitter = (*worker.Pool)(nil)

// Server is scrapehub's HTTP surface.
type Server struct {
	mux    *http.ServeMux
	port   int
	logger *slog.Logger

	pool      Submitter
	sc        *scaler.Scaler
	pages     *pagepool.Pool
	m         *metrics.Metrics
	chunkSize int

	jobsMu sync.RWMutex
	jobs   map[string]*types.Job

	idCounter int64
	idMu      sync.Mutex
}

// NewServer builds the HTTP surface. chunkSize is the default number of
// URLs per Job a batch/stream submission is split into (§4.11); a request
// may override it with its own chunk_size field.
func NewServer(port int, pool Submitter, sc *scaler.Scaler, pages *pagepool.Pool, m *metrics.Metrics, logger *slog.Logger, chunkSize int) *Server {
	if chunkSize <= 0 {
		chunkSize = 25
	}
	s := &Server{
		mux:       http.NewServeMux(),
		port:      port,
		logger:    logger.With("component", "api_server"),
		pool:      pool,
		sc:        sc,
		pages:     pages,
		m:         m,
		chunkSize: chunkSize,
		jobs:      make(map[string]*types.Job),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.mux.HandleFunc("POST /v1/scrape", s.handleScrapeBatch)
	s.mux.HandleFunc("POST /v1/scrape/stream", s.handleScrapeStream)
	s.mux.HandleFunc("POST /v1/scrape/one", s.handleScrapeOne)

	s.mux.HandleFunc("GET /v1/admin/scaling/status", s.handleScalingStatus)
	s.mux.HandleFunc("POST /v1/admin/scaling/manual", s.handleScalingManual)
	s.mux.HandleFunc("POST /v1/admin/scaling/restart-workers", s.handleRestartWorkers)
}

// ListenAndServe blocks serving the API on the configured port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("api server starting", "addr", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.pages != nil && s.pages.ActiveContexts() == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.jsonResponse(w, code, map[string]string{"status": status})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.m == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "metrics disabled"})
		return
	}
	s.m.Handler().ServeHTTP(w, r)
}

type scrapeRequest struct {
	URLs      []string   `json:"urls"`
	Mode      types.Mode `json:"mode"`
	ChunkSize int        `json:"chunk_size,omitempty"`
}

func (req *scrapeRequest) validate() error {
	if len(req.URLs) == 0 {
		return fmt.Errorf("urls must not be empty")
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", req.Mode)
	}
	return nil
}

type batchResponse struct {
	Success   bool                     `json:"success"`
	TotalURLs int                      `json:"total_urls"`
	JobID     string                   `json:"job_id"`
	Results   map[string]*types.Result `json:"results"`
	Summary   types.Summary            `json:"summary"`
}

// chunkSizeFor resolves the effective chunk size for a request: its own
// chunk_size override if given, otherwise the server's configured default.
func (s *Server) chunkSizeFor(req *scrapeRequest) int {
	if req.ChunkSize > 0 {
		return req.ChunkSize
	}
	return s.chunkSize
}

// submitChunked splits urls into ChunkSize-sized batches (§4.11), submits
// one Job per chunk, and fans all of their result channels into one.
func (s *Server) submitChunked(urls []string, mode types.Mode, chunkSize int) <-chan *types.Result {
	chunks := types.ChunkURLs(urls, chunkSize)
	chans := make([]<-chan *types.Result, 0, len(chunks))
	for _, chunk := range chunks {
		job := types.NewJob(s.nextID(), chunk, mode)
		s.trackJob(job)
		chans = append(chans, s.pool.SubmitStream(job))
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

// handleScrapeBatch submits every URL (split into ChunkSize-sized Jobs)
// and blocks until the batch completes or the request context is
// cancelled.
func (s *Server) handleScrapeBatch(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := req.validate(); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	batchID := s.nextID()
	merged := s.submitChunked(req.URLs, req.Mode, s.chunkSizeFor(&req))

	results := make(map[string]*types.Result, len(req.URLs))
	for res := range merged {
		results[res.URL] = res
		if r.Context().Err() != nil {
			break
		}
	}

	s.jsonResponse(w, http.StatusOK, batchResponse{
		Success: true, TotalURLs: len(req.URLs),
		JobID: batchID, Results: results, Summary: types.Summarize(results),
	})
}

// handleScrapeStream submits every URL (split into ChunkSize-sized Jobs)
// and streams each Result as a newline-delimited {url, data} JSON object
// as soon as it completes, in completion order across all chunks.
func (s *Server) handleScrapeStream(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := req.validate(); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	merged := s.submitChunked(req.URLs, req.Mode, s.chunkSizeFor(&req))

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	enc := json.NewEncoder(bw)
	for result := range merged {
		if err := enc.Encode(map[string]any{"url": result.URL, "data": result}); err != nil {
			return
		}
		bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
		if r.Context().Err() != nil {
			return
		}
	}
}

type oneRequest struct {
	URL  string     `json:"url"`
	Mode types.Mode `json:"mode"`
}

func (s *Server) handleScrapeOne(w http.ResponseWriter, r *http.Request) {
	var req oneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.URL == "" || !req.Mode.Valid() {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "url and a valid mode are required"})
		return
	}

	job := types.NewJob(s.nextID(), []string{req.URL}, req.Mode)
	resultsCh := s.pool.SubmitStream(job)

	select {
	case result, ok := <-resultsCh:
		if !ok {
			s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "no result produced"})
			return
		}
		s.jsonResponse(w, http.StatusOK, result)
	case <-r.Context().Done():
		s.jsonResponse(w, http.StatusGatewayTimeout, map[string]string{"error": "request cancelled"})
	}
}

func (s *Server) handleScalingStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.sc.GetCurrentStatus())
}

type scalingManualRequest struct {
	Action  string `json:"action"`
	Workers int    `json:"workers"`
}

// handleScalingManual dispatches a manual scaling action: "scale_up" and
// "scale_down" adjust the running worker count by one step (clamped to
// the Scaler's configured bounds), "set_workers" sets it directly.
func (s *Server) handleScalingManual(w http.ResponseWriter, r *http.Request) {
	var body scalingManualRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	min, max := s.sc.Bounds()
	switch body.Action {
	case "scale_up":
		n := s.pool.RunningWorkers() + 1
		if n > max {
			n = max
		}
		s.pool.SetWorkerCount(n)
	case "scale_down":
		n := s.pool.RunningWorkers() - 1
		if n < min {
			n = min
		}
		s.pool.SetWorkerCount(n)
	case "set_workers", "":
		if body.Workers <= 0 {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "workers must be positive"})
			return
		}
		s.pool.SetWorkerCount(body.Workers)
	default:
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown action %q", body.Action)})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]int{"current_workers": s.pool.RunningWorkers()})
}

func (s *Server) handleRestartWorkers(w http.ResponseWriter, r *http.Request) {
	s.pool.Restart()
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (s *Server) trackJob(job *types.Job) {
	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()
}

func (s *Server) nextID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.idCounter++
	return fmt.Sprintf("job-%d-%d", time.Now().UnixMilli(), s.idCounter)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
