// Package fetcher implements §4.6: driving a loaned page through a
// two-phase navigation with a settle delay, ported from
// original_source/app/services/facebook/product/fetcher.py's
// fetch_page_content (commit-then-networkidle fallback, 300-800ms settle).
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/pagepool"
	"github.com/IshaanNene/scrapehub/internal/types"
)

const (
	commitTimeout      = 8 * time.Second
	networkIdleTimeout = 15 * time.Second
	settleMin          = 300 * time.Millisecond
	settleMax          = 800 * time.Millisecond
)

// Outcome carries the navigation timing and the page's final URL back to
// the TaskEngine; the navigated page itself stays with the caller's handle,
// from which the TaskEngine reads the DOM for the Extractor.
type Outcome struct {
	NavigationTime time.Duration
	FinalURL       string
}

type Fetcher struct {
	logger *slog.Logger
	m      *metrics.Metrics
}

func New(m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{logger: logger.With("component", "fetcher"), m: m}
}

// Fetch navigates h's page to url. Phase one tries a fast "commit" load;
// on failure it retries with a longer "network idle" wait. Neither phase
// acquires a new page or rate-limit slot — that is the TaskEngine's job.
func (f *Fetcher) Fetch(ctx context.Context, h *pagepool.PageHandle, url string, mode types.Mode) (*Outcome, error) {
	start := time.Now()

	err := h.Page.Timeout(commitTimeout).Navigate(url)
	if err != nil {
		f.logger.Debug("commit navigation failed, retrying with network-idle wait", "url", url, "error", err)
		err = h.Page.Timeout(networkIdleTimeout).Navigate(url)
		if err == nil {
			_ = h.Page.Timeout(networkIdleTimeout).WaitStable(300 * time.Millisecond)
		}
	} else {
		_ = h.Page.Timeout(commitTimeout).WaitStable(300 * time.Millisecond)
	}
	if err != nil {
		navDur := time.Since(start)
		if f.m != nil {
			f.m.NavigationDuration.WithLabelValues(string(mode)).Observe(navDur.Seconds())
		}
		return nil, &types.ScrapeError{Kind: types.ClassifyError(err), URL: url, Err: fmt.Errorf("navigate: %w", err)}
	}

	settle := settleMin + time.Duration(rand.Int63n(int64(settleMax-settleMin)))
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	navDur := time.Since(start)
	if f.m != nil {
		f.m.NavigationDuration.WithLabelValues(string(mode)).Observe(navDur.Seconds())
	}

	finalURL := url
	if info, err := h.Page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	return &Outcome{NavigationTime: navDur, FinalURL: finalURL}, nil
}
