package singleflight

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/types"
)

// Coordinator is the top-level SingleFlight of §4.5: it prefers the Redis
// cross-process protocol when configured, falling through to the local
// in-process group on infrastructure failure (never on a fail-fast
// timeout, which is surfaced as service_unavailable).
type Coordinator struct {
	local *Local
	redis *RedisCoordinator
	m     *metrics.Metrics
}

// New creates a Coordinator. rdb may be nil, in which case only in-process
// coalescing is used.
func New(rdb *redis.Client, localTimeout, lockTTL time.Duration, m *metrics.Metrics) *Coordinator {
	c := &Coordinator{local: NewLocal(localTimeout), m: m}
	if rdb != nil {
		c.redis = NewRedisCoordinator(rdb, lockTTL, localTimeout, m)
	}
	return c
}

// Do runs fn under single-flight protection for key/url/mode.
func (c *Coordinator) Do(ctx context.Context, key, url string, mode types.Mode, fn ScrapeFunc) (*types.Result, error) {
	if c.redis != nil {
		result, leader, err := c.redis.Do(ctx, key, url, mode, fn)
		switch {
		case err == nil:
			if leader {
				c.inc("direct")
			} else {
				c.inc("coalesced")
			}
			return result, nil
		case errors.Is(err, types.ErrCoordinatorDown):
			c.incFail("redis_unavailable")
			// Infrastructure failure: degrade silently to in-process.
		case errors.Is(err, types.ErrNoLeaderResult):
			c.incTimeout("cross_process")
			return nil, &types.ScrapeError{Kind: types.ErrServiceUnavailable, URL: url, Err: err}
		default:
			// Leader failure or caller cancellation: not a coordination
			// problem, and never a reason to re-run fn locally.
			return result, err
		}
	}

	result, err, shared := c.local.Do(ctx, key, fn)
	if shared {
		c.inc("coalesced")
	} else {
		c.inc("direct")
	}
	if errors.Is(err, types.ErrNoLeaderResult) {
		c.incTimeout("in_process")
		return nil, &types.ScrapeError{Kind: types.ErrServiceUnavailable, URL: url, Err: err}
	}
	return result, err
}

func (c *Coordinator) inc(kind string) {
	if c.m != nil {
		c.m.SingleFlightRequestsTotal.WithLabelValues(kind).Inc()
	}
}

func (c *Coordinator) incTimeout(scope string) {
	if c.m != nil {
		c.m.SingleFlightTimeoutsTotal.WithLabelValues(scope).Inc()
	}
}

func (c *Coordinator) incFail(kind string) {
	if c.m != nil {
		c.m.SingleFlightCoordFailsTotal.WithLabelValues(kind).Inc()
	}
}
