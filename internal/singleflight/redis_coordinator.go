package singleflight

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/types"
)

// RedisCoordinator implements the cross-process leader/follower protocol of
// §4.5 over Redis: SET NX EX for the lock, pub/sub for result delivery.
// Grounded on original_source/task_engine.py's RedisCoordination (lock_timeout=30s,
// renewal every lock_timeout//3) and confirmed as an idiomatic pairing with
// go-rod by other_examples/.../animehot's crawler service.
type RedisCoordinator struct {
	rdb     *redis.Client
	lockTTL time.Duration
	await   time.Duration
	prefix  string
	m       *metrics.Metrics
}

func NewRedisCoordinator(rdb *redis.Client, lockTTL, awaitTimeout time.Duration, m *metrics.Metrics) *RedisCoordinator {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	if awaitTimeout <= 0 {
		awaitTimeout = 45 * time.Second
	}
	return &RedisCoordinator{rdb: rdb, lockTTL: lockTTL, await: awaitTimeout, prefix: "scrapehub:sf:", m: m}
}

type wireResult struct {
	Success        bool          `json:"success"`
	FromCache      bool          `json:"from_cache"`
	ScrapeTime     time.Duration `json:"scrape_time"`
	NavigationTime time.Duration `json:"navigation_time"`
	ExtractionTime time.Duration `json:"extraction_time"`
	Payload        any           `json:"payload,omitempty"`
	Error          string        `json:"error,omitempty"`
	ErrorKind      types.ErrorKind `json:"error_kind,omitempty"`
}

func toWire(r *types.Result) wireResult {
	return wireResult{
		Success: r.Success, FromCache: r.FromCache, ScrapeTime: r.ScrapeTime,
		NavigationTime: r.NavigationTime, ExtractionTime: r.ExtractionTime,
		Payload: r.Payload, Error: r.Error, ErrorKind: r.ErrorKind,
	}
}

func fromWire(url string, mode types.Mode, w wireResult) *types.Result {
	return &types.Result{
		URL: url, Mode: mode, Success: w.Success, FromCache: true,
		ScrapeTime: w.ScrapeTime, NavigationTime: w.NavigationTime, ExtractionTime: w.ExtractionTime,
		Timestamp: time.Now(), Payload: w.Payload, Error: w.Error, ErrorKind: w.ErrorKind,
	}
}

// Do attempts to win leadership of key. The winner runs fn, publishes the
// result, and releases the lock. Losers subscribe and wait. An error
// wrapping ErrCoordinatorDown means the caller should fall through to
// Local without retry; any other error (including a plain timeout) means
// fail-fast: the caller must not re-run fn itself.
func (r *RedisCoordinator) Do(ctx context.Context, key string, url string, mode types.Mode, fn ScrapeFunc) (*types.Result, bool, error) {
	lockKey := r.prefix + "lock:" + key
	topic := r.prefix + "topic:" + key
	token := randomToken()

	start := time.Now()
	ok, err := r.rdb.SetNX(ctx, lockKey, token, r.lockTTL).Result()
	if r.m != nil {
		r.m.SingleFlightCoordLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, false, errJoin(types.ErrCoordinatorDown, err)
	}

	if ok {
		result, err := r.lead(ctx, lockKey, topic, token, url, mode, fn)
		return result, true, err
	}
	result, err := r.follow(ctx, topic, url, mode)
	return result, false, err
}

func (r *RedisCoordinator) lead(ctx context.Context, lockKey, topic, token string, url string, mode types.Mode, fn ScrapeFunc) (*types.Result, error) {
	renewCtx, cancelRenew := context.WithCancel(context.Background())
	defer cancelRenew()
	go r.renewLoop(renewCtx, lockKey, token)

	result, err := fn(ctx)

	payload := wireResult{Error: ""}
	if err != nil {
		payload = wireResult{Success: false, Error: err.Error(), ErrorKind: types.ClassifyError(err)}
	} else {
		payload = toWire(result)
	}
	if data, merr := json.Marshal(payload); merr == nil {
		r.rdb.Publish(context.Background(), topic, data)
	}
	r.releaseIfOwned(lockKey, token)

	return result, err
}

// follow subscribes to the leader's topic and waits up to r.await for a
// result. A timeout here is fail-fast service_unavailable, never a signal
// to re-scrape.
func (r *RedisCoordinator) follow(ctx context.Context, topic, url string, mode types.Mode) (*types.Result, error) {
	sub := r.rdb.Subscribe(ctx, topic)
	defer sub.Close()

	timer := time.NewTimer(r.await)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil, types.ErrNoLeaderResult
		}
		var w wireResult
		if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
			return nil, types.ErrNoLeaderResult
		}
		result := fromWire(url, mode, w)
		if !w.Success {
			return result, &types.ScrapeError{Kind: w.ErrorKind, URL: url, Err: errors.New(w.Error)}
		}
		return result, nil
	case <-timer.C:
		return nil, types.ErrNoLeaderResult
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RedisCoordinator) renewLoop(ctx context.Context, lockKey, token string) {
	ticker := time.NewTicker(r.lockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.renewIfOwned(lockKey, token)
		}
	}
}

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

func (r *RedisCoordinator) renewIfOwned(lockKey, token string) {
	_ = r.rdb.Eval(context.Background(), renewScript, []string{lockKey}, token, r.lockTTL.Milliseconds()).Err()
}

func (r *RedisCoordinator) releaseIfOwned(lockKey, token string) {
	_ = r.rdb.Eval(context.Background(), releaseScript, []string{lockKey}, token).Err()
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func errJoin(sentinel, cause error) error {
	return &types.ScrapeError{Kind: types.ErrCoordination, Err: errors.Join(sentinel, cause)}
}
