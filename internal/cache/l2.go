package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"

	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/types"
)

// L2 is the optional external KV tier, grounded on
// original_source/redis_cache.py (JSON payload, `ex=ttl`) with values
// snappy-compressed before the Redis write — snappy, like groupcache/lru,
// was an unused indirect dependency in the teacher's go.mod.
//
// L2 unavailability is not fatal to any caller: every method returns an
// error the TaskEngine treats as a plain miss, degrading to L1-only
// operation per §4.4.
type L2 struct {
	rdb    *redis.Client
	prefix string
	m      *metrics.Metrics
}

// NewL2 connects to the given Redis URL. A nil *L2 (when url is empty)
// makes every call below a clean miss, so callers never need a separate
// "L2 enabled" branch.
func NewL2(url string, m *metrics.Metrics) (*L2, error) {
	if url == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &L2{rdb: redis.NewClient(opt), prefix: "scrapehub:", m: m}, nil
}

type l2Payload struct {
	Result     *types.Result `json:"result"`
	InsertedAt time.Time     `json:"inserted_at"`
	TTL        time.Duration `json:"ttl"`
}

// Get fetches and decompresses an entry. ok=false covers both a genuine
// miss and any Redis-level failure — the caller cannot and need not tell
// them apart; it always degrades to treating L2 as empty.
func (l *L2) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if l == nil {
		return nil, false
	}
	raw, err := l.rdb.Get(ctx, l.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil && l.m != nil {
			l.m.CacheMissesTotal.WithLabelValues("l2", "not_found").Inc()
		}
		return nil, false
	}
	decompressed, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, false
	}
	var p l2Payload
	if err := json.Unmarshal(decompressed, &p); err != nil {
		return nil, false
	}
	entry := &types.CacheEntry{Payload: p.Result, InsertedAt: p.InsertedAt, TTL: p.TTL}
	if !entry.Live(time.Now()) {
		if l.m != nil {
			l.m.CacheTTLExpiryTotal.WithLabelValues("l2").Inc()
		}
		return nil, false
	}
	if l.m != nil {
		l.m.CacheHitsTotal.WithLabelValues("l2").Inc()
	}
	return entry, true
}

// Put compresses and writes an entry with its TTL as the Redis expiry.
// Errors are swallowed by design (§4.4: "L2 unavailability is not fatal").
func (l *L2) Put(ctx context.Context, key string, entry *types.CacheEntry) {
	if l == nil {
		return
	}
	raw, err := json.Marshal(l2Payload{Result: entry.Payload, InsertedAt: entry.InsertedAt, TTL: entry.TTL})
	if err != nil {
		return
	}
	compressed := snappy.Encode(nil, raw)
	_ = l.rdb.Set(ctx, l.prefix+key, compressed, entry.TTL).Err()
}

// Client exposes the underlying redis.Client for SingleFlight's lock and
// pub/sub use, so both subsystems share one connection pool.
func (l *L2) Client() *redis.Client {
	if l == nil {
		return nil
	}
	return l.rdb
}
