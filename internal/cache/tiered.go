package cache

import (
	"context"
	"time"

	"github.com/IshaanNene/scrapehub/internal/types"
)

// Tiered composes L1 and an optional L2 with the promote-on-hit contract of
// §4.4: L1 is consulted first; on L1 miss and L2 hit, the value is promoted
// into L1; writes fan out to both tiers.
type Tiered struct {
	L1 *L1
	L2 *L2
}

func NewTiered(l1 *L1, l2 *L2) *Tiered {
	return &Tiered{L1: l1, L2: l2}
}

// Get returns the live entry for key if present in either tier.
func (t *Tiered) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if entry, _, ok := t.L1.Get(key); ok {
		return entry, true
	}
	if entry, ok := t.L2.Get(ctx, key); ok {
		t.L1.Put(key, entry)
		return entry, true
	}
	return nil, false
}

// Put writes the entry to both tiers.
func (t *Tiered) Put(ctx context.Context, key string, result *types.Result, ttl time.Duration) {
	entry := &types.CacheEntry{Payload: result, InsertedAt: time.Now(), TTL: ttl}
	t.L1.Put(key, entry)
	t.L2.Put(ctx, key, entry)
}
