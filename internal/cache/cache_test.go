package cache

import (
	"context"
	"testing"
	"time"

	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/types"
)

func TestL1RoundTrip(t *testing.T) {
	m := metrics.New()
	l1 := NewL1(10, m)
	tiered := NewTiered(l1, nil)
	ctx := context.Background()

	r := &types.Result{URL: "https://site/a", Success: true}
	tiered.Put(ctx, "key-a", r, 600*time.Second)

	entry, ok := tiered.Get(ctx, "key-a")
	if !ok {
		t.Fatal("expected cache hit after put")
	}
	if !entry.Payload.Success || entry.Payload.URL != "https://site/a" {
		t.Fatalf("unexpected payload: %+v", entry.Payload)
	}
}

func TestL1ExpiredIsReportedAsMiss(t *testing.T) {
	l1 := NewL1(10, nil)
	l1.Put("key-b", &types.CacheEntry{
		Payload:    &types.Result{URL: "https://site/b"},
		InsertedAt: time.Now().Add(-time.Hour),
		TTL:        time.Second,
	})

	_, reason, ok := l1.Get("key-b")
	if ok {
		t.Fatal("expected expired entry to miss")
	}
	if reason != ReasonExpired {
		t.Fatalf("reason = %v, want expired", reason)
	}
}

func TestL1CapacityEvictsLRU(t *testing.T) {
	l1 := NewL1(2, nil)
	put := func(k string) {
		l1.Put(k, &types.CacheEntry{Payload: &types.Result{URL: k}, InsertedAt: time.Now(), TTL: time.Minute})
	}
	put("a")
	put("b")
	put("c")

	if l1.Len() > 2 {
		t.Fatalf("len = %d, want <= 2", l1.Len())
	}
	if _, _, ok := l1.Get("a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
}

func TestNegativeEntryShortTTL(t *testing.T) {
	l1 := NewL1(10, nil)
	neg := &types.Result{URL: "https://site/c", Success: false, ErrorKind: types.ErrRateLimited}
	l1.Put("key-c", &types.CacheEntry{Payload: neg, InsertedAt: time.Now(), TTL: 30 * time.Second})

	entry, _, ok := l1.Get("key-c")
	if !ok || entry.Payload.Success {
		t.Fatal("expected a live negative entry to be returned as a hit carrying success=false")
	}
}
