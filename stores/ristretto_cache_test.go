package stores

import (
	"context"
	"testing"
	"time"
)

func TestLocalCacheSetGet(t *testing.T) {
	ctx := context.Background()
	cache, err := NewLocalCache()
	if err != nil {
		t.Fatalf("new local cache: %v", err)
	}

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	cache.Wait()

	raw, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || string(raw) != "v" {
		t.Fatalf("get = %q %v %v", raw, ok, err)
	}

	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, _ = cache.Get(ctx, "k")
	if ok {
		t.Fatalf("deleted key must not be found")
	}
}

func TestLocalCacheCountersSurviveEviction(t *testing.T) {
	ctx := context.Background()
	cache, err := NewLocalCache()
	if err != nil {
		t.Fatalf("new local cache: %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		v, err := cache.Incr(ctx, "version")
		if err != nil || v != i {
			t.Fatalf("incr = %d %v, want %d", v, err, i)
		}
	}

	// Counters are served from the counter map, not ristretto, so the
	// read is immediate and eviction-proof.
	raw, ok, err := cache.Get(ctx, "version")
	if err != nil || !ok || string(raw) != "3" {
		t.Fatalf("counter read = %q %v %v", raw, ok, err)
	}
}
