package stores

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalCache is a single-process cache backend on ristretto. Counters live
// outside ristretto because eviction must never reset the version counter.
type LocalCache struct {
	cache *ristretto.Cache

	mu       sync.Mutex
	counters map[string]int64
}

func NewLocalCache() (*LocalCache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &LocalCache{cache: rc, counters: make(map[string]int64)}, nil
}

func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	if v, ok := c.counters[key]; ok {
		c.mu.Unlock()
		return []byte(strconv.FormatInt(v, 10)), true, nil
	}
	c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		c.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	} else {
		c.cache.Set(key, value, int64(len(value)))
	}
	// Ristretto admits writes asynchronously; readers tolerate the window
	// as a cache miss.
	return nil
}

func (c *LocalCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.counters, key)
	c.mu.Unlock()
	c.cache.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied. Tests use it to make Set
// immediately visible.
func (c *LocalCache) Wait() { c.cache.Wait() }
