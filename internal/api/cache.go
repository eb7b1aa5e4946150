package api

import (
	"sync"
	"time"
)

// statsCache is a small TTL cache for status counts, which are read by dashboards far
// more often than they change.
type statsCache struct {
	data    map[string]cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	hits    int64
	misses  int64
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	value      interface{}
	expiration time.Time
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func newStatsCache(ttl time.Duration) *statsCache {
	c := &statsCache{
		data:    make(map[string]cacheEntry),
		ttl:     ttl,
		cleanup: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *statsCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok || time.Now().After(entry.expiration) {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

func (c *statsCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{value: value, expiration: time.Now().Add(c.ttl)}
}

func (c *statsCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// getOrSet returns the cached value for key, or computes and stores it
func (c *statsCache) getOrSet(key string, compute func() (interface{}, error)) (interface{}, error) {
	if value, ok := c.get(key); ok {
		return value, nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}
	c.set(key, value)
	return value, nil
}

func (c *statsCache) stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{Size: len(c.data), Hits: c.hits, Misses: c.misses, HitRate: hitRate}
}

func (c *statsCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *statsCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.expiration) {
			delete(c.data, key)
		}
	}
}

func (c *statsCache) stop() {
	c.once.Do(func() {
		c.cleanup.Stop()
		close(c.done)
	})
}
