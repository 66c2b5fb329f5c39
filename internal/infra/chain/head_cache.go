package chain

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

// HeadCache caches LatestBlock to collapse head lookups from concurrent
// pollers, API requests and health checks into one upstream call per TTL.
type HeadCache struct {
	source Source
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
	now      func() time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source Source, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// LatestBlock returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if c.now().Sub(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	c.Observe(head)
	return head, nil
}

// Observe records a head learned elsewhere, e.g. from a WebSocket push.
// Heads never move backwards in the cache.
func (c *HeadCache) Observe(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if head >= c.cached {
		c.cached = head
		metrics.ChainLatestBlock.Set(float64(head))
	}
	c.cachedAt = c.now()
}

// Cached returns the last known head and when it was observed.
func (c *HeadCache) Cached() (uint64, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached, c.cachedAt
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
