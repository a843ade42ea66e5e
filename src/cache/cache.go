package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flow-observer/src/models"
	"flow-observer/src/utils"
)

type entry struct {
	value   interface{}
	expires time.Time
}

// CacheStats is reported by the health endpoint.
type CacheStats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Clears    uint64 `json:"clears"`
}

// -----------------------------------------------------------------------------

// ResponseCache holds computed query responses for a bounded time. When full,
// the oldest inserted key is evicted. Overwriting a key keeps its place.
type ResponseCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	order    *utils.RingBuffer[string]
	capacity int
	ttl      time.Duration
	now      func() time.Time
	stats    CacheStats
}

// -----------------------------------------------------------------------------

func NewResponseCache(cfg models.MCacheConfig) *ResponseCache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = utils.DefaultCacheCapacity
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = utils.DefaultCacheTTL
	}
	return &ResponseCache{
		entries:  make(map[string]entry, capacity),
		order:    utils.NewRingBuffer[string](capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// Key builds the cache key of one response shape.
func Key(endpoint, symbol, timeframe string, bins, limit int) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", endpoint, symbol, timeframe, bins, limit)
}

// -----------------------------------------------------------------------------

func (c *ResponseCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		c.dropFromOrder(key)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// -----------------------------------------------------------------------------

func (c *ResponseCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry{value: value, expires: expires}
		return
	}

	if c.order.IsFull() {
		if oldest, ok := c.order.PopOldest(); ok {
			delete(c.entries, oldest)
			c.stats.Evictions++
		}
	}
	c.order.Append(key)
	c.entries[key] = entry{value: value, expires: expires}
}

// -----------------------------------------------------------------------------

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry, c.capacity)
	c.order.Clear()
	c.stats.Clears++
}

// -----------------------------------------------------------------------------

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// -----------------------------------------------------------------------------

func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	s.Capacity = c.capacity
	return s
}

// -----------------------------------------------------------------------------

// InvalidateOn clears the cache on every event received from updates until
// ctx is done or the channel closes.
func (c *ResponseCache) InvalidateOn(ctx context.Context, updates <-chan models.MEngineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			c.Clear()
		}
	}
}

// -----------------------------------------------------------------------------

func (c *ResponseCache) dropFromOrder(key string) {
	keys := c.order.GetAll()
	c.order.Clear()
	for _, k := range keys {
		if k != key {
			c.order.Append(k)
		}
	}
}
