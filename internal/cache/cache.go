// Package cache holds rendered geometry keyed by request fingerprint.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"k8s.io/utils/clock"

	"github.com/sdko-org/gridgate/internal/metrics"
)

const (
	DefaultMaxEntries = 100
	DefaultTTL        = time.Hour
)

type entry struct {
	insertedAt time.Time
	payload    []byte
}

// Cache is a size and age bounded LRU of rendered artifacts.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, entry]
	ttl   time.Duration
	clock clock.PassiveClock
}

// New creates a cache holding at most maxEntries items, each visible for ttl
// after its last Set.
func New(maxEntries int, ttl time.Duration, clk clock.PassiveClock) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	// NewLRU only fails for a non-positive size.
	l, _ := simplelru.NewLRU[string, entry](maxEntries, nil)
	return &Cache{lru: l, ttl: ttl, clock: clk}
}

// Get returns the payload stored under key. Entries older than the TTL are
// removed and reported as absent.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		metrics.RecordCacheMiss()
		return nil, false
	}
	if c.clock.Since(e.insertedAt) > c.ttl {
		c.lru.Remove(key)
		metrics.RecordCacheMiss()
		return nil, false
	}
	c.lru.Get(key)
	metrics.RecordCacheHit()
	return e.payload, true
}

// Set stores data under key, refreshing its timestamp and recency. The least
// recently used entries are evicted once the cache is over capacity.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, entry{insertedAt: c.clock.Now(), payload: data}); evicted {
		metrics.RecordCacheEviction()
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// Len returns the number of stored entries, including expired ones not yet
// observed by Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
