// Package cache provides the process-wide price cache and the bounded
// alert history buffer. Both are constructed once at boot and shared.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultMaxSize caps the number of cached prices.
	DefaultMaxSize = 1000
	// DefaultTTL is how long a cached price stays valid.
	DefaultTTL = 300 * time.Second
)

// entry wraps a cached value with its bookkeeping metadata.
type entry struct {
	value      float64
	insertedAt time.Time
	lastAccess time.Time
	hitCount   int64
	ttl        time.Duration
}

func (e *entry) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.Sub(e.insertedAt) > e.ttl
}

// Stats is a snapshot of cache performance counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"maxSize"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hitRate"`
}

// PriceCache is an LRU cache of last-known prices with per-entry TTL. A Get
// that lands on an expired entry removes it and reports a miss.
type PriceCache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *entry]
	defaultTTL time.Duration
	maxSize    int

	// countEvict distinguishes capacity evictions (counted) from explicit
	// removals and expiry cleanup (not counted as evictions).
	countEvict bool

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	now func() time.Time
}

// NewPriceCache builds a cache with the given capacity and default TTL.
// Zero values select the defaults.
func NewPriceCache(maxSize int, defaultTTL time.Duration) *PriceCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	c := &PriceCache{
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		now:        time.Now,
	}
	lru, _ := simplelru.NewLRU(maxSize, func(string, *entry) {
		if c.countEvict {
			c.evictions++
		}
	})
	c.lru = lru
	return c
}

// Get returns the cached price for symbol. Expired entries are removed and
// reported as misses.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(symbol)
	if !ok {
		c.misses++
		return 0, false
	}

	now := c.now()
	if e.expired(now) {
		c.lru.Remove(symbol)
		c.expirations++
		c.misses++
		return 0, false
	}

	e.hitCount++
	e.lastAccess = now
	c.hits++
	return e.value, true
}

// GetPrices returns the cached prices for the requested symbols; missing or
// expired symbols are absent from the result.
func (c *PriceCache) GetPrices(symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if v, ok := c.Get(s); ok {
			out[s] = v
		}
	}
	return out
}

// Set stores a price under the default TTL.
func (c *PriceCache) Set(symbol string, price float64) {
	c.SetWithTTL(symbol, price, c.defaultTTL)
}

// SetWithTTL stores a price with an explicit TTL.
func (c *PriceCache) SetWithTTL(symbol string, price float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.countEvict = true
	c.lru.Add(symbol, &entry{
		value:      price,
		insertedAt: now,
		lastAccess: now,
		ttl:        ttl,
	})
	c.countEvict = false
}

// Len reports the current number of entries.
func (c *PriceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry without counting evictions.
func (c *PriceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns a snapshot of the performance counters.
func (c *PriceCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Size:        c.lru.Len(),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		HitRate:     rate,
	}
}
