package price

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	price     float64
	fetchedAt time.Time
}

// Cache is the in-process price tier. Entries older than ttl are stale but
// kept, so a failed refresh can still serve the last known price.
type Cache struct {
	mu            sync.RWMutex
	entries       map[string]entry
	lastRefreshed time.Time
	ttl           time.Duration
	now           func() time.Time
}

// NewCache returns an empty cache with the given freshness window.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached price for symbol and whether it is still fresh.
// ok is false when nothing was ever cached.
func (c *Cache) Get(symbol string) (price float64, fresh, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[strings.ToUpper(symbol)]
	if !ok {
		return 0, false, false
	}
	return e.price, c.now().Sub(e.fetchedAt) < c.ttl, true
}

// Set stores a freshly fetched price.
func (c *Cache) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[strings.ToUpper(symbol)] = entry{price: price, fetchedAt: now}
	c.lastRefreshed = now
}

// LastRefreshed returns when any entry was last written.
func (c *Cache) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefreshed
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Len returns the number of cached symbols, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
