package marketdata

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// cacheEntry pairs a value with the wall-clock time it was fetched. Entries
// are read-only after insertion; a refresh replaces the entry rather than
// mutating it.
type cacheEntry struct {
	value     interface{}
	fetchedAt time.Time
}

// Cache is a TTL cache keyed by normalized symbol (and range, for history).
// Expired entries are kept so the aggregator can serve them, flagged stale,
// when every live provider fails. Safe for concurrent use.
type Cache struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates a cache reading time from the given clock.
func NewCache(c clock.Clock) *Cache {
	if c == nil {
		c = clock.New()
	}
	return &Cache{
		clock:   c,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached value for key. fresh reports whether the entry is
// within ttl; ok reports whether any entry exists at all.
func (c *Cache) Get(key string, ttl time.Duration) (value interface{}, fresh, ok bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, false
	}
	return entry.value, c.clock.Now().Sub(entry.fetchedAt) <= ttl, true
}

// Put replaces the entry for key with a fresh one.
func (c *Cache) Put(key string, value interface{}) {
	now := c.clock.Now()
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: now}
	c.mu.Unlock()
}

// Len reports the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
