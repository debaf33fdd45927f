package resolver

import (
	"sync"
	"time"
)

// cacheEntry maps a phone-number ID to a tenant ID until expiresAt.
// The access token is deliberately never cached; see Resolver.Resolve.
type cacheEntry struct {
	tenantID  string
	expiresAt time.Time
}

// TTLCache is a small concurrent map of phone-number ID → tenant ID with
// per-entry expiry. Entries are evicted lazily on read and explicitly on
// account transitions. Lost updates under races are tolerated (worst case
// one extra store read); the map itself is always consistent.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewTTLCache returns an empty cache.
func NewTTLCache() *TTLCache {
	return &TTLCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached tenant ID for key if present and unexpired at now.
// Expired entries are removed on the way out.
func (c *TTLCache) Get(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.tenantID, true
}

// Set stores key → tenantID until now+ttl.
func (c *TTLCache) Set(key, tenantID string, now time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{tenantID: tenantID, expiresAt: now.Add(ttl)}
}

// Invalidate removes a single entry.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll clears the cache.
func (c *TTLCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len reports the current number of entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
