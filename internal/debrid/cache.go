package debrid

import (
	"sync"
	"time"
)

// Cache lets a debrid client remember two short-lived facts across calls:
// that its API token was valid as of some time, and that a given info_hash
// was instantly available as of some time. Clients only ever need "when was
// this last confirmed"; staleness is judged by the caller against the
// relevant cacheAge config value rather than by the cache itself.
type Cache interface {
	Set(key string) error
	Get(key string) (time.Time, bool, error)
}

var _ Cache = (*InMemoryCache)(nil)

// InMemoryCache is the process-local Cache used when no shared backend is
// configured; every debrid client in this module takes one per concern
// (token validity, availability).
type InMemoryCache struct {
	mu    sync.RWMutex
	stamp map[string]time.Time
}

// NewInMemoryCache creates an empty InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{stamp: map[string]time.Time{}}
}

// Set records key as confirmed now.
func (c *InMemoryCache) Set(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stamp[key] = time.Now()
	return nil
}

// Get returns when key was last confirmed and whether it's present at all.
func (c *InMemoryCache) Get(key string) (time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.stamp[key]
	return t, ok, nil
}

// Prune drops every entry older than maxAge, so a long-lived process doesn't
// grow the map forever for one-shot info_hash lookups that are never
// repeated.
func (c *InMemoryCache) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range c.stamp {
		if t.Before(cutoff) {
			delete(c.stamp, k)
		}
	}
}
