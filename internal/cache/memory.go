package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the go-cache backed in-process layer. It serves the topic
// label lookups and sits in front of the disk layer for LLM responses.
type MemoryCache struct {
	items *gocache.Cache
	stats counters
}

// NewMemoryCache creates a memory cache. Expired items are swept every cleanupInterval.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		items: gocache.New(defaultTTL, cleanupInterval),
	}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.items.Get(key)
	b, ok := val.([]byte)
	c.stats.record(found && ok)
	if !found || !ok {
		return nil, false
	}
	return b, true
}

// Set stores value. A zero ttl uses the cache default; a negative ttl never expires.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	switch {
	case ttl == 0:
		ttl = gocache.DefaultExpiration
	case ttl < 0:
		ttl = gocache.NoExpiration
	}
	c.items.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Len returns the number of cached items, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// Stats returns hit and miss counts since creation
func (c *MemoryCache) Stats() Stats {
	return c.stats.snapshot()
}
