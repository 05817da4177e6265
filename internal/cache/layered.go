package cache

import "time"

// LayeredCache puts a memory layer in front of a disk layer. Disk hits are
// promoted to memory for whatever lifetime they have left.
type LayeredCache struct {
	memory    *MemoryCache
	memoryTTL time.Duration
	disk      *DiskCache
	stats     counters
}

// NewLayeredCache creates a layered cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory:    NewMemoryCache(memoryTTL, 10*time.Minute),
		memoryTTL: memoryTTL,
		disk:      NewDiskCache(diskDir, diskTTL),
	}
}

func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		c.stats.record(true)
		return val, true
	}

	val, left, found := c.disk.remaining(key)
	c.stats.record(found)
	if !found {
		return nil, false
	}

	// promotion never outlives the memory default
	ttl := time.Duration(0)
	if left > 0 && (c.memoryTTL <= 0 || left < c.memoryTTL) {
		ttl = left
	}
	_ = c.memory.Set(key, val, ttl)
	return val, true
}

// Set writes to memory, then disk
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.disk.Delete(key)
}

func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	return c.disk.Clear()
}

// Prune removes expired disk entries
func (c *LayeredCache) Prune() (int, error) {
	return c.disk.Prune()
}

// Stats counts lookups answered by either layer
func (c *LayeredCache) Stats() Stats {
	return c.stats.snapshot()
}
