// Package cache holds the LLM response cache and the topic label cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Stats counts lookups
type Stats struct {
	Hits   uint64
	Misses uint64
}

// StatsReporter is implemented by caches that count lookups
type StatsReporter interface {
	Stats() Stats
}

type counters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (c *counters) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// CompletionKey derives a cache key for an LLM completion from everything
// that influences its output (provider, model, prompts, token budget).
func CompletionKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "stmtgraph-v1-" + hex.EncodeToString(h.Sum(nil))
}

// TopicKey derives the cache key of a topic label lookup
func TopicKey(label string) string {
	return "topic:" + strings.TrimSpace(label)
}
