package triage

import (
	"sync"
	"time"
)

// ttlCache is a small expiring set used to remember rooms that were
// recently skipped (no senders configured, repeated failures). Expiry is
// checked on read; stale entries are dropped lazily.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *ttlCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.now().Add(c.ttl)
}

func (c *ttlCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().After(exp) {
		delete(c.entries, key)
		return false
	}
	return true
}
