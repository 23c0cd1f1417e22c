package router

import (
	"sync"
	"time"
)

// resolution is a cached subdomain lookup. found=false entries are cached
// too, with a shorter TTL, so a burst of requests for a missing site does
// not hammer the database.
type resolution struct {
	deploymentID string
	found        bool
	expires      time.Time
}

// cache is a small TTL map keyed by subdomain.
type cache struct {
	mu          sync.RWMutex
	entries     map[string]resolution
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

func newCache(ttl, negativeTTL time.Duration) *cache {
	return &cache{
		entries:     make(map[string]resolution),
		ttl:         ttl,
		negativeTTL: negativeTTL,
		now:         time.Now,
	}
}

func (c *cache) get(subdomain string) (resolution, bool) {
	c.mu.RLock()
	entry, ok := c.entries[subdomain]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expires) {
		return resolution{}, false
	}
	return entry, true
}

func (c *cache) put(subdomain, deploymentID string, found bool) {
	ttl := c.ttl
	if !found {
		ttl = c.negativeTTL
	}
	c.mu.Lock()
	c.entries[subdomain] = resolution{
		deploymentID: deploymentID,
		found:        found,
		expires:      c.now().Add(ttl),
	}
	c.mu.Unlock()
}
