package engine

import (
	"sync"
	"time"
)

// cacheEntry is one compiled template with load metadata
type cacheEntry struct {
	template  *Template
	loadedAt  time.Time
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.expiresAt)
}

// templateCache is a thread-safe compiled-template cache with optional
// TTL expiry and size-bounded oldest-first eviction. Compiled templates
// are immutable, so serving one entry to many concurrent renders is
// safe.
type templateCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
}

func newTemplateCache(ttl time.Duration, maxSize int) *templateCache {
	return &templateCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// get retrieves a cached template, dropping it if expired
func (c *templateCache) get(name string) (*Template, bool) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.expired() {
		c.delete(name)
		return nil, false
	}
	return entry.template, true
}

// set stores a compiled template, evicting the oldest entry when full
func (c *templateCache) set(name string, template *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	entry := &cacheEntry{template: template, loadedAt: now}
	if c.ttl > 0 {
		entry.expiresAt = now.Add(c.ttl)
	}
	c.entries[name] = entry
}

func (c *templateCache) delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

func (c *templateCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

func (c *templateCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Caller holds the lock.
func (c *templateCache) evictOldest() {
	var oldestName string
	var oldestTime time.Time
	for name, entry := range c.entries {
		if oldestName == "" || entry.loadedAt.Before(oldestTime) {
			oldestName = name
			oldestTime = entry.loadedAt
		}
	}
	if oldestName != "" {
		delete(c.entries, oldestName)
	}
}
