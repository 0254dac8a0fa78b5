// Package sizecache caches recursive directory sizes keyed by project
// identity and directory modification time.
//
// A cached size is reusable only on an exact modification-time match; any
// drift forces the caller to recompute and overwrite. The cache is purely
// in-memory and single-writer: the owning scanner serializes all access, so
// no internal locking is needed.
package sizecache

import "time"

// entry pairs the directory mod time observed at computation with the
// computed recursive size.
type entry struct {
	modTime time.Time
	size    int64
}

// Cache maps project identity to a previously computed size.
type Cache struct {
	entries map[string]entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
	}
}

// Get returns the cached size for the given identity, valid only if the
// observed modification time equals the stored one exactly.
func (c *Cache) Get(name string, modTime time.Time) (int64, bool) {
	e, ok := c.entries[name]
	if !ok || !e.modTime.Equal(modTime) {
		return 0, false
	}

	return e.size, true
}

// Put inserts or overwrites the entry for the given identity.
func (c *Cache) Put(name string, modTime time.Time, size int64) {
	c.entries[name] = entry{modTime: modTime, size: size}
}

// Evict removes the entry for the given identity, if present.
func (c *Cache) Evict(name string) {
	delete(c.entries, name)
}

// EvictExcept drops every entry whose identity is not in live and returns
// the number of entries removed. Called at the end of each listing pass so
// the cache never grows with stale identities.
func (c *Cache) EvictExcept(live map[string]struct{}) int {
	var evicted int

	for name := range c.entries {
		if _, ok := live[name]; !ok {
			delete(c.entries, name)
			evicted++
		}
	}

	return evicted
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
