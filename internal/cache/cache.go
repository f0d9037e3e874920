// Package cache provides the completion cache for the model router.
//
// Repeated, stable sub-tasks hit the cache instead of re-invoking a
// generation provider. Keys are deterministic fingerprints of the task
// identifier plus its input context, so identical requests always map
// to the same entry. Concurrent writes to the same key are idempotent
// (last-writer-wins): values for a given key are content-deterministic.
//
// Example usage:
//
//	cache := cache.New(time.Hour, 1000)
//	cache.Put(cache.Fingerprint("thesis", prompt), entry)
//	entry, ok := cache.Get(key)
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fyrsmithlabs/briefd/internal/genai"
)

// Entry is one cached completion with the routing facts that produced it.
type Entry struct {
	// Completion is the stored generation output.
	Completion genai.Completion

	// Provider and Model identify what served the original request.
	Provider string
	Model    string

	// Tier is the quality tier the request routed at.
	Tier string

	// ExpiresAt is when this entry should be evicted.
	ExpiresAt time.Time

	// CreatedAt is when this entry was stored.
	CreatedAt time.Time

	// lastAccessed tracks LRU eviction (internal use only)
	lastAccessed time.Time
}

// Cache provides thread-safe in-memory caching with TTL and LRU eviction.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
}

// New creates a cache with the specified TTL and maximum entry count.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Fingerprint computes the deterministic cache key for a task invocation.
func Fingerprint(taskID, context string) string {
	h := sha256.New()
	h.Write([]byte(taskID))
	h.Write([]byte{0})
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores a completion under key, replacing any existing entry.
// At capacity, the least recently used entry is evicted first.
func (c *Cache) Put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictLRU()
		}
	}

	entry.ExpiresAt = now.Add(c.ttl)
	entry.CreatedAt = now
	entry.lastAccessed = now
	c.entries[key] = &entry
}

// Get retrieves a cached completion. Expired entries are removed and
// reported as misses.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.lastAccessed = time.Now()
	c.mu.Unlock()

	return entry, true
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// evictLRU removes the least recently used entry.
// Caller must hold the write lock.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
