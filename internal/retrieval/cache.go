package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"deepresearch/internal/logging"
)

// Backing is a persistent second tier behind the in-memory cache.
type Backing interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Put(ctx context.Context, namespace, key, value string, ttl time.Duration) error
}

// CacheEntry holds a cached retrieval result.
type CacheEntry struct {
	Key       string
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CacheStats summarizes cache activity.
type CacheStats struct {
	Entries int
	Hits    int
	Misses  int
	MaxSize int
	TTL     time.Duration
}

// Cache provides in-memory caching for search and page results, optionally
// backed by a persistent store.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	maxSize int
	ttl     time.Duration
	backing Backing
	hits    int
	misses  int
}

// NewCache creates a new cache with the given size limit and TTL.
func NewCache(maxSize int, ttl time.Duration, backing Backing) *Cache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &Cache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		backing: backing,
	}
}

func entryKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get retrieves a cached value. Backing hits are promoted into memory.
func (c *Cache) Get(ctx context.Context, namespace, key string) (string, bool) {
	k := entryKey(namespace, key)

	c.mu.RLock()
	entry, ok := c.entries[k]
	c.mu.RUnlock()
	if ok && (entry.ExpiresAt.IsZero() || time.Now().Before(entry.ExpiresAt)) {
		c.record(true)
		return entry.Value, true
	}

	if c.backing != nil {
		value, found, err := c.backing.Get(ctx, namespace, key)
		if err != nil {
			logging.RetrievalWarn("cache backing read failed: %v", err)
		} else if found {
			c.setMemory(k, value)
			c.record(true)
			return value, true
		}
	}

	c.record(false)
	return "", false
}

// Set stores a value in memory and in the backing store.
func (c *Cache) Set(ctx context.Context, namespace, key, value string) {
	c.setMemory(entryKey(namespace, key), value)
	if c.backing != nil {
		if err := c.backing.Put(ctx, namespace, key, value, c.ttl); err != nil {
			logging.RetrievalWarn("cache backing write failed: %v", err)
		}
	}
}

func (c *Cache) setMemory(k, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	// A non-positive TTL never expires; ExpiresAt stays zero.
	now := time.Now()
	entry := &CacheEntry{Key: k, Value: value, CreatedAt: now}
	if c.ttl > 0 {
		entry.ExpiresAt = now.Add(c.ttl)
	}
	c.entries[k] = entry
}

func (c *Cache) record(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Delete removes an entry from memory.
func (c *Cache) Delete(namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entryKey(namespace, key))
}

// Clear removes all in-memory entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
}

// Size returns the number of in-memory entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
}

// evictOldest removes the oldest entry (by creation time).
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// HashKey creates a cache key from arbitrary inputs.
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
