// Package cache provides the router's bounded, time-expiring response cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is a cached generation result.
type Entry struct {
	Key      string
	Value    string
	StoredAt time.Time
}

// ResponseCache maps request fingerprints to answers. Entries expire after the
// TTL and, at capacity, the entry with the oldest StoredAt is evicted.
type ResponseCache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// New creates a cache. Non-positive capacity falls back to 200 entries and a
// non-positive TTL to five minutes.
func New(ttl time.Duration, capacity int) *ResponseCache {
	return NewWithClock(ttl, capacity, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(ttl time.Duration, capacity int, now func() time.Time) *ResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if capacity <= 0 {
		capacity = 200
	}
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		entries:  make(map[string]Entry, capacity),
	}
}

// Get returns the cached value unless absent or older than the TTL. Expired
// entries are evicted on lookup.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.Value, true
}

// Set stores value under key, first evicting the single oldest entry when the
// cache is full.
func (c *ResponseCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = Entry{Key: key, Value: value, StoredAt: c.now()}
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Must be called with lock held.
func (c *ResponseCache) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if !found || entry.StoredAt.Before(oldestAt) {
			oldestKey, oldestAt, found = key, entry.StoredAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Fingerprint returns the deterministic cache key for a prompt.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
