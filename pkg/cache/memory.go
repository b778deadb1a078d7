package cache

import (
	"sync"
	"time"
)

// MemoryCache implements an in-memory cache with TTL support. It backs the
// hot-path lookups on the routing side (group membership, block relations)
// where a bounded staleness window is acceptable.
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
}

// cacheEntry represents a single cache entry
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(defaultTTL time.Duration, maxSize int) *MemoryCache {
	return &MemoryCache{
		data:    make(map[string]*cacheEntry),
		ttl:     defaultTTL,
		maxSize: maxSize,
	}
}

// Set stores a value in the cache with TTL
func (mc *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if ttl == 0 {
		ttl = mc.ttl
	}

	if mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	mc.data[key] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
		createdAt: time.Now(),
	}
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(key string) (interface{}, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entry, exists := mc.data[key]
	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.value, true
}

// Delete removes an entry from the cache
func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.data, key)
}

// Len returns the number of entries currently stored, expired ones included
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

// Flush removes all entries
func (mc *MemoryCache) Flush() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.data = make(map[string]*cacheEntry)
}

// StartJanitor runs a background loop that drops expired entries. The loop
// stops when stop is closed.
func (mc *MemoryCache) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mc.removeExpired()
			}
		}
	}()
}

// evictOldest removes the entry with the earliest creation time.
// Caller must hold the write lock.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) removeExpired() {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
		}
	}
}
