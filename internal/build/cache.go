// Package build resolves declared resources to files, concatenates them into
// bundles and coordinates concurrent builds of the same bundle.
package build

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResolveCache remembers where declared URLs resolved to on disk, with LRU
// eviction and TTL. Resolution canonicalizes symlinks on every miss, which is
// the most expensive step of a page whose bundles are all hits.
type ResolveCache struct {
	entries    map[string]*cacheEntry
	mutex      sync.Mutex
	maxEntries int
	ttl        time.Duration
	// LRU implementation
	head *cacheEntry
	tail *cacheEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key       string
	path      string
	createdAt time.Time
	// LRU doubly-linked list pointers
	prev *cacheEntry
	next *cacheEntry
}

// CacheStats is a snapshot of ResolveCache counters.
type CacheStats struct {
	Entries   int   `json:"entries" yaml:"entries"`
	Hits      int64 `json:"hits" yaml:"hits"`
	Misses    int64 `json:"misses" yaml:"misses"`
	Evictions int64 `json:"evictions" yaml:"evictions"`
}

// NewResolveCache creates a cache holding at most maxEntries paths for ttl.
// A non-positive ttl disables caching.
func NewResolveCache(maxEntries int, ttl time.Duration) *ResolveCache {
	cache := &ResolveCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	cache.head = &cacheEntry{}
	cache.tail = &cacheEntry{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get returns the cached resolution of key.
func (rc *ResolveCache) Get(key string) (string, bool) {
	if rc == nil || rc.ttl <= 0 {
		return "", false
	}

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	entry, exists := rc.entries[key]
	if !exists {
		atomic.AddInt64(&rc.misses, 1)
		return "", false
	}

	if time.Since(entry.createdAt) > rc.ttl {
		rc.remove(entry)
		atomic.AddInt64(&rc.misses, 1)
		return "", false
	}

	rc.moveToFront(entry)
	atomic.AddInt64(&rc.hits, 1)
	return entry.path, true
}

// Set stores the resolution of key.
func (rc *ResolveCache) Set(key, path string) {
	if rc == nil || rc.ttl <= 0 || rc.maxEntries <= 0 {
		return
	}

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if existing, exists := rc.entries[key]; exists {
		existing.path = path
		existing.createdAt = time.Now()
		rc.moveToFront(existing)
		return
	}

	// Efficient LRU eviction - remove from tail (least recently used)
	for len(rc.entries) >= rc.maxEntries && rc.tail.prev != rc.head {
		rc.remove(rc.tail.prev)
		atomic.AddInt64(&rc.evictions, 1)
	}

	entry := &cacheEntry{key: key, path: path, createdAt: time.Now()}
	rc.entries[key] = entry
	rc.addToFront(entry)
}

// Invalidate drops every entry.
func (rc *ResolveCache) Invalidate() {
	if rc == nil {
		return
	}

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	rc.entries = make(map[string]*cacheEntry)
	rc.head.next = rc.tail
	rc.tail.prev = rc.head
}

// Stats returns the cache counters.
func (rc *ResolveCache) Stats() CacheStats {
	if rc == nil {
		return CacheStats{}
	}

	rc.mutex.Lock()
	n := len(rc.entries)
	rc.mutex.Unlock()

	return CacheStats{
		Entries:   n,
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
	}
}

// LRU doubly-linked list operations
func (rc *ResolveCache) addToFront(entry *cacheEntry) {
	entry.prev = rc.head
	entry.next = rc.head.next
	rc.head.next.prev = entry
	rc.head.next = entry
}

func (rc *ResolveCache) remove(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(rc.entries, entry.key)
}

func (rc *ResolveCache) moveToFront(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	rc.addToFront(entry)
}
