// Package cache provides the engine's bounded in-memory context caches: a
// string-keyed LRU cache with per-entry TTL, and the four-cache manager that
// holds session, tool-history, global, and query context for the voice
// agent.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Entry is a single cached value with expiry and access tracking.
type Entry struct {
	Value        any
	CreatedAt    time.Time
	LastAccessed time.Time
	TTL          time.Duration
	AccessCount  int
}

// expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Name      string
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64 // percent of lookups that hit
}

// Cache is a mutex-guarded LRU cache with per-entry TTL. All operations are
// total: a missing or expired key is a miss, never an error. Expired entries
// are dropped on access and by CleanupExpired; at capacity the least
// recently used entry is evicted first.
type Cache struct {
	mu         sync.Mutex
	name       string
	maxSize    int
	defaultTTL time.Duration

	order *list.List // front = most recently used
	items map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

type node struct {
	key   string
	entry Entry
}

// New creates a cache bounded to maxSize entries; Set stores with defaultTTL.
func New(name string, maxSize int, defaultTTL time.Duration) *Cache {
	return &Cache{
		name:       name,
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the cached value for key. An expired entry is removed and
// counted as a miss; a hit moves the key to the most-recently-used position
// and updates its access tracking.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	n := el.Value.(*node)
	now := time.Now()
	if n.entry.expired(now) {
		c.remove(el)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(el)
	n.entry.LastAccessed = now
	n.entry.AccessCount++
	c.hits++
	return n.entry.Value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with a custom TTL (ttl <= 0 falls back to
// the default). The key always lands in the most-recently-used position;
// the oldest entries are evicted while the cache is at capacity.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}

	for len(c.items) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
		c.evictions++
	}

	now := time.Now()
	n := &node{key: key, entry: Entry{
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
	}}
	c.items[key] = c.order.PushFront(n)
}

// Invalidate removes key, reporting whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(el)
	return true
}

// InvalidatePrefix removes every key starting with prefix and returns the
// count removed. Linear scan.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*list.Element
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, el)
		}
	}
	for _, el := range matched {
		c.remove(el)
	}
	return len(matched)
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// CleanupExpired removes every expired entry and returns the count. It is
// meant to run from the manager's periodic sweep, not on every access.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*list.Element
	for _, el := range c.items {
		if el.Value.(*node).entry.expired(now) {
			expired = append(expired, el)
		}
	}
	for _, el := range expired {
		c.remove(el)
	}
	return len(expired)
}

// Len reports the current number of entries, counting expired ones that have
// not been swept yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Name:      c.name,
		Size:      len(c.items),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   rate,
	}
}

// remove deletes an element from the order list and the index. Caller holds
// the lock.
func (c *Cache) remove(el *list.Element) {
	n := el.Value.(*node)
	c.order.Remove(el)
	delete(c.items, n.key)
}
