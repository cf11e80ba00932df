package cache

import (
	"sync"
	"time"
)

// Entry is one cached value plus the time it was produced. Entries are
// replaced on refresh, never mutated in place.
type Entry[V any] struct {
	Value      V
	ProducedAt time.Time
}

type node[V any] struct {
	key        string
	value      V
	producedAt time.Time
	prev, next *node[V]
}

// Cache is a bounded TTL cache with LRU eviction. A single mutex guards
// every read-modify-write sequence so concurrent callers cannot race an
// expiry check against an insert or double-evict an entry.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*node[V]
	head     *node[V]
	tail     *node[V]
	hits     uint64
	misses   uint64
}

// New creates a cache holding at most capacity entries, each valid for ttl
// after the time it was produced.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = 100
	}
	c := &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*node[V], capacity),
		head:     &node[V]{},
		tail:     &node[V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the entry for key if present and unexpired. An expired entry
// is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry[V]{}, false
	}
	if c.expired(n, time.Now()) {
		c.unlink(n)
		delete(c.items, key)
		c.misses++
		return Entry[V]{}, false
	}
	c.moveToFront(n)
	c.hits++
	return Entry[V]{Value: n.value, ProducedAt: n.producedAt}, true
}

// Put stores value under key, replacing any previous entry and evicting the
// least recently used entries beyond capacity.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.value = value
		n.producedAt = time.Now()
		c.moveToFront(n)
		return
	}

	n := &node[V]{key: key, value: value, producedAt: time.Now()}
	c.items[key] = n
	c.pushFront(n)

	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		c.unlink(oldest)
		delete(c.items, oldest.key)
	}
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *Cache[V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, n := range c.items {
		if c.expired(n, now) {
			c.unlink(n)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*node[V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache[V]) expired(n *node[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(n.producedAt) > c.ttl
}

func (c *Cache[V]) pushFront(n *node[V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[V]) unlink(n *node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *Cache[V]) moveToFront(n *node[V]) {
	c.unlink(n)
	c.pushFront(n)
}
