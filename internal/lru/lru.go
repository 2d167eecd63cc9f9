package lru

import (
	"container/list"
	"sync"
)

// Removable reports whether an entry is eligible for eviction. The
// default predicate (nil) admits every entry.
type Removable[V any] func(value V) bool

// Cache is a generic, size-bounded map from K to V, ordered by recency
// of access. Insertion that would exceed the configured capacity walks
// from the least-recently-used end and evicts the first entry for
// which the removability predicate returns true; if none are
// removable, the map is allowed to temporarily exceed capacity and the
// next insertion retries (§4.1).
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	maxSize    int
	removable  Removable[V]
	entries    map[K]*list.Element
	recency    *list.List // front = most recently used
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a Cache bounded at maxSize entries. A nil removable
// predicate admits every entry for eviction.
func New[K comparable, V any](maxSize int, removable Removable[V]) *Cache[K, V] {
	if removable == nil {
		removable = func(V) bool { return true }
	}
	return &Cache[K, V]{
		maxSize:   maxSize,
		removable: removable,
		entries:   make(map[K]*list.Element),
		recency:   list.New(),
	}
}

// GetOrDefault returns a mutable pointer to the value at key, inserting
// a zero-value V if absent. The entry is moved to the most-recently-used
// end on every call, including lookups of a pre-existing entry.
func (c *Cache[K, V]) GetOrDefault(key K) *V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.recency.MoveToFront(elem)
		return &elem.Value.(*entry[K, V]).value
	}

	c.evictForInsert()

	e := &entry[K, V]{key: key}
	elem := c.recency.PushFront(e)
	c.entries[key] = elem
	return &e.value
}

// Find returns a copy of the value at key without changing recency.
func (c *Cache[K, V]) Find(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

// Put inserts or overwrites the value at key and moves it to the
// most-recently-used end.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.recency.MoveToFront(elem)
		return
	}

	c.evictForInsert()

	e := &entry[K, V]{key: key, value: value}
	elem := c.recency.PushFront(e)
	c.entries[key] = elem
}

// Erase removes key, if present.
func (c *Cache[K, V]) Erase(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eraseLocked(key)
}

func (c *Cache[K, V]) eraseLocked(key K) {
	elem, ok := c.entries[key]
	if !ok {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, key)
}

// TraverseNewest invokes cb(key, value) for every entry, most-recently
// used first. Traversal stops early if cb returns false.
func (c *Cache[K, V]) TraverseNewest(cb func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry[K, V])
		if !cb(e.key, e.value) {
			return
		}
	}
}

// TraverseOldest invokes cb(key, value) for every entry, least-recently
// used first. Traversal stops early if cb returns false.
func (c *Cache[K, V]) TraverseOldest(cb func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry[K, V])
		if !cb(e.key, e.value) {
			return
		}
	}
}

// Size returns the current number of entries.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictForInsert evicts the oldest removable entry if the cache is at
// capacity. Must be called with c.mu held, before the new entry is
// inserted.
func (c *Cache[K, V]) evictForInsert() {
	if c.maxSize <= 0 || len(c.entries) < c.maxSize {
		return
	}

	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry[K, V])
		if c.removable(e.value) {
			c.recency.Remove(elem)
			delete(c.entries, e.key)
			return
		}
	}
	// No removable entry found; let the map exceed capacity. The next
	// insertion will retry.
}
