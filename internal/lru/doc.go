// Package lru implements a generic, bounded, recency-ordered map used as
// the building block for the object metadata cache (internal/metacache).
//
// It mirrors the shape of the teacher's internal/cache.LRUCache but drops
// the byte-range-specific key encoding in favor of a type-parameterized
// Cache[K, V] with a caller-supplied removability predicate, so eviction
// can be restricted to entries with no outstanding references (open
// file handles, in-flight fetches) instead of always evicting the
// coldest entry.
package lru
