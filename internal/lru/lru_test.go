package lru

import (
	"sync"
	"testing"
)

func newestToOldest(c *Cache[string, int]) []string {
	var keys []string
	c.TraverseNewest(func(k string, v int) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func oldestToNewest(c *Cache[string, int]) []string {
	var keys []string
	c.TraverseOldest(func(k string, v int) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func sameOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

// TestWithoutPredicate exercises scenario 1 from §8: default predicate
// evicts the oldest entry regardless of value.
func TestWithoutPredicate(t *testing.T) {
	c := New[string, int](5, nil)

	c.Put("e1", 1)
	c.Put("e2", 2)
	c.Put("e3", 101)
	c.Put("e4", 102)
	sameOrder(t, newestToOldest(c), []string{"e4", "e3", "e2", "e1"})

	c.Put("e5", 200)
	c.Put("e6", 300)
	// e1 is oldest, evicted.
	sameOrder(t, newestToOldest(c), []string{"e6", "e5", "e4", "e3", "e2"})

	if _, ok := c.Find("e1"); ok {
		t.Fatal("e1 should have been evicted")
	}

	if v, ok := c.Find("e2"); !ok || v != 2 {
		t.Fatalf("expected e2=2, got %v %v", v, ok)
	}
	// Find must not move recency.
	sameOrder(t, newestToOldest(c), []string{"e6", "e5", "e4", "e3", "e2"})

	c.GetOrDefault("e2")
	sameOrder(t, newestToOldest(c), []string{"e2", "e6", "e5", "e4", "e3"})
}

// TestWithRemovablePredicate exercises scenario 2 from §8: eviction
// skips unremovable entries and takes the oldest removable one.
func TestWithRemovablePredicate(t *testing.T) {
	removable := func(v int) bool { return v > 100 }
	c := New[string, int](5, removable)

	c.Put("e1", 1)
	c.Put("e2", 2)
	c.Put("e3", 101)
	c.Put("e4", 102)
	c.Put("e5", 200)
	c.Put("e6", 300)

	// e1 and e2 are not removable (<=100); the oldest removable entry
	// is e3 (101).
	if _, ok := c.Find("e3"); ok {
		t.Fatal("e3 should have been evicted as the oldest removable entry")
	}
	if _, ok := c.Find("e1"); !ok {
		t.Fatal("e1 is not removable and must survive")
	}

	sameOrder(t, oldestToNewest(c), []string{"e1", "e2", "e4", "e5", "e6"})
}

// TestNoRemovableEntriesExceedsCapacity covers the "no entry is ever
// evicted" invariant: insertions always succeed even past capacity.
func TestNoRemovableEntriesExceedsCapacity(t *testing.T) {
	c := New[string, int](2, func(int) bool { return false })

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("d", 4)

	if c.Size() != 4 {
		t.Fatalf("expected size 4 (capacity exceeded), got %d", c.Size())
	}
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, ok := c.Find(k); !ok {
			t.Fatalf("expected %s to still be present", k)
		}
	}
}

// TestBoundedWhenAllRemovable covers "size() <= max_size after every
// insertion" when the predicate admits everything.
func TestBoundedWhenAllRemovable(t *testing.T) {
	c := New[string, int](3, func(int) bool { return true })

	for i := 0; i < 50; i++ {
		c.Put(string(rune('a'+i%26))+string(rune(i)), i)
		if c.Size() > 3 {
			t.Fatalf("size exceeded capacity: %d", c.Size())
		}
	}
}

// TestConcurrentAccess exercises the chain-integrity invariant under
// concurrent GetOrDefault/Put/Erase — the structure must never panic
// or corrupt its recency list.
func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](64, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := (i + j) % 100
				c.Put(key, j)
				c.Find(key)
				if j%7 == 0 {
					c.Erase(key)
				}
			}
		}(i)
	}
	wg.Wait()

	// The recency chain must still be walkable and agree on length.
	var forward, backward int
	c.TraverseNewest(func(k int, v int) bool { forward++; return true })
	c.TraverseOldest(func(k int, v int) bool { backward++; return true })
	if forward != backward || forward != c.Size() {
		t.Fatalf("chain length mismatch: forward=%d backward=%d size=%d", forward, backward, c.Size())
	}
}
