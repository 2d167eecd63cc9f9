package metacache

import "sync"

// keyedMutex hands out a per-key *sync.Mutex from a small refcounted
// map, allocating one on first use and dropping it once the last
// holder releases it — the Go equivalent of §4.5 step 3's "allocate a
// per-path mutex (or obtain it from a small map keyed by path)".
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key's mutex is held and returns a function that
// releases it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	rm, ok := k.locks[key]
	if !ok {
		rm = &refMutex{}
		k.locks[key] = rm
	}
	rm.refs++
	k.mu.Unlock()

	rm.mu.Lock()

	return func() {
		rm.mu.Unlock()

		k.mu.Lock()
		rm.refs--
		if rm.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
