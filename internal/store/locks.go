package store

import (
	"sort"
	"sync"
)

// keyedMutex serializes writers per key without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires every key in sorted order and returns the release func.
// Sorting keeps concurrent multi-key callers from deadlocking.
func (k *keyedMutex) Lock(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key != "" && !seen[key] {
			seen[key] = true
			uniq = append(uniq, key)
		}
	}
	sort.Strings(uniq)

	held := make([]*keyLock, 0, len(uniq))
	for _, key := range uniq {
		k.mu.Lock()
		l, ok := k.locks[key]
		if !ok {
			l = &keyLock{}
			k.locks[key] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, key := range uniq {
			l := held[i]
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}

// size returns the number of keys currently held or awaited.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func artifactKey(id string) string { return "artifact:" + id }
func linkKey(id string) string     { return "link:" + id }
