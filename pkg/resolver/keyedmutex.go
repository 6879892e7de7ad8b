package resolver

import (
	"sort"
	"sync"
)

// KeyedMutex serializes work per string key. Merges for the same canonical
// entity must not interleave across concurrent episodes; merges for distinct
// entities run in parallel.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entityLock)}
}

// LockAll acquires the locks for every key in a canonical order, so two
// episodes touching overlapping entity sets can never deadlock. The returned
// function releases them all.
func (km *KeyedMutex) LockAll(keys []string) func() {
	unique := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		unique[k] = struct{}{}
	}
	ordered := make([]string, 0, len(unique))
	for k := range unique {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	acquired := make([]*entityLock, 0, len(ordered))
	for _, k := range ordered {
		km.mu.Lock()
		l, ok := km.locks[k]
		if !ok {
			l = &entityLock{}
			km.locks[k] = l
		}
		l.refs++
		km.mu.Unlock()

		l.mu.Lock()
		acquired = append(acquired, l)
	}

	keysCopy := ordered
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].mu.Unlock()

			km.mu.Lock()
			l := acquired[i]
			l.refs--
			if l.refs == 0 {
				delete(km.locks, keysCopy[i])
			}
			km.mu.Unlock()
		}
	}
}
