// Package keylock serializes work per key while letting distinct keys run in
// parallel. Lock table entries are reference counted and removed as soon as
// no goroutine holds or waits on them.
package keylock

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locker is a table of per-key mutexes
type Locker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*lockEntry
}

// New creates an empty Locker
func New[K comparable]() *Locker[K] {
	return &Locker[K]{locks: make(map[K]*lockEntry)}
}

// Lock blocks until the caller holds key and returns the matching unlock.
// The returned func must be called exactly once.
func (l *Locker[K]) Lock(key K) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
