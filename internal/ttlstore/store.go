// Package ttlstore provides the RAM-only key/value store with per-entry
// time-to-live that backs the mapping, status, approval and receipt stores.
//
// Entries are never persisted. Eviction is lazy: an expired entry is removed
// the first time it is read after its deadline, or by an explicit Sweep.
package ttlstore

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake clock.
type Clock func() time.Time

// entry represents a single value with its expiry deadline
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// expired reports whether the entry is unreadable at now.
// A zero TTL yields an entry that is already expired on the next read.
func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Store is a concurrency-safe map whose entries expire after a fixed TTL.
// Thread-safe implementation using sync.Mutex
type Store[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	ttl     time.Duration
	clock   Clock
	evicted uint64
}

// Option configures a Store
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New creates a Store with the given TTL. Negative TTLs are treated as zero.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Store[K, V] {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Store[K, V]{
		entries: make(map[K]*entry[V]),
		ttl:     ttl,
		clock:   o.clock,
	}
}

// TTL returns the configured time-to-live
func (s *Store[K, V]) TTL() time.Duration {
	return s.ttl
}

// Now returns the store's notion of the current time
func (s *Store[K, V]) Now() time.Time {
	return s.clock()
}

// Set stores value under key, stamping now + TTL as its deadline.
// Returns the deadline.
func (s *Store[K, V]) Set(key K, value V) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.clock().Add(s.ttl)
	s.entries[key] = &entry[V]{value: value, expiresAt: expiresAt}
	return expiresAt
}

// Get returns the value for key if present and unexpired.
// An expired entry is evicted and reported absent.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(key)
}

// GetWithExpiry is Get that also returns the entry deadline
func (s *Store[K, V]) GetWithExpiry(key K) (V, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.getLocked(key)
	if !ok {
		return value, time.Time{}, false
	}
	return value, s.entries[key].expiresAt, true
}

func (s *Store[K, V]) getLocked(key K) (V, bool) {
	var zero V
	e, exists := s.entries[key]
	if !exists {
		return zero, false
	}
	if e.expired(s.clock()) {
		delete(s.entries, key)
		s.evicted++
		return zero, false
	}
	return e.value, true
}

// Update applies fn to the current value for key (or the zero value and
// false when absent or expired) and stores the result with a fresh deadline.
// The whole read-modify-write runs under the store lock.
func (s *Store[K, V]) Update(key K, fn func(current V, found bool) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found := s.getLocked(key)
	next := fn(current, found)
	s.entries[key] = &entry[V]{value: next, expiresAt: s.clock().Add(s.ttl)}
	return next
}

// Delete removes key regardless of expiry
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Sweep removes every expired entry and returns how many were removed
func (s *Store[K, V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.evicted += uint64(removed)
	return removed
}

// Len returns the number of held entries, expired-but-unread included
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Stats represents store statistics
type Stats struct {
	Size    int
	Evicted uint64
	TTL     time.Duration
}

// Stats returns current store statistics
func (s *Store[K, V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Size:    len(s.entries),
		Evicted: s.evicted,
		TTL:     s.ttl,
	}
}

// Clear removes all entries
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[K]*entry[V])
}
