// Package cache provides process-lifetime caches with explicit expiry checks.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with the instant it was stored.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// Age returns how old the entry is at now.
func (e Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// FreshAt reports whether the entry is younger than ttl at now.
func (e Entry[V]) FreshAt(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}

// Memory is an in-process map cache. Entries are kept for the retention
// period; callers decide freshness by comparing StoredAt themselves.
type Memory[V any] struct {
	mu        sync.RWMutex
	items     map[string]Entry[V]
	retention time.Duration
	now       func() time.Time
}

// NewMemory creates a cache that forgets entries older than retention.
// A zero retention keeps entries until they are deleted.
func NewMemory[V any](retention time.Duration) *Memory[V] {
	return &Memory[V]{
		items:     make(map[string]Entry[V]),
		retention: retention,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	m.now = now
	return m
}

// Get returns the entry for key regardless of age, as long as it is retained.
func (m *Memory[V]) Get(key string) (Entry[V], bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return Entry[V]{}, false
	}
	if m.retention > 0 && e.Age(m.now()) >= m.retention {
		m.Delete(key)
		return Entry[V]{}, false
	}
	return e, true
}

// Fresh returns the value only when it is younger than ttl.
func (m *Memory[V]) Fresh(key string, ttl time.Duration) (V, bool) {
	e, ok := m.Get(key)
	if !ok || !e.FreshAt(m.now(), ttl) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key, stamped with the current time.
func (m *Memory[V]) Set(key string, value V) {
	m.SetAt(key, value, m.now())
}

// SetAt stores value with an explicit timestamp.
func (m *Memory[V]) SetAt(key string, value V, storedAt time.Time) {
	m.mu.Lock()
	m.items[key] = Entry[V]{Value: value, StoredAt: storedAt}
	m.mu.Unlock()
}

// Delete removes key.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Prune drops every entry past retention and returns how many were removed.
func (m *Memory[V]) Prune() int {
	if m.retention <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.items {
		if e.Age(now) >= m.retention {
			delete(m.items, k)
			n++
		}
	}
	return n
}
