// Package cache provides a small TTL-bounded map used wherever the service
// keeps a read-through view of slow-moving store data (node registry,
// teleporter lookup). Entries carry their own refresh timestamp so a point
// insert does not extend the life of the rest of the map.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value       V
	refreshedAt time.Time
}

// Map is a concurrency-safe map with per-entry and whole-map freshness.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[K]entry[V]
	full    time.Time // last wholesale replacement

	now func() time.Time
}

// NewMap returns an empty Map whose entries expire after ttl.
func NewMap[K comparable, V any](ttl time.Duration) *Map[K, V] {
	return &Map[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for k if it is still fresh.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[k]
	if !ok || m.now().Sub(e.refreshedAt) > m.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns the cached value for k regardless of age. It is the
// degraded read path taken when the backing store cannot be reached.
func (m *Map[K, V]) GetStale(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put inserts or refreshes a single entry without touching the rest.
func (m *Map[K, V]) Put(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = entry[V]{value: v, refreshedAt: m.now()}
}

// Delete removes a single entry. Absent keys are a no-op.
func (m *Map[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, k)
}

// ReplaceAll swaps the whole map contents and marks the map fully fresh.
func (m *Map[K, V]) ReplaceAll(values map[K]V) {
	now := m.now()
	entries := make(map[K]entry[V], len(values))
	for k, v := range values {
		entries[k] = entry[V]{value: v, refreshedAt: now}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.full = now
}

// Fresh reports whether the last wholesale replacement is within the TTL.
func (m *Map[K, V]) Fresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.full.IsZero() && m.now().Sub(m.full) <= m.ttl
}

// Values returns all entries regardless of age. Callers that need freshness
// check Fresh first; serving stale values is the deliberate degraded mode.
func (m *Map[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]V, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.value)
	}
	return out
}

// Len returns the number of entries, fresh or not.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
