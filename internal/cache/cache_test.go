package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMap(ttl time.Duration) (*Map[string, int], *time.Time) {
	m := NewMap[string, int](ttl)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestGetRespectsTTL(t *testing.T) {
	m, clock := newTestMap(30 * time.Second)

	m.Put("a", 1)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	*clock = clock.Add(31 * time.Second)
	_, ok = m.Get("a")
	assert.False(t, ok, "expired entry must not be served by Get")
}

func TestGetStaleIgnoresTTL(t *testing.T) {
	m, clock := newTestMap(30 * time.Second)

	m.Put("a", 1)
	*clock = clock.Add(time.Hour)

	v, ok := m.GetStale("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.GetStale("missing")
	assert.False(t, ok)
}

func TestPutRefreshesSingleEntry(t *testing.T) {
	m, clock := newTestMap(30 * time.Second)

	m.Put("old", 1)
	*clock = clock.Add(20 * time.Second)
	m.Put("new", 2)
	*clock = clock.Add(15 * time.Second)

	_, ok := m.Get("old")
	assert.False(t, ok, "35s old entry must be expired")
	v, ok := m.Get("new")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestReplaceAllMarksFresh(t *testing.T) {
	m, clock := newTestMap(30 * time.Second)

	assert.False(t, m.Fresh(), "empty map has never been replaced")

	m.ReplaceAll(map[string]int{"a": 1, "b": 2})
	assert.True(t, m.Fresh())
	assert.Equal(t, 2, m.Len())

	*clock = clock.Add(31 * time.Second)
	assert.False(t, m.Fresh())
}

func TestPointPutDoesNotExtendWholeMap(t *testing.T) {
	m, clock := newTestMap(30 * time.Second)

	m.ReplaceAll(map[string]int{"a": 1})
	*clock = clock.Add(25 * time.Second)
	m.Put("b", 2)
	*clock = clock.Add(10 * time.Second)

	assert.False(t, m.Fresh(), "point insert must not refresh the wholesale timestamp")
	_, ok := m.Get("b")
	assert.True(t, ok, "the point entry itself is still fresh")
}

func TestValuesServesStaleEntries(t *testing.T) {
	m, clock := newTestMap(30 * time.Second)

	m.ReplaceAll(map[string]int{"a": 1, "b": 2})
	*clock = clock.Add(time.Hour)

	assert.ElementsMatch(t, []int{1, 2}, m.Values())
}

func TestDelete(t *testing.T) {
	m, _ := newTestMap(30 * time.Second)

	m.Put("a", 1)
	m.Delete("a")
	m.Delete("never-existed")

	_, ok := m.GetStale("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestReplaceAllDropsOldEntries(t *testing.T) {
	m, _ := newTestMap(30 * time.Second)

	m.Put("a", 1)
	m.ReplaceAll(map[string]int{"b": 2})

	_, ok := m.GetStale("a")
	assert.False(t, ok, "wholesale replacement discards previous contents")
	v, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
