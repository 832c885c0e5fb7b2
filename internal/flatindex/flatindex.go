// Package flatindex implements a fixed-capacity, open-addressed hash map
// from keys to 32-bit slot indices.
//
// The table is flat (one contiguous bucket array), probes linearly, and
// never rehashes: the physical length is fixed at construction to the
// next power of two >= 2x the logical capacity, so the load factor stays
// at or below one half. Deletions leave tombstones to keep probe chains
// intact; insertion reuses the first tombstone met on its probe path.
package flatindex

import "github.com/IvanBrykalov/fdcache/internal/util"

const (
	stateEmpty uint8 = iota
	stateOccupied
	stateDeleted
)

type entry[K comparable] struct {
	key   K
	value uint32
	state uint8
}

// Map maps Key -> uint32 slot index. Not safe for concurrent use; the
// owning cache serializes access.
type Map[K comparable] struct {
	table      []entry[K]
	mask       uint64
	maxEntries int
	size       int
	tombstones int
	hash       func(K) uint64
}

// New allocates all storage for a map with the given logical capacity.
// The hash function is injected so callers can share one hasher between
// shard routing and probing (and tests can force collisions).
func New[K comparable](maxEntries int, hash func(K) uint64) *Map[K] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	n := util.NextPow2(uint64(maxEntries) * 2)
	return &Map[K]{
		table:      make([]entry[K], n),
		mask:       n - 1,
		maxEntries: maxEntries,
		hash:       hash,
	}
}

// Len returns the number of live keys.
func (m *Map[K]) Len() int { return m.size }

// Tombstones returns the number of deleted buckets still holding their
// probe chains open.
func (m *Map[K]) Tombstones() int { return m.tombstones }

// Find probes for key and returns its slot index.
// The probe stops early at the first never-used bucket.
func (m *Map[K]) Find(key K) (uint32, bool) {
	idx := m.hash(key) & m.mask
	for range m.table {
		e := &m.table[idx]
		if e.state == stateEmpty {
			return 0, false
		}
		if e.state == stateOccupied && e.key == key {
			return e.value, true
		}
		idx = (idx + 1) & m.mask
	}
	return 0, false
}

// Insert maps key to value, overwriting the value of an existing key in
// place. A new key lands in the first tombstone seen on the probe path
// if there was one, otherwise in the terminating empty bucket. Returns
// false when the logical capacity is exhausted.
func (m *Map[K]) Insert(key K, value uint32) bool {
	idx := m.hash(key) & m.mask
	var firstDeleted uint64
	haveDeleted := false

	for range m.table {
		e := &m.table[idx]
		switch e.state {
		case stateEmpty:
			if haveDeleted {
				idx = firstDeleted
			}
			return m.insertAt(idx, key, value)
		case stateDeleted:
			if !haveDeleted {
				firstDeleted = idx
				haveDeleted = true
			}
		default:
			if e.key == key {
				e.value = value
				return true
			}
		}
		idx = (idx + 1) & m.mask
	}

	// Full scan without an empty bucket: the table is saturated with
	// occupied buckets and tombstones. A remembered tombstone is still
	// usable.
	if haveDeleted {
		return m.insertAt(firstDeleted, key, value)
	}
	return false
}

// Erase removes key, leaving a tombstone so that later keys on the same
// probe chain stay reachable. Returns false if key is absent.
func (m *Map[K]) Erase(key K) bool {
	idx := m.hash(key) & m.mask
	for range m.table {
		e := &m.table[idx]
		if e.state == stateEmpty {
			return false
		}
		if e.state == stateOccupied && e.key == key {
			e.state = stateDeleted
			m.size--
			m.tombstones++
			return true
		}
		idx = (idx + 1) & m.mask
	}
	return false
}

func (m *Map[K]) insertAt(idx uint64, key K, value uint32) bool {
	e := &m.table[idx]
	if e.state == stateOccupied {
		e.value = value
		return true
	}
	if m.size >= m.maxEntries {
		return false
	}
	if e.state == stateDeleted {
		m.tombstones--
	}
	e.key = key
	e.value = value
	e.state = stateOccupied
	m.size++
	return true
}
