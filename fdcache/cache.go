package fdcache

import (
	"github.com/IvanBrykalov/fdcache/internal/flatindex"
	"github.com/IvanBrykalov/fdcache/internal/util"
)

// Cache is the single-owner variant: one goroutine, no locks, pure
// locality. A handle returned by Insert gives O(1) access to the value
// with no hashing or key comparison on the Get path; Erase validates the
// handle the same way, then hashes the stored key once to remove it from
// the index.
//
// Cache is NOT safe for concurrent use. Use Sharded when multiple
// goroutines share the cache.
type Cache[K comparable, V any] struct {
	store slotStore[K, V]
	index *flatindex.Map[K]
	size  int
}

// New constructs a cache with a fixed slot capacity. A hint below 1 is
// clamped to 1. All storage (slots, freelist, index table) is allocated
// here; no operation grows it later.
func New[K comparable, V any](reserveHint int) *Cache[K, V] {
	c := &Cache[K, V]{}
	c.Reserve(reserveHint)
	return c
}

// Reserve discards all entries and rebuilds storage at a new fixed
// capacity. Handles issued before Reserve are only rejected by the
// occupancy/range checks, not by generation: treat them all as invalid.
func (c *Cache[K, V]) Reserve(n int) {
	if n < 1 {
		n = 1
	}
	c.store.init(n)
	c.index = flatindex.New[K](n, util.Hash64[K])
	c.size = 0
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int { return c.size }

// Empty reports whether the cache holds no entries.
func (c *Cache[K, V]) Empty() bool { return c.size == 0 }

// Cap returns the fixed slot capacity.
func (c *Cache[K, V]) Cap() int { return len(c.store.slots) }

// Insert stores key/value under the given type tag and returns a handle.
// If the key is already present the existing handle is returned and the
// stored value is left untouched. Returns NullHandle when the slot store
// or the index is full.
func (c *Cache[K, V]) Insert(typ uint8, key K, value V) Handle {
	if pos, ok := c.index.Find(key); ok {
		return c.buildHandle(pos)
	}

	pos := c.store.alloc()
	if pos == invalidPosition {
		return NullHandle
	}

	sl := &c.store.slots[pos]
	sl.key = key
	sl.value = value
	sl.typ = typ
	sl.occupied = true
	if !c.index.Insert(key, pos) {
		// Index refused (live-key bound reached); undo the slot write.
		sl.occupied = false
		c.store.freePositions = append(c.store.freePositions, pos)
		return NullHandle
	}
	c.size++
	return c.buildHandle(pos)
}

// InsertOrAssign behaves like Insert for a new key. For an existing key
// it updates value and type in place; position and generation, and hence
// all outstanding handles with the current generation, are preserved.
func (c *Cache[K, V]) InsertOrAssign(typ uint8, key K, value V) Handle {
	if pos, ok := c.index.Find(key); ok {
		sl := &c.store.slots[pos]
		sl.value = value
		sl.typ = typ
		return c.buildHandle(pos)
	}
	return c.Insert(typ, key, value)
}

// Get validates h and returns a pointer to the stored value, or nil.
// The pointer is borrowed: it stays valid only until the next mutating
// call on the cache.
func (c *Cache[K, V]) Get(h Handle) *V {
	pos := c.validate(h)
	if pos == invalidPosition {
		return nil
	}
	return &c.store.slots[pos].value
}

// Erase invalidates h, frees its slot and removes the key from the
// index. Returns false if h does not validate.
func (c *Cache[K, V]) Erase(h Handle) bool {
	pos := c.validate(h)
	if pos == invalidPosition {
		return false
	}

	// Index and slot must agree; a failed index erase on an occupied
	// slot would mean the two structures diverged. Reported as false
	// with the slot left intact rather than tearing half the state down.
	if !c.index.Erase(c.store.slots[pos].key) {
		return false
	}
	c.store.free(pos)
	c.size--
	return true
}

// FindHandle returns the current handle for key, or NullHandle. This is
// the slow path (one hash + probe); callers are expected to hold on to
// the handle afterwards.
func (c *Cache[K, V]) FindHandle(key K) Handle {
	pos, ok := c.index.Find(key)
	if !ok {
		return NullHandle
	}
	return c.buildHandle(pos)
}

// buildHandle packs the slot's current metadata for position pos.
func (c *Cache[K, V]) buildHandle(pos uint32) Handle {
	sl := &c.store.slots[pos]
	return MakeHandle(sl.typ, sl.generation, pos)
}

// validate is the hot path: five constant-time checks, no hashing, no
// key comparison. Returns the slot position or invalidPosition.
func (c *Cache[K, V]) validate(h Handle) uint32 {
	if h.IsNull() {
		return invalidPosition
	}
	pos := h.Position()
	if pos >= uint32(len(c.store.slots)) {
		return invalidPosition
	}
	sl := &c.store.slots[pos]
	if !sl.occupied {
		return invalidPosition
	}
	if sl.typ != h.Type() {
		return invalidPosition
	}
	if sl.generation != h.Generation() {
		return invalidPosition
	}
	return pos
}
