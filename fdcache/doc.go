// Package fdcache provides a handle-based key/value cache for
// known-bounded working sets: clients trade a key lookup once for an
// opaque 64-bit handle, then access the value in O(1) with no hashing or
// key comparison on the hot path. Stale handles — ones whose slot has
// been freed and possibly reused — are detected and rejected via a
// per-slot generation counter embedded in the handle.
//
// Two variants share one handle encoding, slot layout and index
// structure:
//
//   - Cache: single-owner, zero locks, for one goroutine that wants pure
//     locality.
//   - Sharded: the keyspace is partitioned across up to 256 shards, each
//     with its own RWMutex, slot array and index; handles route straight
//     to their shard.
//
// # Handles
//
// A Handle packs [ type:8 | generation:24 | position:32 ]. The type tag
// is chosen by the client and checked on every access; the generation is
// bumped whenever a slot is freed, so a handle from before the free no
// longer validates — even if the same key later lands in the same slot.
// NullHandle (0) is never valid. Handles are meaningful only within one
// cache instance in one process lifetime.
//
// # Storage
//
// Capacity is fixed at construction: every slot is materialized up
// front, the key->position index is a flat open-addressed table sized to
// the next power of two at or above twice the capacity, and nothing ever
// grows or rehashes. Exhaustion is
// reported (NullHandle), not absorbed; clients that need more room
// rebuild the cache. This is a deliberate latency-predictability choice.
//
// # Errors
//
// Hot-path refusals are sentinels, never panics: NullHandle from
// inserts, false from Erase/Read/Write/Update, nil from Get. The only
// error-returning API is the loader path (GetOrInsert).
//
// Basic usage:
//
//	c := fdcache.New[uint64, uint64](1 << 16)
//	h := c.Insert(1, 42, 1000)
//	if v := c.Get(h); v != nil {
//	    *v += 1 // borrowed until the next mutating call
//	}
//	c.Erase(h)
//	c.Get(h) // nil: the handle is stale now
//
// Concurrent usage:
//
//	s := fdcache.NewSharded[string, int64](fdcache.Options{ReserveHint: 1 << 20})
//	h := s.Insert(1, "counter", 0)
//	fdcache.Add(s, h, 5)
//	var v int64
//	s.Get(h, &v)
//
// Sharded.Read and Sharded.Write run their callback while holding the
// shard lock: keep callbacks short, do not retain the pointer, and do
// not call back into the cache from inside one.
package fdcache
