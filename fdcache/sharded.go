package fdcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/fdcache/internal/flatindex"
	"github.com/IvanBrykalov/fdcache/internal/singleflight"
	"github.com/IvanBrykalov/fdcache/internal/util"
)

// ErrNoLoader is returned by GetOrInsert when no loader was supplied.
var ErrNoLoader = errors.New("fdcache: no loader provided")

// ErrCapacity is returned by GetOrInsert when the loaded value could not
// be stored (slot store or index full in the key's shard).
var ErrCapacity = errors.New("fdcache: capacity exhausted")

// shard is one independent partition: its own lock, slot store and flat
// index keyed by local slot index. Nothing in a shard is ever touched
// from another shard's critical section.
type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	store slotStore[K, V]
	index *flatindex.Map[K]

	// Hot counters on their own cache lines so that shards hammered by
	// different threads do not false-share.
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

// Sharded is the concurrent variant: the keyspace is partitioned across
// up to 256 independently locked shards, each structurally identical to
// Cache. Handles encode the owning shard in the top 8 bits of the
// position, so handle operations go straight to one shard and take one
// lock.
//
// All methods are safe for concurrent use by multiple goroutines.
type Sharded[K comparable, V any] struct {
	shards      []shard[K, V]
	perShardCap uint32
	hash        func(K) uint64
	metrics     Metrics

	// Advisory cross-shard population counter. Exactness across shards
	// is not promised; Len may lag shard-local truth.
	size atomic.Int64

	sf singleflight.Group[K, Handle]
}

// NewSharded constructs a sharded cache from Options. All per-shard
// storage is allocated here; nothing grows afterwards.
func NewSharded[K comparable, V any](opt Options) *Sharded[K, V] {
	shardCount := opt.Shards
	if shardCount <= 0 {
		shardCount = util.ReasonableShardCount()
	}
	shardCount = util.ClampShardCount(shardCount)

	perShard := perShardCapacity(shardCount, opt.ReserveHint)

	m := opt.Metrics
	if m == nil {
		m = NoopMetrics{}
	}

	c := &Sharded[K, V]{
		shards:      make([]shard[K, V], shardCount),
		perShardCap: perShard,
		hash:        util.Hash64[K],
		metrics:     m,
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.store.init(int(perShard))
		s.index = flatindex.New[K](int(perShard), c.hash)
	}
	return c
}

// perShardCapacity splits the total hint evenly (ceil) and clamps the
// result to [1, 1<<24]: the local index must fit in 24 bits.
func perShardCapacity(shardCount, reserveHint int) uint32 {
	total := reserveHint
	if total <= 0 {
		total = 1 << 15
	}
	per := (total + shardCount - 1) / shardCount
	if per < 1 {
		per = 1
	}
	if hard := int(localMask) + 1; per > hard {
		per = hard
	}
	return uint32(per)
}

// Len returns the advisory total population across all shards.
func (c *Sharded[K, V]) Len() int { return int(c.size.Load()) }

// Empty reports whether the cache is (advisorily) empty.
func (c *Sharded[K, V]) Empty() bool { return c.Len() == 0 }

// ShardCount returns the number of shards after clamping.
func (c *Sharded[K, V]) ShardCount() int { return len(c.shards) }

// Cap returns the total slot capacity across shards.
func (c *Sharded[K, V]) Cap() int { return len(c.shards) * int(c.perShardCap) }

// Insert stores key/value in the key's shard and returns a handle. If
// the key is already present, the existing handle is returned and the
// stored value is left untouched. Returns NullHandle when the shard is
// out of slots or index capacity.
func (c *Sharded[K, V]) Insert(typ uint8, key K, value V) Handle {
	return c.insert(typ, key, value, false)
}

// InsertOrAssign is Insert that, for an existing key, overwrites value
// and type in place. Position and generation are preserved, so handles
// carrying the current generation stay valid.
func (c *Sharded[K, V]) InsertOrAssign(typ uint8, key K, value V) Handle {
	return c.insert(typ, key, value, true)
}

func (c *Sharded[K, V]) insert(typ uint8, key K, value V, assign bool) Handle {
	shardID := c.shardFor(key)
	s := &c.shards[shardID]

	s.mu.Lock()
	defer s.mu.Unlock()

	if local, ok := s.index.Find(key); ok {
		sl := &s.store.slots[local]
		if assign {
			sl.value = value
			sl.typ = typ
		}
		return MakeHandle(sl.typ, sl.generation, encodePosition(shardID, local))
	}

	local := s.store.alloc()
	if local == invalidPosition {
		c.metrics.Reject(RejectCapacity)
		return NullHandle
	}

	sl := &s.store.slots[local]
	sl.key = key
	sl.value = value
	sl.typ = typ
	sl.occupied = true
	if !s.index.Insert(key, local) {
		// Roll back the slot write; the shard stays as it was.
		sl.occupied = false
		s.store.freePositions = append(s.store.freePositions, local)
		c.metrics.Reject(RejectIndexFull)
		return NullHandle
	}
	c.size.Add(1)
	c.metrics.Insert()
	c.metrics.Size(c.Len())
	return MakeHandle(typ, sl.generation, encodePosition(shardID, local))
}

// Read validates h under the shard's shared lock and invokes reader with
// the stored value while the lock is held. The reader must be short,
// must not mutate or retain the pointer, and must not re-enter the
// cache. Returns false if h does not validate.
func (c *Sharded[K, V]) Read(h Handle, reader func(v *V)) bool {
	s, local, ok := c.locate(h)
	if !ok {
		c.metrics.Miss()
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sl := &s.store.slots[local]
	if !validateSlot(sl, h) {
		s.misses.Add(1)
		c.metrics.Miss()
		return false
	}
	reader(&sl.value)
	s.hits.Add(1)
	c.metrics.Hit()
	return true
}

// Write validates h under the shard's exclusive lock and invokes writer
// with the stored value while the lock is held. Same callback contract
// as Read.
func (c *Sharded[K, V]) Write(h Handle, writer func(v *V)) bool {
	s, local, ok := c.locate(h)
	if !ok {
		c.metrics.Miss()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.store.slots[local]
	if !validateSlot(sl, h) {
		s.misses.Add(1)
		c.metrics.Miss()
		return false
	}
	writer(&sl.value)
	s.hits.Add(1)
	c.metrics.Hit()
	return true
}

// Get copies the value referenced by h into out. Returns false if h does
// not validate (out is left untouched) or out is nil.
func (c *Sharded[K, V]) Get(h Handle, out *V) bool {
	if out == nil {
		return false
	}
	return c.Read(h, func(v *V) { *out = *v })
}

// Update replaces the value referenced by h.
func (c *Sharded[K, V]) Update(h Handle, value V) bool {
	return c.Write(h, func(v *V) { *v = value })
}

// Erase invalidates h: the key leaves the index, the slot's generation
// advances and its local position returns to the shard's freelist.
func (c *Sharded[K, V]) Erase(h Handle) bool {
	s, local, ok := c.locate(h)
	if !ok {
		c.metrics.Miss()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.store.slots[local]
	if !validateSlot(sl, h) {
		s.misses.Add(1)
		c.metrics.Miss()
		return false
	}
	if !s.index.Erase(sl.key) {
		// Index and slot disagree; leave the slot intact.
		return false
	}
	s.store.free(local)
	c.size.Add(-1)
	c.metrics.Erase()
	c.metrics.Size(c.Len())
	return true
}

// FindHandle returns the current handle for key, or NullHandle. One hash
// plus an index probe under the shard's shared lock; callers are
// expected to keep the handle and use the O(1) handle path afterwards.
func (c *Sharded[K, V]) FindHandle(key K) Handle {
	shardID := c.shardFor(key)
	s := &c.shards[shardID]

	s.mu.RLock()
	defer s.mu.RUnlock()

	local, ok := s.index.Find(key)
	if !ok {
		return NullHandle
	}
	sl := &s.store.slots[local]
	return MakeHandle(sl.typ, sl.generation, encodePosition(shardID, local))
}

// GetOrInsert returns the handle for key, loading and inserting the
// value on a miss. Concurrent calls for the same key are coalesced so
// the loader runs at most once (singleflight). Returns ErrNoLoader for a
// nil loader and ErrCapacity when the insert is refused.
func (c *Sharded[K, V]) GetOrInsert(
	ctx context.Context,
	typ uint8,
	key K,
	loader func(ctx context.Context, key K) (V, error),
) (Handle, error) {
	if h := c.FindHandle(key); !h.IsNull() {
		return h, nil
	}
	if loader == nil {
		return NullHandle, ErrNoLoader
	}

	return c.sf.Do(ctx, key, func() (Handle, error) {
		// Double-check after flight join.
		if h := c.FindHandle(key); !h.IsNull() {
			return h, nil
		}
		v, err := loader(ctx, key)
		if err != nil {
			return NullHandle, err
		}
		h := c.Insert(typ, key, v)
		if h.IsNull() {
			return NullHandle, ErrCapacity
		}
		return h, nil
	})
}

// Stats aggregates the per-shard counters. Numbers are advisory under
// concurrent load.
func (c *Sharded[K, V]) Stats() Stats {
	st := Stats{Entries: c.Len()}
	for i := range c.shards {
		s := &c.shards[i]
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
	}
	return st
}

// ---- helpers ----

func (c *Sharded[K, V]) shardFor(key K) uint32 {
	return uint32(util.ShardIndex(c.hash(key), len(c.shards)))
}

// locate decodes h and bounds-checks the shard id and local index.
func (c *Sharded[K, V]) locate(h Handle) (*shard[K, V], uint32, bool) {
	if h.IsNull() {
		return nil, 0, false
	}
	shardID := h.Shard()
	local := h.Local()
	if shardID >= uint32(len(c.shards)) || local >= c.perShardCap {
		return nil, 0, false
	}
	return &c.shards[shardID], local, true
}

// encodePosition packs shard id and local index into the 32-bit position
// field: [ shard:8 | local:24 ].
func encodePosition(shardID, local uint32) uint32 {
	return shardID<<localBits | local&localMask
}

// Compile-time check: the codec's shard field and util.MaxShards agree.
var (
	_ [util.MaxShards - maxShards]byte
	_ [maxShards - util.MaxShards]byte
)

// validateSlot checks occupancy, type and generation against h. The
// position checks already happened in locate.
func validateSlot[K comparable, V any](sl *slot[K, V], h Handle) bool {
	if !sl.occupied {
		return false
	}
	if sl.typ != h.Type() {
		return false
	}
	if sl.generation != h.Generation() {
		return false
	}
	return true
}

// Number constrains Add deltas to the built-in numeric types.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// Add atomically (with respect to the shard lock) adds delta to the
// value referenced by h. It is a free function because methods cannot
// further constrain V.
func Add[K comparable, V Number](c *Sharded[K, V], h Handle, delta V) bool {
	return c.Write(h, func(v *V) { *v += delta })
}
