package fdcache

// RejectReason explains why an insert was refused.
type RejectReason int

const (
	// RejectCapacity — the shard's slot store is full.
	RejectCapacity RejectReason = iota
	// RejectIndexFull — the flat index refused the key: it already holds
	// its logical capacity of live keys (tombstones do not count).
	RejectIndexFull
)

// Metrics exposes cache-level observability hooks for the sharded cache.
// Implementations must be safe for concurrent use. NoopMetrics is used
// by default.
type Metrics interface {
	// Hit — a handle validated and the operation reached its value.
	Hit()
	// Miss — a handle failed validation (null, out of range, freed
	// slot, type or generation mismatch).
	Miss()
	// Insert — a new entry was stored.
	Insert()
	// Erase — an entry was removed and its slot recycled.
	Erase()
	// Reject — an insert was refused.
	Reject(reason RejectReason)
	// Size — current population after a mutation (advisory; may lag
	// under concurrency).
	Size(entries int)
}

// Options configures a Sharded cache. The zero value is usable: shard
// count and capacity get defaults, metrics become NoopMetrics.
type Options struct {
	// Shards is the number of independent partitions. Clamped to
	// [1, 256]; the ceiling is architectural (the shard id lives in the
	// top 8 bits of a handle's position). 0 picks a default from CPU
	// parallelism.
	Shards int

	// ReserveHint is the total slot capacity, split evenly across
	// shards (per-shard result clamped to [1, 1<<24]). 0 means 32768.
	// Keys route to shards by hash, so one shard can run out of slots
	// before the total population reaches the hint.
	ReserveHint int

	// Metrics receives operation signals; nil => NoopMetrics.
	Metrics Metrics
}
