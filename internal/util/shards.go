package util

import "runtime"

// MaxShards is the hard shard-count ceiling. The shard id is encoded in
// the top 8 bits of a handle's 32-bit position, so more than 256 shards
// cannot be addressed.
const MaxShards = 256

// ReasonableShardCount picks a practical default shard count from CPU
// parallelism: nextPow2(2*GOMAXPROCS) clamped to [1..MaxShards].
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n > MaxShards {
		n = MaxShards
	}
	return n
}

// ClampShardCount normalizes a user-supplied shard count to [1..MaxShards].
func ClampShardCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxShards {
		return MaxShards
	}
	return n
}

// ShardIndex maps a 64-bit hash to a shard index. Power-of-two counts
// take the mask fast path; arbitrary counts fall back to modulo.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(shards)) {
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}
