package fdcache

// Handle is an opaque 64-bit capability for a stored value.
//
// Bit layout, most significant first:
//
//	[ type:8 | generation:24 | position:32 ]
//
// The position is a direct slot index in Cache. In Sharded it is split
// further into [ shard:8 | local:24 ]. The generation field makes reuse
// of a slot detectable: it is bumped on every erase, so a handle taken
// before the erase no longer matches the slot and fails validation.
type Handle uint64

// NullHandle is the reserved invalid handle. No valid handle equals it:
// every live slot carries generation >= 1, so a packed handle is non-zero.
const NullHandle Handle = 0

const (
	positionBits   = 32
	generationBits = 24
	typeBits       = 8

	positionMask   = Handle(1)<<positionBits - 1
	generationMask = (Handle(1)<<generationBits - 1) << positionBits
	typeMask       = (Handle(1)<<typeBits - 1) << (positionBits + generationBits)

	// maxGeneration is the largest encodable generation. The bump rule
	// wraps maxGeneration back to 1, skipping the reserved value 0.
	maxGeneration = uint32(1)<<generationBits - 1
)

// Sharded position split: [ shard:8 | local:24 ].
const (
	shardBits = 8
	localBits = positionBits - shardBits

	maxShards = 1 << shardBits
	localMask = uint32(1)<<localBits - 1
)

// MakeHandle packs type, generation and position into a Handle.
// Fields are masked, not range-checked; callers pass in-range values.
func MakeHandle(typ uint8, generation, position uint32) Handle {
	t := Handle(typ) << (positionBits + generationBits) & typeMask
	g := Handle(generation) << positionBits & generationMask
	p := Handle(position) & positionMask
	return t | g | p
}

// Type extracts the client-chosen type tag.
func (h Handle) Type() uint8 {
	return uint8((h & typeMask) >> (positionBits + generationBits))
}

// Generation extracts the slot reuse counter.
func (h Handle) Generation() uint32 {
	return uint32((h & generationMask) >> positionBits)
}

// Position extracts the 32-bit slot position.
func (h Handle) Position() uint32 {
	return uint32(h & positionMask)
}

// Shard extracts the shard id from a handle issued by a Sharded cache.
func (h Handle) Shard() uint32 {
	return h.Position() >> localBits
}

// Local extracts the in-shard slot index from a handle issued by a
// Sharded cache.
func (h Handle) Local() uint32 {
	return h.Position() & localMask
}

// IsNull reports whether h is the reserved null handle.
func (h Handle) IsNull() bool { return h == NullHandle }
