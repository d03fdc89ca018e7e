package heap

// descriptor is the per-block metadata cell kept in an arena's descs
// slice, one per block. It records which free-list pool owns the
// block's granules; given any offset into an arena, descriptorOf
// resolves its governing block's descriptor in O(1) by indexing descs
// with the block number. The descriptors live in that Go slice, not in
// the arena's own bytes.
//
// Grounded on piecewise-rt/src/descriptor.rs's Descriptor enum
// (BlockArr/Block/ArenaArr variants); proff only needs the BlockArr case
// since every allocation here lives inside a single block-granularity
// region, so the variant tag collapses to a single struct.
type descriptor struct {
	// sizeClass is bucketClass if this block's granules belong to the
	// bucketed pool, or firstFitClass if they belong to the first-fit
	// pool instead.
	sizeClass int16
	// inUse is not written by allocation or sweep; it stays zero.
	inUse uint32
}

const (
	// firstFitClass marks a block as owned by the first-fit pool: either
	// it was carved by a bump allocation too large for any bucket class,
	// or it is a split remainder the first-fit pool tracks at its exact
	// size. sweep reads this tag to decide which pool a garbage block's
	// granules return to.
	firstFitClass int16 = -1
	// bucketClass marks a block as owned by the bucketed pool: it was
	// carved by a bump allocation that fit within bucketPool's
	// size-class ladder.
	bucketClass int16 = 0
)

// arena is a single reservation of ArenaBytes of backing storage together
// with its descriptor table and the cursor for still-unused space.
type arena struct {
	base  []byte
	descs []descriptor
	// next is the byte offset of the first granule not yet carved out of
	// this arena's bump region (blocks are only created lazily, on first
	// touch, via descriptorOf).
	next uintptr
	// liveRecords tracks every bump-allocated object's offset and
	// granule size so that sweep can consider reclaiming it; freed
	// records are dropped once their generation's sweep confirms they
	// did not survive.
	liveRecords []liveRecord
}

// liveRecord remembers one allocation's extent so sweep can return it to
// the pool if it turns out to be garbage.
type liveRecord struct {
	offset uintptr
	size   GSize
}

func newArena(base []byte) *arena {
	return &arena{
		base:  base,
		descs: make([]descriptor, BlocksPerArena),
		next:  reservedDescriptorBytes(),
	}
}

// descriptorOf returns the descriptor governing the block containing the
// byte offset off within this arena.
func (a *arena) descriptorOf(off uintptr) *descriptor {
	return &a.descs[blockIndex(Addr(off))]
}
