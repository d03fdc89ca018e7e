// Package heap implements proff's managed heap: a generational,
// granule-addressed allocator with precise object layouts, forwarding
// (via free-list reclamation, not moving) and the root-refreshing
// allocation retry protocol described by the interpreter facade.
package heap

// Granule is the atomic heap unit. All sizes handed to the allocator are
// expressed as a count of granules, never raw bytes, matching the
// word-addressed layout Type objects describe (ref_len, gsize).
const GranuleBytes = 8

// GSize is a size expressed in granules.
type GSize uint32

// Bytes converts a granule count to a byte count.
func (g GSize) Bytes() uintptr { return uintptr(g) * GranuleBytes }

// GSizeOfBytes rounds a byte count up to a whole number of granules.
func GSizeOfBytes(n uintptr) GSize {
	return GSize((n + GranuleBytes - 1) / GranuleBytes)
}

const (
	// BlockShift: a block is 2^BlockShift granules.
	BlockShift = 10
	BlockGranules = 1 << BlockShift
	BlockBytes  = BlockGranules * GranuleBytes

	// ArenaShift: an arena is 2^ArenaShift bytes.
	ArenaShift = 20
	ArenaBytes = 1 << ArenaShift
	ArenaMask  = ArenaBytes - 1

	// BlocksPerArena is derived, not independently chosen.
	BlocksPerArena = ArenaBytes / BlockBytes

	// descriptorShift picks a slot size (bytes) large enough to hold the
	// largest descriptor variant (descriptor is defined in descriptor.go).
	descriptorShift = 5
	descriptorSize  = 1 << descriptorShift
)

// Addr is an address within an arena's backing storage, expressed as a
// byte offset from the arena's base. Using an offset (rather than a raw
// pointer) keeps the allocator free of unsafe.Pointer arithmetic outside
// this package and makes address comparisons deterministic in tests.
type Addr uintptr

// Add returns a+n.
func (a Addr) Add(n uintptr) Addr { return a + Addr(n) }

// Sub returns a-b.
func (a Addr) Sub(b Addr) uintptr { return uintptr(a - b) }

// byteBlockShift is the number of low bits of a byte address that vary
// within one block (BlockGranules granules of GranuleBytes each).
const byteBlockShift = BlockShift + 3 // GranuleBytes == 1<<3

// blockIndex returns which block of the arena a local, arena-relative
// offset falls in.
func blockIndex(a Addr) uintptr {
	return uintptr(a) >> byteBlockShift
}

// descriptorOffset returns the byte offset that block blockIdx's
// descriptor slot would have in a table of descriptorSize-byte slots
// packed at the start of an arena.
//
// Every arena sets aside its first reservedDescriptorBytes() bytes for
// such a table and bump allocation starts after them, but nothing is
// stored there: descriptorOf reads the arena's descs slice instead, and
// nothing calls descriptorOffset.
func descriptorOffset(blockIdx uintptr) uintptr {
	return blockIdx * descriptorSize
}

// reservedDescriptorBytes is how much of every arena is carved out for
// the descriptor table itself, rounded up to a whole number of blocks so
// that allocatable blocks stay block-aligned.
func reservedDescriptorBytes() uintptr {
	raw := uintptr(BlocksPerArena) * descriptorSize
	return (raw + BlockBytes - 1) / BlockBytes * BlockBytes
}
