package heap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Word is a single raw machine word as stored in heap memory: one
// untyped 64-bit slot holding either a ValueRef bit pattern or opaque
// payload data. The heap package never interprets a Word's tag bits
// itself (that's internal/value's job, C4); it only asks an ObjectModel
// to classify words during tracing.
type Word uint64

// ObjectModel is how the heap asks a caller (internal/value's Registry)
// to interpret the bytes it owns, without heap importing value and
// value importing heap for the Generation type — structural interfaces
// let both directions exist without a cycle.
type ObjectModel interface {
	// Classify reports whether w is a heap pointer and, if so, the
	// address it denotes.
	Classify(w Word) (Addr, bool)
	// Layout reads the header stored at addr (a link word followed by a
	// type word) and returns the object's total granule footprint, how
	// many of the words after the header are traced references
	// (ref_len), and the variable tail's length/kind, per spec.md's
	// DynHeapValue. tailIsRefs is meaningless when tailLen == 0.
	Layout(addr Addr) (gsize GSize, refLen int, tailLen int, tailIsRefs bool)
}

// Generation is a mark-and-sweep, non-moving heap generation: spec.md's
// C3. It owns one or more arenas reserved from the OS, both free-list
// strategies spec.md §4.2 requires as "the pair" — a bucketed pool for
// requests within its size-class ladder and a first-fit pool for
// anything larger — and the granule-addressed memory those arenas back.
//
// Grounded on runtime/mcentral.go's allocate-from-free-list-or-grow loop
// and on internal/gocore/object.go's markObjects worklist traversal for
// MarkAndSweep.
type Generation struct {
	arenas   []*arena
	maxArena int // capacity, in arenas, derived from the requested max heap size
	pool     *bucketPool
	firstFit *firstFitPool
	reserve  reserveFunc
	release  releaseFunc
}

// reserveFunc reserves n bytes of zeroed, read-write memory from the
// host and returns it. releaseFunc gives such memory back.
type reserveFunc func(n int) ([]byte, error)
type releaseFunc func([]byte) error

// mmapReserve and mmapRelease are the default reserve/release pair,
// grounded on core.Mapping's view of OS-backed memory regions and on
// runtime/malloc.go's sysAlloc step (an arena is reserved from the OS in
// one shot, not built up a page at a time).
func mmapReserve(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func mmapRelease(b []byte) error {
	return unix.Munmap(b)
}

// NewGeneration creates a generation able to grow up to maxHeapBytes
// (rounded up to a whole number of arenas) before Allocate starts
// returning false, backed by anonymous mmap regions.
func NewGeneration(maxHeapBytes int) *Generation {
	return NewGenerationWithAllocator(maxHeapBytes, mmapReserve, mmapRelease)
}

// NewGenerationWithAllocator is NewGeneration with a pluggable
// reserve/release pair, so tests can run many small heaps without
// exhausting mmap'd address space one syscall at a time.
func NewGenerationWithAllocator(maxHeapBytes int, reserve reserveFunc, release releaseFunc) *Generation {
	maxArena := (maxHeapBytes + ArenaBytes - 1) / ArenaBytes
	if maxArena < 1 {
		maxArena = 1
	}
	return &Generation{
		maxArena: maxArena,
		pool:     newBucketPool(),
		firstFit: newFirstFitPool(),
		reserve:  reserve,
		release:  release,
	}
}

// Close releases every arena's backing storage.
func (g *Generation) Close() error {
	for _, a := range g.arenas {
		if err := g.release(a.base); err != nil {
			return err
		}
	}
	g.arenas = nil
	return nil
}

func (g *Generation) growArena() (*arena, error) {
	if len(g.arenas) >= g.maxArena {
		return nil, nil
	}
	buf, err := g.reserve(ArenaBytes)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve arena: %w", err)
	}
	a := newArena(buf)
	g.arenas = append(g.arenas, a)
	return a, nil
}

func arenaIndex(a Addr) int        { return int(uintptr(a) >> ArenaShift) }
func arenaOffset(a Addr) uintptr   { return uintptr(a) & ArenaMask }
func makeAddr(idx int, off uintptr) Addr { return Addr(uintptr(idx)<<ArenaShift | off) }

// Allocate returns an uninitialized slot of at least size granules,
// granule-aligned, and the slot's real granule size (which may exceed
// size per the OverAllocator contract spec.md §4.2 describes), or
// ok=false if the generation cannot satisfy the request without
// collecting. It never triggers a collection itself — that's the
// GC-retry protocol's job, one layer up. Callers must pass the returned
// size, not their requested size, to RecordAllocation and eventually to
// whatever frees the slot.
func (g *Generation) Allocate(size GSize) (Addr, GSize, bool) {
	if size == 0 {
		size = 1
	}
	fitsBucket := size <= g.pool.capacity()

	// 1. Try the matching free-list pool first (reclaimed memory reuse):
	// requests within the bucket ladder's range from the bucketed pool,
	// anything larger from the first-fit pool, per spec.md §4.2's "the
	// pair" of strategies.
	if fitsBucket {
		if addr, got, ok := g.pool.alloc(size); ok {
			return addr, got, true
		}
	} else if addr, got, ok := g.firstFit.alloc(size); ok {
		return addr, got, true
	}

	// 2. Bump-allocate from the current (or a fresh) arena, tagging the
	// block with whichever pool should reclaim it once it's garbage:
	// bucket-sized requests round to a bucket's exact granule count
	// only once freed and re-bucketed, so a fresh bump allocation is
	// exact-sized and must be tracked precisely — the first-fit pool's
	// job — unless it's within the bucket ladder's range, in which case
	// routing it to the bucketed pool on free keeps that pool populated
	// with reusable same-size runs instead of draining it one-way.
	n := size.Bytes()
	for {
		if len(g.arenas) == 0 {
			if _, err := g.growArena(); err != nil {
				return 0, 0, false
			}
			if len(g.arenas) == 0 {
				return 0, 0, false
			}
		}
		idx := len(g.arenas) - 1
		a := g.arenas[idx]
		if a.next+n <= uintptr(len(a.base)) {
			off := a.next
			a.next += n
			if fitsBucket {
				a.descriptorOf(off).sizeClass = bucketClass
			} else {
				a.descriptorOf(off).sizeClass = firstFitClass
			}
			return makeAddr(idx, off), size, true
		}
		if _, err := g.growArena(); err != nil {
			return 0, 0, false
		}
		if len(g.arenas) == idx+1 {
			// no room to grow further
			return 0, 0, false
		}
	}
}

// ReadWord reads the word at addr.
func (g *Generation) ReadWord(addr Addr) Word {
	a := g.arenas[arenaIndex(addr)]
	off := arenaOffset(addr)
	return Word(byteOrder.Uint64(a.base[off : off+8]))
}

// WriteWord writes w at addr.
func (g *Generation) WriteWord(addr Addr, w Word) {
	a := g.arenas[arenaIndex(addr)]
	off := arenaOffset(addr)
	byteOrder.PutUint64(a.base[off:off+8], uint64(w))
}

// Bytes returns a writable view of size bytes starting at addr, for
// initializing a DynHeapValue's raw (untraced) tail.
func (g *Generation) Bytes(addr Addr, size uintptr) []byte {
	a := g.arenas[arenaIndex(addr)]
	off := arenaOffset(addr)
	return a.base[off : off+size]
}

// MarkAndSweep marks transitively from roots using model.Classify and
// model.Layout to discover references, then sweeps every unmarked
// granule run back onto the free-list pool. roots is not rewritten
// (proff is non-moving; spec.md §4.3 permits a moving implementer to
// rewrite it but does not require it).
func (g *Generation) MarkAndSweep(roots []Word, model ObjectModel) {
	marked := make(map[Addr]bool)
	var stack []Addr

	push := func(w Word) {
		addr, ok := model.Classify(w)
		if !ok || marked[addr] {
			return
		}
		marked[addr] = true
		stack = append(stack, addr)
	}

	for _, r := range roots {
		push(r)
	}

	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		_, refLen, tailLen, tailIsRefs := model.Layout(addr)
		// link + type words are never themselves traced as payload
		// references (Type objects survive only by being among the
		// roots, which the interpreter facade's allocate arranges; the
		// link word is GC-internal), so tracing starts after the 2-word
		// header.
		base := addr.Add(16)
		for i := 0; i < refLen; i++ {
			push(g.ReadWord(base.Add(uintptr(i) * 8)))
		}
		if tailLen > 0 && tailIsRefs {
			tailBase := base.Add(uintptr(refLen) * 8)
			for i := 0; i < tailLen; i++ {
				push(g.ReadWord(tailBase.Add(uintptr(i) * 8)))
			}
		}
	}

	g.sweep(marked)
}

// sweep walks every recorded allocation and returns any unmarked one to
// a free-list pool. Because proff tracks liveness per allocation (not
// per granule), sweeping here operates at the granularity objects were
// allocated at: every live object's start address is in marked, and
// any recorded allocation not present in marked is garbage. The
// descriptor tag of the block holding it picks the pool: firstFitClass
// frees to the first-fit pool, anything else to the bucketed pool.
func (g *Generation) sweep(marked map[Addr]bool) {
	for idx, a := range g.arenas {
		for _, rec := range a.liveRecords {
			addr := makeAddr(idx, rec.offset)
			if marked[addr] {
				continue
			}
			if a.descriptorOf(rec.offset).sizeClass == firstFitClass {
				g.firstFit.free(addr, rec.size)
			} else {
				g.pool.free(addr, rec.size)
			}
		}
		// Keep only the records for objects that survived, so the next
		// sweep doesn't re-free already-freed memory.
		survivors := a.liveRecords[:0]
		for _, rec := range a.liveRecords {
			if marked[makeAddr(idx, rec.offset)] {
				survivors = append(survivors, rec)
			}
		}
		a.liveRecords = survivors
	}
}

// RecordAllocation tells the generation that an object of the given
// granule size now lives at addr, so a future sweep can consider
// reclaiming it. The interpreter facade calls this once per
// initialization (spec.md's "initialization stores header+payload
// before the slot becomes visible to the collector").
func (g *Generation) RecordAllocation(addr Addr, size GSize) {
	idx := arenaIndex(addr)
	a := g.arenas[idx]
	a.liveRecords = append(a.liveRecords, liveRecord{offset: arenaOffset(addr), size: size})
}
