package heap

import "testing"

// testAllocator backs arenas with plain Go byte slices, so tests don't
// burn real mmap'd address space one arena at a time (each test heap is
// tiny and short-lived).
func testAllocator() (reserveFunc, releaseFunc) {
	return func(n int) ([]byte, error) {
			return make([]byte, n), nil
		}, func([]byte) error {
			return nil
		}
}

func newTestGeneration(maxBytes int) *Generation {
	r, f := testAllocator()
	return NewGenerationWithAllocator(maxBytes, r, f)
}

func TestAllocationSizeInvariant(t *testing.T) {
	g := newTestGeneration(ArenaBytes)
	for _, n := range []GSize{1, 2, 3, 5, 8, 13, 100, 1000} {
		addr, got, ok := g.Allocate(n)
		if !ok {
			t.Fatalf("allocate(%d) failed", n)
		}
		if got < n {
			t.Fatalf("allocate(%d) returned slot of %d granules, want >= %d", n, got, n)
		}
		if uintptr(addr)%GranuleBytes != 0 {
			t.Fatalf("allocate(%d) returned misaligned address %d", n, addr)
		}
	}
}

func TestFreeListLaw(t *testing.T) {
	p := newBucketPool()
	for x := GSize(1); x < 2000; x++ {
		ai, ok := p.allocIndex(x)
		if !ok {
			continue
		}
		fi, ok2 := p.freeIndex(x)
		if ok2 && ai < fi {
			t.Fatalf("allocIndex(%d)=%d < freeIndex(%d)=%d, violates law", x, ai, x, fi)
		}
	}
}

func TestFreeListReuse(t *testing.T) {
	p := newBucketPool()
	const n = 64
	addrs := make([]Addr, n)
	for i := range addrs {
		a, size, ok := p.alloc(4)
		if ok {
			addrs[i] = a
			p.free(a, size) // nothing allocated yet in a real arena; exercise bucket math only
		}
	}

	// Simulate: allocate N equal-sized objects from an arena, free every
	// other one, collect (conceptually — here we just push to the pool
	// directly), then allocate N/2 more of the same size with no arena
	// growth required.
	g := newTestGeneration(ArenaBytes)
	const count = 50
	var live []Addr
	var sizes []GSize
	for i := 0; i < count; i++ {
		a, sz, ok := g.Allocate(4)
		if !ok {
			t.Fatalf("allocate %d failed", i)
		}
		live = append(live, a)
		sizes = append(sizes, sz)
	}
	arenasBefore := len(g.arenas)

	for i := 0; i < count; i += 2 {
		g.pool.free(live[i], sizes[i])
	}

	for i := 0; i < count/2; i++ {
		if _, _, ok := g.Allocate(4); !ok {
			t.Fatalf("reuse allocation %d failed", i)
		}
	}

	if len(g.arenas) != arenasBefore {
		t.Fatalf("arena growth happened during reuse: before=%d after=%d", arenasBefore, len(g.arenas))
	}
}

func TestOutOfArenasFails(t *testing.T) {
	g := newTestGeneration(ArenaBytes)
	n := 0
	for {
		if _, _, ok := g.Allocate(BlockGranules); !ok {
			break
		}
		n++
		if n > 1<<20 {
			t.Fatal("allocation never failed; heap cap not enforced")
		}
	}
}

// fakeModel is a minimal ObjectModel for exercising MarkAndSweep without
// internal/value: objects are 2-word headers (link, type) followed by
// refLen pointer-tagged words. Pointers are tagged by setting bit 0 to 0
// (the ValueRef convention proff uses) with a non-zero address in the
// remaining bits.
type fakeModel struct {
	refLen map[Addr]int
	gsize  map[Addr]GSize
}

func (m *fakeModel) Classify(w Word) (Addr, bool) {
	if w == 0 || w&1 != 0 {
		return 0, false
	}
	return Addr(w), true
}

func (m *fakeModel) Layout(addr Addr) (GSize, int, int, bool) {
	return m.gsize[addr], m.refLen[addr], 0, false
}

func TestMarkAndSweepSoundness(t *testing.T) {
	g := newTestGeneration(ArenaBytes)
	model := &fakeModel{refLen: map[Addr]int{}, gsize: map[Addr]GSize{}}

	alloc := func(refLen int) Addr {
		// header (2 words) + refLen words
		size := GSize(2 + refLen)
		addr, got, ok := g.Allocate(size)
		if !ok {
			t.Fatalf("allocate failed")
		}
		model.refLen[addr] = refLen
		model.gsize[addr] = got
		g.RecordAllocation(addr, got)
		return addr
	}

	leaf := alloc(0)
	mid := alloc(1)
	g.WriteWord(mid.Add(16), Word(leaf)) // mid's one ref points at leaf
	garbage := alloc(0)
	_ = garbage

	roots := []Word{Word(mid)}
	g.MarkAndSweep(roots, model)

	// leaf must still be reachable transitively through mid.
	reachable := false
	for _, rec := range g.arenas[arenaIndex(mid)].liveRecords {
		if makeAddr(arenaIndex(mid), rec.offset) == leaf {
			reachable = true
		}
	}
	if !reachable {
		t.Fatal("leaf object reachable from roots was not kept live")
	}

	// garbage must have been swept: its slot is back in the pool at its
	// own size class and a fresh allocation of that size reuses it
	// without growing arenas.
	before := len(g.arenas)
	if addr2, _, ok := g.Allocate(2); !ok || addr2 != garbage {
		// Not a strict requirement that the *exact* address is reused
		// (bucket pool is LIFO per class but other classes may have
		// interleaved), only that no arena growth was required.
	}
	if len(g.arenas) != before {
		t.Fatal("sweeping garbage did not make its memory available for reuse")
	}
}
