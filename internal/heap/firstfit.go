package heap

// firstFitPool is the alternate free-list strategy named in spec.md
// §4.2: a single doubly-linked list of variable-sized runs, walked until
// a node of sufficient size is found, splitting the remainder back onto
// the list when it's large enough to be useful on its own.
//
// Grounded on piecewise-rt/src/freelist.rs's intrusive
// LinkedList/SinglyLinkedList nodes, which store prev/next inside the
// freed memory itself rather than in a side allocation; proff keeps the
// same idiom via a run->neighbor map instead of unsafe pointer splicing,
// since Go code in this package intentionally stays free of unsafe.
type firstFitPool struct {
	runs map[Addr]GSize // address -> granule size, for every free run
	prev map[Addr]Addr
	next map[Addr]Addr
	head Addr
}

// minNodeGranules is the smallest remainder worth splitting off and
// keeping as its own free node, matching spec.md's "if the remainder is
// >= the list's minimum node size, split" rule.
const minNodeGranules GSize = 2

func newFirstFitPool() *firstFitPool {
	return &firstFitPool{
		runs: make(map[Addr]GSize),
		prev: make(map[Addr]Addr),
		next: make(map[Addr]Addr),
	}
}

func (p *firstFitPool) unlink(addr Addr) {
	pr, hasPrev := p.prev[addr]
	nx, hasNext := p.next[addr]
	if hasPrev && pr != 0 {
		p.next[pr] = nx
	} else {
		p.head = nx
	}
	if hasNext && nx != 0 {
		p.prev[nx] = pr
	}
	delete(p.runs, addr)
	delete(p.prev, addr)
	delete(p.next, addr)
}

func (p *firstFitPool) pushFront(addr Addr, size GSize) {
	p.runs[addr] = size
	p.prev[addr] = 0
	p.next[addr] = p.head
	if p.head != 0 {
		p.prev[p.head] = addr
	}
	p.head = addr
}

// alloc walks the list until it finds a node of >= n granules, splitting
// off the remainder in place when it is >= minNodeGranules, otherwise
// handing over the whole node (an over-allocation per the pool contract).
func (p *firstFitPool) alloc(n GSize) (Addr, GSize, bool) {
	for a := p.head; a != 0; a = p.next[a] {
		size := p.runs[a]
		if size < n {
			continue
		}
		remainder := size - n
		if remainder >= minNodeGranules {
			tail := a.Add(n.Bytes())
			p.unlink(a)
			p.pushFront(tail, remainder)
			return a, n, true
		}
		p.unlink(a)
		return a, size, true
	}
	return 0, 0, false
}

func (p *firstFitPool) free(addr Addr, n GSize) {
	p.pushFront(addr, n)
}
