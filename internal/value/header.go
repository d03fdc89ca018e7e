package value

import "github.com/nilern/proff/internal/heap"

// Header is spec.md's HeapValue header: every heap object begins with a
// link word (used by the collector for forwarding/marking and, at rest,
// a self-reference or a link in the object graph) and a type word
// pointing at a Type object.
type Header struct {
	Link Ref
	Type Ref
}

const headerGranules = 2

// WriteHeader stores h at the start of the object at addr. Per spec.md
// §3's lifecycle rule, this must happen (along with the rest of the
// object's payload) before addr is reachable from any root, i.e. before
// the next collection.
func WriteHeader(gen *heap.Generation, addr heap.Addr, h Header) {
	gen.WriteWord(addr, heap.Word(h.Link))
	gen.WriteWord(addr.Add(8), heap.Word(h.Type))
}

// ReadHeader loads the header stored at addr.
func ReadHeader(gen *heap.Generation, addr heap.Addr) Header {
	return Header{
		Link: Ref(gen.ReadWord(addr)),
		Type: Ref(gen.ReadWord(addr.Add(8))),
	}
}

// typeOf is a convenience used by Ref.View and Registry.Layout: the type
// word of the object living at addr.
func (reg *Registry) typeOf(addr heap.Addr) Ref {
	return Ref(reg.gen.ReadWord(addr.Add(8)))
}
