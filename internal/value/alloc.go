package value

import "github.com/nilern/proff/internal/heap"

// Heap is the allocation-facing pair a Registry needs: the Generation it
// allocates from and itself (for type layouts). Packages above value
// (bytecode, vm, interp) build objects through these helpers rather than
// writing words directly, so the header/tail_len bookkeeping stays in
// one place.
type Heap struct {
	Gen *heap.Generation
	Reg *Registry
}

// AllocFixed allocates a fixed-shape (non-dynamic) instance of tag,
// writes its header, and records it with the generation. fields are
// written in order starting at the first traced ref word; len(fields)
// must equal the type's ref_len.
func (h Heap) AllocFixed(tag TypeTag, fields ...Ref) (Ref, bool) {
	fixedGSize, refLen, dynamic, _ := h.Reg.LayoutOf(tag)
	if dynamic {
		panic("value: AllocFixed called on a dynamic type")
	}
	if len(fields) != refLen {
		panic("value: AllocFixed field count mismatch")
	}

	addr, got, ok := h.Gen.Allocate(fixedGSize)
	if !ok {
		return Null, false
	}
	self := RefPointer(addr)
	WriteHeader(h.Gen, addr, Header{Link: self, Type: h.Reg.Get(tag)})
	for i, f := range fields {
		h.Gen.WriteWord(addr.Add(16+uintptr(i)*8), heap.Word(f))
	}
	h.Gen.RecordAllocation(addr, got)
	return self, true
}

// AllocDynRefs allocates a dynamic, ref-tailed instance of tag (spec.md's
// DynHeapValue with an all-refs tail, e.g. Block's statement list or
// Closure's captured freevars). fixedFields precede the variable tail
// and must number refLen-1 (ref_len's slot 0 is reserved for tail_len,
// written here automatically).
func (h Heap) AllocDynRefs(tag TypeTag, fixedFields []Ref, tail []Ref) (Ref, bool) {
	fixedGSize, refLen, dynamic, tailRefs := h.Reg.LayoutOf(tag)
	if !dynamic || !tailRefs {
		panic("value: AllocDynRefs called on a non-ref-tailed or non-dynamic type")
	}
	if len(fixedFields) != refLen-1 {
		panic("value: AllocDynRefs fixed field count mismatch")
	}

	total := fixedGSize + heap.GSize(len(tail))
	addr, got, ok := h.Gen.Allocate(total)
	if !ok {
		return Null, false
	}
	self := RefPointer(addr)
	WriteHeader(h.Gen, addr, Header{Link: self, Type: h.Reg.Get(tag)})
	h.Gen.WriteWord(addr.Add(16), heap.Word(RefInt(int64(len(tail)))))
	for i, f := range fixedFields {
		h.Gen.WriteWord(addr.Add(16+uintptr(1+i)*8), heap.Word(f))
	}
	tailBase := addr.Add(16 + uintptr(refLen)*8)
	for i, f := range tail {
		h.Gen.WriteWord(tailBase.Add(uintptr(i)*8), heap.Word(f))
	}
	h.Gen.RecordAllocation(addr, got)
	return self, true
}

// AllocDynBytes allocates a dynamic, byte-tailed instance of tag (spec.md's
// ByteArray shape — used for symbol names and string/bytecode payloads).
func (h Heap) AllocDynBytes(tag TypeTag, fixedFields []Ref, tail []byte) (Ref, bool) {
	fixedGSize, refLen, dynamic, tailRefs := h.Reg.LayoutOf(tag)
	if !dynamic || tailRefs {
		panic("value: AllocDynBytes called on a non-byte-tailed or non-dynamic type")
	}
	if len(fixedFields) != refLen-1 {
		panic("value: AllocDynBytes fixed field count mismatch")
	}

	tailGranules := heap.GSizeOfBytes(uintptr(len(tail)))
	total := fixedGSize + tailGranules
	addr, got, ok := h.Gen.Allocate(total)
	if !ok {
		return Null, false
	}
	self := RefPointer(addr)
	WriteHeader(h.Gen, addr, Header{Link: self, Type: h.Reg.Get(tag)})
	h.Gen.WriteWord(addr.Add(16), heap.Word(RefInt(int64(len(tail)))))
	for i, f := range fixedFields {
		h.Gen.WriteWord(addr.Add(16+uintptr(1+i)*8), heap.Word(f))
	}
	tailBase := addr.Add(16 + uintptr(refLen)*8)
	copy(h.Gen.Bytes(tailBase, uintptr(len(tail))), tail)
	h.Gen.RecordAllocation(addr, got)
	return self, true
}

// Fields reads a fixed-shape object's traced ref words back out.
func (h Heap) Fields(r Ref, n int) []Ref {
	addr, ok := r.AsPointer()
	if !ok {
		panic("value: Fields called on a non-pointer Ref")
	}
	out := make([]Ref, n)
	for i := range out {
		out[i] = Ref(h.Gen.ReadWord(addr.Add(16 + uintptr(i)*8)))
	}
	return out
}

// DynFixedFields reads a dynamic object's fixed ref fields (the ones
// preceding the tail_len slot's reserved word 0), e.g. Closure's cob
// field or Block's absent fixed fields (n=0).
func (h Heap) DynFixedFields(r Ref, n int) []Ref {
	addr, ok := r.AsPointer()
	if !ok {
		panic("value: DynFixedFields called on a non-pointer Ref")
	}
	out := make([]Ref, n)
	for i := range out {
		out[i] = Ref(h.Gen.ReadWord(addr.Add(16 + uintptr(1+i)*8)))
	}
	return out
}

// DynTail reads a dynamic object's variable ref tail back out.
func (h Heap) DynTail(r Ref) []Ref {
	addr, ok := r.AsPointer()
	if !ok {
		panic("value: DynTail called on a non-pointer Ref")
	}
	_, refLen, tailLen, tailIsRefs := h.Reg.Layout(addr)
	if !tailIsRefs {
		panic("value: DynTail called on a byte-tailed object")
	}
	tailBase := addr.Add(16 + uintptr(refLen)*8)
	out := make([]Ref, tailLen)
	for i := range out {
		out[i] = Ref(h.Gen.ReadWord(tailBase.Add(uintptr(i) * 8)))
	}
	return out
}

// DynBytes reads a dynamic object's variable byte tail back out.
func (h Heap) DynBytes(r Ref) []byte {
	addr, ok := r.AsPointer()
	if !ok {
		panic("value: DynBytes called on a non-pointer Ref")
	}
	_, refLen, tailLen, tailIsRefs := h.Reg.Layout(addr)
	if tailIsRefs {
		panic("value: DynBytes called on a ref-tailed object")
	}
	tailBase := addr.Add(16 + uintptr(refLen)*8)
	out := make([]byte, tailLen)
	copy(out, h.Gen.Bytes(tailBase, uintptr(tailLen)))
	return out
}
