package value

import (
	"fmt"

	"github.com/nilern/proff/internal/heap"
)

// TypeTag enumerates proff's built-in heap-object shapes: spec.md §4.5's
// "fixed enumeration of built-in type tags". Grounded on
// internal/gocore/type.go's Kind enum (closed, ordered, table-literal
// String method) and extended past the AST-level tags spec.md names
// with the bytecode-level shapes (CodeObject, Closure, Tuple,
// ByteArray) the "…" in spec.md §4.5 leaves room for.
type TypeTag uint8

const (
	TypeType TypeTag = iota
	TypeConst
	TypeFunction
	TypeMethod
	TypeBlock
	TypeCall
	TypeDef
	TypeLex
	TypeSymbol
	TypeCodeObject
	TypeClosure
	TypeTuple
	TypeByteArray
	numTypeTags
)

func (t TypeTag) String() string {
	names := [...]string{
		"Type", "Const", "Function", "Method", "Block", "Call", "Def",
		"Lex", "Symbol", "CodeObject", "Closure", "Tuple", "ByteArray",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// tailKind says what a dynamic type's variable tail holds.
type tailKind uint8

const (
	tailNone tailKind = iota
	tailRefs
	tailBytes
)

// layout is the Go-side mirror of a Type heap object's fields (gsize,
// ref_len, and — for DynHeapValue shapes — what kind of tail it has).
// It is kept alongside (not instead of) the on-heap Type object so that
// heap.Generation.MarkAndSweep can consult it in O(1) without parsing
// heap bytes on every trace step, the same "memoize a derived index"
// shortcut gocore.Process.typeHeap() uses for repeated Type() lookups.
type layout struct {
	// fixedGSize is granules of header + any ref_len fixed fields
	// (including, for dynamic shapes, the in-object tail-length slot —
	// see the comment on refLen below). It excludes the variable tail.
	fixedGSize heap.GSize
	// refLen is the number of ValueRef-sized words the collector must
	// trace after the header. For a dynamic (DynHeapValue) shape, word
	// 0 of this range is reserved to hold the object's own tail_len as
	// an Int immediate — harmless to "trace" since Classify rejects
	// non-pointer tags — and the remaining refLen-1 words are genuine
	// traced reference fields.
	refLen int
	kind   tailKind
}

func (l layout) dynamic() bool { return l.kind != tailNone }

// Registry is spec.md's C5 type registry: an ordered table indexed by
// TypeTag, each entry a Ref to a Type heap object.
type Registry struct {
	gen      *heap.Generation
	types    [numTypeTags]Ref
	byTag    map[heap.Addr]TypeTag
	layouts  map[heap.Addr]layout
}

// NewRegistry bootstraps the type registry on gen: it creates the
// self-referential Type-of-Type object first (installing the
// self-pointer before the object is ever traced, per spec.md §9's
// design note and object.rs's matching comment), then every other
// built-in shape.
func NewRegistry(gen *heap.Generation) *Registry {
	reg := &Registry{
		gen:     gen,
		byTag:   make(map[heap.Addr]TypeTag),
		layouts: make(map[heap.Addr]layout),
	}

	// Every Type object has the same shape: header + 3 Int fields
	// (gsize, ref_len, tail-kind). Allocate the bootstrap Type-of-Type
	// with that shape, pointing to itself.
	const typeObjGranules = headerGranules + 3
	addr, got, ok := gen.Allocate(typeObjGranules)
	if !ok {
		panic("value: heap too small to bootstrap the type registry")
	}
	self := RefPointer(addr)
	WriteHeader(gen, addr, Header{Link: self, Type: self})
	gen.WriteWord(addr.Add(16), heap.Word(RefInt(int64(typeObjGranules))))
	gen.WriteWord(addr.Add(24), heap.Word(RefInt(0)))
	gen.WriteWord(addr.Add(32), heap.Word(RefInt(0)))
	gen.RecordAllocation(addr, got)

	reg.types[TypeType] = self
	reg.byTag[addr] = TypeType
	reg.layouts[addr] = layout{fixedGSize: heap.GSize(typeObjGranules), refLen: 0, kind: tailNone}

	reg.defineBuiltin(TypeConst, layout{fixedGSize: headerGranules + 1, refLen: 1})
	reg.defineBuiltin(TypeFunction, layout{fixedGSize: headerGranules + 1, refLen: 1})
	reg.defineBuiltin(TypeMethod, layout{fixedGSize: headerGranules + 3, refLen: 3})
	reg.defineBuiltin(TypeBlock, layout{fixedGSize: headerGranules + 1, refLen: 1, kind: tailRefs})
	reg.defineBuiltin(TypeCall, layout{fixedGSize: headerGranules + 2, refLen: 2, kind: tailRefs})
	reg.defineBuiltin(TypeDef, layout{fixedGSize: headerGranules + 2, refLen: 2})
	reg.defineBuiltin(TypeLex, layout{fixedGSize: headerGranules + 1, refLen: 1})
	reg.defineBuiltin(TypeSymbol, layout{fixedGSize: headerGranules + 1, refLen: 1, kind: tailBytes})
	reg.defineBuiltin(TypeCodeObject, layout{fixedGSize: headerGranules + 4, refLen: 4})
	// Closure pairs a CodeObject (fixed field, slot 1) with a variable
	// number of captured freevar slots (glossary: "a heap object pairing
	// a Code object with its captured free-variable slots").
	reg.defineBuiltin(TypeClosure, layout{fixedGSize: headerGranules + 2, refLen: 2, kind: tailRefs})
	reg.defineBuiltin(TypeTuple, layout{fixedGSize: headerGranules + 1, refLen: 1, kind: tailRefs})
	reg.defineBuiltin(TypeByteArray, layout{fixedGSize: headerGranules + 1, refLen: 1, kind: tailBytes})

	return reg
}

func (reg *Registry) defineBuiltin(tag TypeTag, l layout) {
	const typeObjGranules = headerGranules + 3
	addr, got, ok := reg.gen.Allocate(typeObjGranules)
	if !ok {
		panic(fmt.Sprintf("value: heap too small to define built-in type %s", tag))
	}
	WriteHeader(reg.gen, addr, Header{Link: RefPointer(addr), Type: reg.types[TypeType]})
	reg.gen.WriteWord(addr.Add(16), heap.Word(RefInt(int64(l.fixedGSize))))
	reg.gen.WriteWord(addr.Add(24), heap.Word(RefInt(int64(l.refLen))))
	reg.gen.WriteWord(addr.Add(32), heap.Word(RefInt(int64(l.kind))))
	reg.gen.RecordAllocation(addr, got)

	reg.types[tag] = RefPointer(addr)
	reg.byTag[addr] = tag
	reg.layouts[addr] = l
}

// Insert installs typeRef as the Type for tag, for types defined beyond
// the built-in set (spec.md §4.5's insert(tag, vref)).
func (reg *Registry) Insert(tag TypeTag, typeRef Ref) {
	reg.types[tag] = typeRef
}

// Get returns the Type Ref registered for tag (spec.md's get(tag)).
func (reg *Registry) Get(tag TypeTag) Ref {
	return reg.types[tag]
}

// IndexOf returns the TypeTag a Type Ref was registered under (spec.md's
// index_of(vref)).
func (reg *Registry) IndexOf(typeRef Ref) TypeTag {
	addr, ok := typeRef.AsPointer()
	if !ok {
		return numTypeTags
	}
	return reg.byTag[addr]
}

// Classify implements heap.ObjectModel.
func (reg *Registry) Classify(w heap.Word) (heap.Addr, bool) {
	return Ref(w).AsPointer()
}

// Layout implements heap.ObjectModel: it reads the object's type word
// and, for dynamic shapes, its in-object tail_len slot.
func (reg *Registry) Layout(addr heap.Addr) (gsize heap.GSize, refLen int, tailLen int, tailIsRefs bool) {
	typeRef := reg.typeOf(addr)
	typeAddr, ok := typeRef.AsPointer()
	if !ok {
		return 0, 0, 0, false
	}
	l := reg.layouts[typeAddr]
	if !l.dynamic() {
		return l.fixedGSize, l.refLen, 0, false
	}

	tailLenRef := Ref(reg.gen.ReadWord(addr.Add(16)))
	n, _ := tailLenRef.AsInt()
	tailIsRefs = l.kind == tailRefs
	var tailGranules heap.GSize
	if tailIsRefs {
		tailGranules = heap.GSize(n)
	} else {
		tailGranules = heap.GSizeOfBytes(uintptr(n))
	}
	return l.fixedGSize + tailGranules, l.refLen, int(n), tailIsRefs
}

// LayoutOf exposes a type's static shape (without resolving an
// instance's tail_len) for callers that need to size an allocation
// before writing the object, e.g. AllocDynRefs and AllocDynBytes.
func (reg *Registry) LayoutOf(tag TypeTag) (fixedGSize heap.GSize, refLen int, dynamic bool, tailIsRefs bool) {
	addr, _ := reg.types[tag].AsPointer()
	l := reg.layouts[addr]
	return l.fixedGSize, l.refLen, l.dynamic(), l.kind == tailRefs
}
