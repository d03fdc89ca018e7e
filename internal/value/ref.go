// Package value implements proff's tagged value representation and
// heap-object headers: spec.md's C4 (ValueRef + headers) and C5 (type
// registry). A Ref is a single machine word: either a heap pointer or
// one of a handful of immediate variants, distinguished by its low tag
// bits without ever touching the heap.
//
// Grounded on internal/gocore/type.go's closed, ordered Kind enum (the
// model for TypeTag below) and on object.go's pointer-bitmap tests (the
// model for why tag bits must be distinguishable from raw bit patterns
// alone).
package value

import (
	"math"

	"github.com/nilern/proff/internal/heap"
)

// Ref is a tagged machine word: spec.md's ValueRef.
type Ref uint64

// Null is the all-zero word: spec.md's invariant that null is exactly
// the all-zero bit pattern.
const Null Ref = 0

// Tag layout. The low 2 bits are the primary tag; tag values 2 and 3
// carve out an extra bit (bit 2) to fit char/bool/float into the two
// "remaining" 2-bit patterns spec.md §3 allows for immediates beyond
// pointer and int.
const (
	tagShift = 2
	tagMask  = 0x3

	tagPointer = 0x0 // low 2 bits 00: heap pointer, granule-aligned
	tagInt     = 0x1 // low 2 bits 01: signed integer, shifted
	tagChar    = 0x2 // low 2 bits 10: Unicode code point, shifted
	tagExt     = 0x3 // low 2 bits 11: bit 2 selects Bool (0) or Float32 (1)

	extKindBit  = 1 << 2
	extBool     = 0
	extFloat32  = extKindBit
	extPayload  = 3 // low bits consumed before the float32/bool payload starts
)

// RefInt encodes a signed integer immediate. Values must fit in 62 bits;
// proff's VM only ever produces values that originate from int64
// arithmetic on previously-encoded Refs, so overflow beyond 62 bits
// wraps the same way a fixed-width integer would.
func RefInt(i int64) Ref {
	return Ref(uint64(i)<<tagShift) | tagInt
}

// RefChar encodes a Unicode code point.
func RefChar(r rune) Ref {
	return Ref(uint64(int64(r))<<tagShift) | tagChar
}

// RefBool encodes a boolean.
func RefBool(b bool) Ref {
	v := uint64(0)
	if b {
		v = 1
	}
	return Ref(v<<3) | extBool | tagExt
}

// RefFloat32 encodes a float32 immediate. spec.md allows the implementer
// to pick any immediate subset that's lossless for the values it
// represents; proff represents floats as float32 so the full 64-bit
// word still has room for the 2-bit pointer tag without NaN-boxing.
func RefFloat32(f float32) Ref {
	bits := uint64(math.Float32bits(f))
	return Ref(bits<<extPayload) | extFloat32 | tagExt
}

// RefPointer encodes a pointer to a granule-aligned heap address. addr
// must be non-zero (the zero address is reserved for Null) and a
// multiple of heap.GranuleBytes.
func RefPointer(addr heap.Addr) Ref {
	return Ref(addr)
}

// IsPointer reports whether r's low tag bits mark it as a heap pointer
// and it is not the null pattern — spec.md's testable tag-disjointness
// property.
func (r Ref) IsPointer() bool {
	return r != Null && r&tagMask == tagPointer
}

// AsPointer returns the heap address r denotes, if it is a pointer.
func (r Ref) AsPointer() (heap.Addr, bool) {
	if !r.IsPointer() {
		return 0, false
	}
	return heap.Addr(r), true
}

// AsInt returns the integer r denotes, if it is one.
func (r Ref) AsInt() (int64, bool) {
	if r&tagMask != tagInt {
		return 0, false
	}
	return int64(r) >> tagShift, true
}

// AsChar returns the code point r denotes, if it is one.
func (r Ref) AsChar() (rune, bool) {
	if r&tagMask != tagChar {
		return 0, false
	}
	return rune(int64(r) >> tagShift), true
}

// AsBool returns the boolean r denotes, if it is one.
func (r Ref) AsBool() (bool, bool) {
	if r&tagMask != tagExt || r&extKindBit != 0 {
		return false, false
	}
	return r>>3&1 != 0, true
}

// AsFloat32 returns the float r denotes, if it is one.
func (r Ref) AsFloat32() (float32, bool) {
	if r&tagMask != tagExt || r&extKindBit == 0 {
		return 0, false
	}
	return math.Float32frombits(uint32(r >> extPayload)), true
}

// Kind classifies r without needing a type registry: one of the four
// immediate kinds, or KindPointer for anything that needs a heap
// lookup to classify further.
type Kind uint8

const (
	KindPointer Kind = iota
	KindInt
	KindFloat
	KindChar
	KindBool
)

func (r Ref) kind() Kind {
	switch r & tagMask {
	case tagPointer:
		return KindPointer
	case tagInt:
		return KindInt
	case tagChar:
		return KindChar
	default: // tagExt
		if r&extKindBit != 0 {
			return KindFloat
		}
		return KindBool
	}
}

// View is the classified form of a Ref: exactly one of the fields below
// is meaningful, selected by Kind.
type View struct {
	Kind    Kind
	Int     int64
	Float   float32
	Char    rune
	Bool    bool
	Pointer heap.Addr
	// Type is the concrete heap type tag for a pointer view, resolved
	// from the object's header. Meaningless unless Kind == KindPointer.
	Type TypeTag
}

// View classifies r, looking up a concrete type tag from the heap
// header when r is a pointer.
func (r Ref) View(reg *Registry) View {
	switch r.kind() {
	case KindInt:
		i, _ := r.AsInt()
		return View{Kind: KindInt, Int: i}
	case KindFloat:
		f, _ := r.AsFloat32()
		return View{Kind: KindFloat, Float: f}
	case KindChar:
		c, _ := r.AsChar()
		return View{Kind: KindChar, Char: c}
	case KindBool:
		b, _ := r.AsBool()
		return View{Kind: KindBool, Bool: b}
	default:
		addr, _ := r.AsPointer()
		tag := reg.IndexOf(reg.typeOf(addr))
		return View{Kind: KindPointer, Pointer: addr, Type: tag}
	}
}

// TypedRef is a Ref statically associated with a Go layout type T.
// Constructing one bypasses the tag check (an internal-only operation,
// per spec.md §4.4): callers that hold a TypedRef have already proven
// (via a prior View or a known allocation site) that the pointee has
// the matching shape.
type TypedRef[T any] struct {
	Ref
}

// Typed constructs a TypedRef[T] from r without checking r's tag or
// pointee type. Exported only for use by packages (bytecode, vm, interp)
// that just allocated or already validated r.
func Typed[T any](r Ref) TypedRef[T] {
	return TypedRef[T]{r}
}
