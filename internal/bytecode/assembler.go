package bytecode

import (
	"github.com/nilern/proff/internal/ast"
	"github.com/nilern/proff/internal/value"
)

// Assembler is a tree of code-object builders mirroring CodeObject.cobs:
// spec.md §4.8. Grounded on bytecode.rs's Assembler.
type Assembler struct {
	code    []Instr
	consts  []*ast.Const
	cobs    []*Assembler
	regReq  uint8
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// PushInstr appends instr, growing reg_req to cover whatever registers
// it touches. reg_req is a count (one past the highest register
// index touched), matching bytecode.rs's hand-assembled fixtures, so
// the VM can size its register stack directly off it; maxReg itself
// still reports the raw index, so only the ops that actually touch a
// register bump reg_req past it.
func (a *Assembler) PushInstr(instr Instr) {
	switch instr.Op {
	case OpSvK, OpBr, OpCall:
		// no register operand to account for
	default:
		if req := instr.maxReg() + 1; req > a.regReq {
			a.regReq = req
		}
	}
	a.code = append(a.code, instr)
}

// PushConst appends a constant, returning its index in the pool.
func (a *Assembler) PushConst(c *ast.Const) uint8 {
	a.consts = append(a.consts, c)
	return uint8(len(a.consts) - 1)
}

// PushChild appends a nested code object (for `fun`), returning its
// index among this assembler's children.
func (a *Assembler) PushChild(child *Assembler) uint16 {
	a.cobs = append(a.cobs, child)
	return uint16(len(a.cobs) - 1)
}

// Instrs returns the instructions pushed so far.
func (a *Assembler) Instrs() []Instr { return a.code }

// Len returns the number of instructions pushed so far, for a caller
// that needs to measure a branch's target distance before the
// instructions in between have all been emitted.
func (a *Assembler) Len() int { return len(a.code) }

// ByteLen returns the combined encoded width of the instructions at
// indices [from, to) — the value a forward Br must carry to land
// exactly after them, since ip advances in bytes, not instructions.
func (a *Assembler) ByteLen(from, to int) int {
	total := 0
	for _, instr := range a.code[from:to] {
		total += Width(instr)
	}
	return total
}

// PatchBr rewrites the offset of the Br or BrF instruction at index i,
// for a caller (internal/interp's compiler) that emits a forward branch
// before it knows how many instructions it will need to skip.
func (a *Assembler) PatchBr(i int, offset uint16) {
	if a.code[i].Op != OpBr && a.code[i].Op != OpBrF {
		panic("bytecode: PatchBr on a non-branch instruction")
	}
	a.code[i].U16 = offset
}

// RegReq returns the running reg_req high-water mark.
func (a *Assembler) RegReq() uint8 { return a.regReq }

// SetRegReq raises reg_req to at least req, for callers that splice in
// instructions (and therefore registers) PushInstr never saw directly.
func (a *Assembler) SetRegReq(req uint8) {
	if req > a.regReq {
		a.regReq = req
	}
}

// Assemble recursively assembles children first, then emits this node's
// CodeObject into h, per bytecode.rs's Assembler::assemble.
func (a *Assembler) Assemble(h value.Heap) value.Ref {
	var codeBytes []byte
	for _, instr := range a.code {
		codeBytes = Encode(codeBytes, instr)
	}
	codeRef, ok := h.AllocDynBytes(value.TypeByteArray, nil, codeBytes)
	if !ok {
		panic("bytecode: out of memory assembling code")
	}

	constRefs := make([]value.Ref, len(a.consts))
	for i, c := range a.consts {
		constRefs[i] = constToRef(h, c)
	}
	consts, ok := h.AllocDynRefs(value.TypeTuple, nil, constRefs)
	if !ok {
		panic("bytecode: out of memory assembling consts")
	}

	cobRefs := make([]value.Ref, len(a.cobs))
	for i, child := range a.cobs {
		cobRefs[i] = child.Assemble(h)
	}
	cobs, ok := h.AllocDynRefs(value.TypeTuple, nil, cobRefs)
	if !ok {
		panic("bytecode: out of memory assembling child code objects")
	}

	regReq := value.RefInt(int64(a.regReq))
	obj, ok := h.AllocFixed(value.TypeCodeObject, codeRef, consts, cobs, regReq)
	if !ok {
		panic("bytecode: out of memory assembling code object")
	}
	return obj
}

// constToRef lowers a literal into a heap ValueRef: immediates encode
// directly, strings allocate a ByteArray (symbol interning is
// internal/value's job at runtime; a string literal here is just bytes).
func constToRef(h value.Heap, c *ast.Const) value.Ref {
	switch c.Kind {
	case ast.ConstInt:
		return value.RefInt(c.Int)
	case ast.ConstFloat:
		return value.RefFloat32(float32(c.Float))
	case ast.ConstChar:
		return value.RefChar(c.Char)
	case ast.ConstBool:
		return value.RefBool(c.Bool)
	case ast.ConstString:
		ref, ok := h.AllocDynBytes(value.TypeByteArray, nil, []byte(c.String))
		if !ok {
			panic("bytecode: out of memory allocating string constant")
		}
		return ref
	default:
		panic("bytecode: unhandled const kind")
	}
}
