// Package bytecode implements proff's register bytecode and assembler:
// spec.md's C8. Grounded on original_source/src/bytecode.rs's Operand
// and Instr encoding and Assembler's reg_req bookkeeping, adapted from
// Rust's enum-of-variants Instr to a Go struct-with-opcode (idiomatic Go
// favors one concrete type with a discriminant field over a closed
// interface hierarchy when every case shares most of its shape, the way
// internal/gocore/dwarf.go's abbrev entries do).
//
// Two additions beyond spec.md's documented instruction table, both
// recorded in DESIGN.md:
//   - `fun` here also takes a capture list (values read from the
//     creating frame that become the new closure's freevar tail), and
//     `ldfree` reads one of those captures back out inside the closure
//     body. spec.md's Closure glossary entry pairs a Code object with
//     "captured free-variable slots", but the documented table gives
//     `fun` nowhere to source those values from and no way for compiled
//     code to read them back.
//   - `brf` is a general "branch if this operand is the boolean false"
//     — needed because spec.md's if/then/else desugars to a Method
//     guard that tests a plain boolean value (see ast.NewIf), and `ilt`
//     alone, being integer-only, cannot express that test.
package bytecode

import "fmt"

// Operand is a packed byte: low 2 bits the tag (spec.md §4.8), high 6
// bits an index in 0..63.
type Operand byte

const (
	operandShift = 2
	operandMask  = 0x3

	localTag = 0x0
	constTag = 0x1
)

// OpLocal packs a register-frame index as a Local operand. idx must fit
// in 6 bits (0..63).
func OpLocal(idx uint8) Operand { return Operand(idx<<operandShift) | localTag }

// OpConst packs a constant-pool index as a Const operand.
func OpConst(idx uint8) Operand { return Operand(idx<<operandShift) | constTag }

// IsLocal reports whether o addresses the register frame.
func (o Operand) IsLocal() bool { return byte(o)&operandMask == localTag }

// Index returns o's 6-bit index, regardless of tag.
func (o Operand) Index() uint8 { return byte(o) >> operandShift }

func (o Operand) String() string {
	if o.IsLocal() {
		return fmt.Sprintf("l%d", o.Index())
	}
	return fmt.Sprintf("c%d", o.Index())
}

// localIndex returns (index, true) if o is a Local operand, matching
// bytecode.rs's Operand::local_index used by Instr::max_reg.
func (o Operand) localIndex() (uint8, bool) {
	if o.IsLocal() {
		return o.Index(), true
	}
	return 0, false
}

// Op is an instruction's opcode.
type Op uint8

const (
	OpMov Op = iota
	OpSvK
	OpFun
	OpLdFree
	OpIAdd
	OpISub
	OpIMul
	OpILt
	OpBrF
	OpBr
	OpCall
	OpRet
	OpHalt
)

// Instr is one unpacked virtual instruction, spec.md's instruction set
// table plus the two this port adds to make closures over free
// variables actually work (see bytecode.go's package doc for why).
// Not every field is meaningful for every Op; which ones are is
// determined by Op, exactly as in bytecode.rs's Instr enum.
type Instr struct {
	Op Op

	Dest uint8 // Mov, Fun, LdFree, IAdd/ISub/IMul destination register
	A, B Operand
	// U16 carries SvK's fp_offset, Fun's child-cob index, LdFree's
	// freevar index, Br's offset, and Call's argc — spec.md's u16
	// operand slots.
	U16 uint16
	// Captures holds, for OpFun only, the operands (evaluated in the
	// *creating* frame) that become the new closure's freevar tail, in
	// Proc.Freevars order. Every other Op leaves this nil.
	Captures []Operand
}

func Mov(dest uint8, src Operand) Instr { return Instr{Op: OpMov, Dest: dest, A: src} }
func SvK(fpOffset uint16) Instr         { return Instr{Op: OpSvK, U16: fpOffset} }

// Fun allocates a closure over cobIndex, capturing captures (read from
// the current frame at the moment `fun` runs) into its freevar tail.
func Fun(dest uint8, cobIndex uint16, captures []Operand) Instr {
	return Instr{Op: OpFun, Dest: dest, U16: cobIndex, Captures: captures}
}

// LdFree copies the active closure's idx'th captured freevar into dest
// — the only way a closure body can read what `fun` captured for it.
func LdFree(dest uint8, idx uint16) Instr { return Instr{Op: OpLdFree, Dest: dest, U16: idx} }

func IAdd(dest uint8, l, r Operand) Instr { return Instr{Op: OpIAdd, Dest: dest, A: l, B: r} }
func ISub(dest uint8, l, r Operand) Instr { return Instr{Op: OpISub, Dest: dest, A: l, B: r} }
func IMul(dest uint8, l, r Operand) Instr { return Instr{Op: OpIMul, Dest: dest, A: l, B: r} }
func ILt(l, r Operand) Instr { return Instr{Op: OpILt, A: l, B: r} }

// BrF skips offset bytes when test decodes to the boolean false — the
// general conditional a Method.Guard compiles to (spec.md's AST desugars
// if/then/else into exactly this shape, a guard that tests a plain
// boolean value; ilt alone, being integer-only, can't express it).
func BrF(test Operand, offset uint16) Instr { return Instr{Op: OpBrF, A: test, U16: offset} }
func Br(offset uint16) Instr                { return Instr{Op: OpBr, U16: offset} }
func Call(argc uint16) Instr              { return Instr{Op: OpCall, U16: argc} }
func Ret(v Operand) Instr                 { return Instr{Op: OpRet, A: v} }
func Halt(v Operand) Instr                { return Instr{Op: OpHalt, A: v} }

// maxReg mirrors bytecode.rs's Instr::max_reg: the highest register
// index this instruction touches, used to grow an Assembler's reg_req.
func (i Instr) maxReg() uint8 {
	max := func(a, b uint8) uint8 {
		if a > b {
			return a
		}
		return b
	}
	switch i.Op {
	case OpSvK, OpBr, OpCall:
		return 0
	case OpMov:
		si, _ := i.A.localIndex()
		return max(si, i.Dest)
	case OpFun:
		m := i.Dest
		for _, c := range i.Captures {
			if ci, ok := c.localIndex(); ok {
				m = max(m, ci)
			}
		}
		return m
	case OpLdFree:
		return i.Dest
	case OpBrF:
		ti, _ := i.A.localIndex()
		return ti
	case OpIAdd, OpISub, OpIMul:
		li, _ := i.A.localIndex()
		ri, _ := i.B.localIndex()
		return max(max(li, ri), i.Dest)
	case OpILt:
		li, _ := i.A.localIndex()
		ri, _ := i.B.localIndex()
		return max(li, ri)
	case OpRet, OpHalt:
		ri, _ := i.A.localIndex()
		return ri
	default:
		return 0
	}
}

func (i Instr) String() string {
	switch i.Op {
	case OpMov:
		return fmt.Sprintf("mov  l%d, %s", i.Dest, i.A)
	case OpSvK:
		return fmt.Sprintf("svk  %d", i.U16)
	case OpFun:
		return fmt.Sprintf("fun  l%d, %d %v", i.Dest, i.U16, i.Captures)
	case OpLdFree:
		return fmt.Sprintf("ldfree l%d, %d", i.Dest, i.U16)
	case OpIAdd:
		return fmt.Sprintf("iadd l%d, %s, %s", i.Dest, i.A, i.B)
	case OpISub:
		return fmt.Sprintf("isub l%d, %s, %s", i.Dest, i.A, i.B)
	case OpIMul:
		return fmt.Sprintf("imul l%d, %s, %s", i.Dest, i.A, i.B)
	case OpILt:
		return fmt.Sprintf("ilt  %s, %s", i.A, i.B)
	case OpBrF:
		return fmt.Sprintf("brf  %s, %d", i.A, i.U16)
	case OpBr:
		return fmt.Sprintf("br   %d", i.U16)
	case OpCall:
		return fmt.Sprintf("call %d", i.U16)
	case OpRet:
		return fmt.Sprintf("ret  %s", i.A)
	case OpHalt:
		return fmt.Sprintf("halt %s", i.A)
	default:
		return "???"
	}
}
