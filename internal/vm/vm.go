// Package vm implements proff's register-based virtual machine: spec.md's
// C9. Grounded closely on original_source/src/vm.rs's VM struct and
// run loop (fetch-decode-execute, the svk/call/ret frame protocol, and
// the decode_operand/load_usize/resize_stack helpers), adapted to read
// instructions out of a real heap-resident CodeObject (via
// internal/bytecode.Decode) rather than a Vec<Instr> held outside the
// heap, since proff's CodeObject.code is itself a heap ByteArray.
package vm

import (
	"errors"
	"fmt"

	"github.com/nilern/proff/internal/bytecode"
	"github.com/nilern/proff/internal/value"
)

// ErrBounds is returned when code, consts, or cobs is indexed out of
// range: spec.md §4.9's BoundsError.
var ErrBounds = errors.New("vm: index out of bounds")

// ErrType is returned when an arithmetic operand is not an integer
// immediate: spec.md §4.9's TypeError.
var ErrType = errors.New("vm: operand is not an integer")

// VM is the register machine: active closure, instruction pointer,
// frame pointer, and register stack, plus the heap it allocates
// closures from.
type VM struct {
	heap value.Heap

	cl    value.Ref // active Closure
	ip    int
	fp    int
	stack []value.Ref
}

// New creates a VM whose top-level code object is top, ready to run
// from ip=0, fp=0, with a freshly zero-filled register stack sized to
// top's reg_req (spec.md §4.9's initial state machine).
func New(h value.Heap, top value.Ref) (*VM, error) {
	fields := h.Fields(top, 4)
	regReq, ok := fields[3].AsInt()
	if !ok {
		return nil, fmt.Errorf("vm: code object reg_req is not an integer")
	}

	cl, ok := allocClosure(h, top, nil)
	if !ok {
		return nil, fmt.Errorf("vm: out of memory allocating top-level closure")
	}

	return &VM{
		heap:  h,
		cl:    cl,
		ip:    0,
		fp:    0,
		stack: make([]value.Ref, regReq),
	}, nil
}

// allocClosure builds a Closure pairing cob with freevars, per the
// glossary's "heap object pairing a Code object with its captured
// free-variable slots".
func allocClosure(h value.Heap, cob value.Ref, freevars []value.Ref) (value.Ref, bool) {
	return h.AllocDynRefs(value.TypeClosure, []value.Ref{cob}, freevars)
}

// cob returns the active closure's code object fields: code bytes,
// consts tail, cobs tail, reg_req.
func (m *VM) cob() (code []byte, consts, cobs []value.Ref, regReq int64) {
	fixed := m.heap.DynFixedFields(m.cl, 1)
	cobRef := fixed[0]
	cobFields := m.heap.Fields(cobRef, 4)
	code = m.heap.DynBytes(cobFields[0])
	consts = m.heap.DynTail(cobFields[1])
	cobs = m.heap.DynTail(cobFields[2])
	regReq, _ = cobFields[3].AsInt()
	return
}

// freevars returns the active closure's captured freevar slots.
func (m *VM) freevars() []value.Ref {
	return m.heap.DynTail(m.cl)
}

// Run executes until `halt`, returning the decoded result, or an error
// for an out-of-range access or a type mismatch on an arithmetic
// operand (spec.md §4.9's only two user-visible runtime errors besides
// OutOfMemory, which the caller's GC-retry wrapper handles).
func (m *VM) Run() (value.Ref, error) {
	for {
		code, consts, cobs, _ := m.cob()
		instr, next, ok := bytecode.Decode(code, m.ip)
		if !ok {
			return value.Null, ErrBounds
		}
		m.ip = next

		switch instr.Op {
		case bytecode.OpMov:
			s, err := m.decodeOperand(instr.A, consts)
			if err != nil {
				return value.Null, err
			}
			m.setReg(instr.Dest, s)

		case bytecode.OpSvK:
			newfp := m.fp + int(instr.U16)
			if newfp < 3 || newfp-3 < 0 || newfp > len(m.stack) {
				return value.Null, ErrBounds
			}
			// The return address is the instruction after the `call`
			// that follows this svk, so `ret` resumes past the call.
			_, retIP, ok := bytecode.Decode(code, m.ip)
			if !ok {
				return value.Null, ErrBounds
			}
			m.stack[newfp-3] = value.RefInt(int64(m.fp))
			m.stack[newfp-2] = value.RefInt(int64(retIP))
			m.stack[newfp-1] = m.cl
			m.fp = newfp

		case bytecode.OpFun:
			if int(instr.U16) >= len(cobs) {
				return value.Null, ErrBounds
			}
			child := cobs[instr.U16]
			captured := make([]value.Ref, len(instr.Captures))
			for i, c := range instr.Captures {
				v, err := m.decodeOperand(c, consts)
				if err != nil {
					return value.Null, err
				}
				captured[i] = v
			}
			cl, ok := allocClosure(m.heap, child, captured)
			if !ok {
				return value.Null, fmt.Errorf("vm: out of memory allocating closure")
			}
			m.setReg(instr.Dest, cl)

		case bytecode.OpLdFree:
			fv := m.freevars()
			if int(instr.U16) >= len(fv) {
				return value.Null, ErrBounds
			}
			m.setReg(instr.Dest, fv[instr.U16])

		case bytecode.OpIAdd, bytecode.OpISub, bytecode.OpIMul:
			l, err := m.decodeInt(instr.A, consts)
			if err != nil {
				return value.Null, err
			}
			r, err := m.decodeInt(instr.B, consts)
			if err != nil {
				return value.Null, err
			}
			var result int64
			switch instr.Op {
			case bytecode.OpIAdd:
				result = l + r
			case bytecode.OpISub:
				result = l - r
			case bytecode.OpIMul:
				result = l * r
			}
			m.setReg(instr.Dest, value.RefInt(result))

		case bytecode.OpILt:
			l, err := m.decodeInt(instr.A, consts)
			if err != nil {
				return value.Null, err
			}
			r, err := m.decodeInt(instr.B, consts)
			if err != nil {
				return value.Null, err
			}
			if l < r {
				// skip the next instruction
				if _, skipNext, ok := bytecode.Decode(code, m.ip); ok {
					m.ip = skipNext
				} else {
					return value.Null, ErrBounds
				}
			}

		case bytecode.OpBrF:
			v, err := m.decodeOperand(instr.A, consts)
			if err != nil {
				return value.Null, err
			}
			b, ok := v.AsBool()
			if !ok {
				return value.Null, ErrType
			}
			if !b {
				m.ip += int(instr.U16)
			}

		case bytecode.OpBr:
			m.ip += int(instr.U16)

		case bytecode.OpCall:
			if m.fp >= len(m.stack) {
				return value.Null, ErrBounds
			}
			m.cl = m.stack[m.fp]
			m.ip = 0
			_, _, _, regReq := m.cob()
			keep := m.fp + int(instr.U16)
			total := m.fp + int(regReq)
			if err := m.resizeStack(keep, total); err != nil {
				return value.Null, err
			}

		case bytecode.OpRet:
			oldfp := m.fp
			v, err := m.decodeOperand(instr.A, consts)
			if err != nil {
				return value.Null, err
			}
			if oldfp < 3 {
				return value.Null, ErrBounds
			}
			savedFP, ok := m.stack[oldfp-3].AsInt()
			if !ok {
				return value.Null, ErrType
			}
			savedIP, ok := m.stack[oldfp-2].AsInt()
			if !ok {
				return value.Null, ErrType
			}
			savedCl := m.stack[oldfp-1]

			m.stack[oldfp-3] = v
			m.fp = int(savedFP)
			m.ip = int(savedIP)
			m.cl = savedCl

			_, _, _, regReq := m.cob()
			keep := oldfp - 2
			total := m.fp + int(regReq)
			if err := m.resizeStack(keep, total); err != nil {
				return value.Null, err
			}

		case bytecode.OpHalt:
			return m.decodeOperand(instr.A, consts)
		}
	}
}

func (m *VM) decodeOperand(op bytecode.Operand, consts []value.Ref) (value.Ref, error) {
	if op.IsLocal() {
		idx := m.fp + int(op.Index())
		if idx < 0 || idx >= len(m.stack) {
			return value.Null, ErrBounds
		}
		return m.stack[idx], nil
	}
	idx := int(op.Index())
	if idx < 0 || idx >= len(consts) {
		return value.Null, ErrBounds
	}
	return consts[idx], nil
}

func (m *VM) decodeInt(op bytecode.Operand, consts []value.Ref) (int64, error) {
	r, err := m.decodeOperand(op, consts)
	if err != nil {
		return 0, err
	}
	n, ok := r.AsInt()
	if !ok {
		return 0, ErrType
	}
	return n, nil
}

func (m *VM) setReg(reg uint8, v value.Ref) {
	m.stack[m.fp+int(reg)] = v
}

func (m *VM) resizeStack(keep, total int) error {
	if keep < 0 || total < keep {
		return ErrBounds
	}
	if keep > len(m.stack) {
		keep = len(m.stack)
	}
	m.stack = m.stack[:keep]
	for len(m.stack) < total {
		m.stack = append(m.stack, value.Null)
	}
	return nil
}
