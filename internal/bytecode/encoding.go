package bytecode

import "encoding/binary"

// instrWidth is the number of bytes Encode writes for each Op: spec.md
// leaves the wire width of "bytes" unspecified beyond "immutable after
// assembly", so proff picks a fixed per-opcode width (1 opcode byte plus
// however many operand bytes that instruction needs) rather than a
// variable-length encoding — simpler to decode and to reason about
// CodeObject.reg_req against, with no ambiguity parsing the stream.
// OpFun is the one exception: its capture list is itself variable
// length, so instrWidth gives its fixed prefix only and Encode/Decode
// compute the rest from a count byte.
var instrWidth = [...]int{
	OpMov:    3,
	OpSvK:    3,
	OpFun:    4, // prefix only: opcode, dest, cob index (u16); capture count+operands follow
	OpLdFree: 4,
	OpIAdd:   4,
	OpISub:   4,
	OpIMul:   4,
	OpILt:    3,
	OpBrF:    4,
	OpBr:     3,
	OpCall:   3,
	OpRet:    2,
	OpHalt:   2,
}

// Width returns i's encoded byte length — what a compiler emitting a Br
// must sum over the instructions it wants to skip, since ip is a byte
// offset into the code stream, not an instruction index.
func Width(i Instr) int {
	if i.Op == OpFun {
		return instrWidth[OpFun] + 1 + len(i.Captures)
	}
	return instrWidth[i.Op]
}

// Encode appends i's wire form to buf and returns the result.
func Encode(buf []byte, i Instr) []byte {
	buf = append(buf, byte(i.Op))
	switch i.Op {
	case OpMov:
		buf = append(buf, i.Dest, byte(i.A))
	case OpSvK, OpBr, OpCall:
		buf = appendU16(buf, i.U16)
	case OpFun:
		buf = append(buf, i.Dest)
		buf = appendU16(buf, i.U16)
		buf = append(buf, byte(len(i.Captures)))
		for _, c := range i.Captures {
			buf = append(buf, byte(c))
		}
	case OpLdFree:
		buf = append(buf, i.Dest)
		buf = appendU16(buf, i.U16)
	case OpIAdd, OpISub, OpIMul:
		buf = append(buf, i.Dest, byte(i.A), byte(i.B))
	case OpILt:
		buf = append(buf, byte(i.A), byte(i.B))
	case OpBrF:
		buf = append(buf, byte(i.A))
		buf = appendU16(buf, i.U16)
	case OpRet, OpHalt:
		buf = append(buf, byte(i.A))
	}
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[0], b[1])
}

// Decode reads one instruction starting at code[ip], returning it and
// the offset of the next instruction. ok is false if ip is out of
// range or an instruction would read past the end of code — the
// BoundsError case spec.md §4.9 names for `get(code, ip)`.
func Decode(code []byte, ip int) (instr Instr, next int, ok bool) {
	if ip < 0 || ip >= len(code) {
		return Instr{}, 0, false
	}
	op := Op(code[ip])
	if int(op) >= len(instrWidth) || instrWidth[op] == 0 {
		return Instr{}, 0, false
	}
	width := instrWidth[op]
	if ip+width > len(code) {
		return Instr{}, 0, false
	}
	body := code[ip+1 : ip+width]
	i := Instr{Op: op}
	switch op {
	case OpMov:
		i.Dest, i.A = body[0], Operand(body[1])
	case OpSvK, OpBr, OpCall:
		i.U16 = binary.LittleEndian.Uint16(body)
	case OpFun:
		i.Dest = body[0]
		i.U16 = binary.LittleEndian.Uint16(body[1:])
		if ip+width >= len(code) {
			return Instr{}, 0, false
		}
		n := int(code[ip+width])
		width++
		if ip+width+n > len(code) {
			return Instr{}, 0, false
		}
		if n > 0 {
			i.Captures = make([]Operand, n)
			for k := 0; k < n; k++ {
				i.Captures[k] = Operand(code[ip+width+k])
			}
		}
		width += n
	case OpLdFree:
		i.Dest = body[0]
		i.U16 = binary.LittleEndian.Uint16(body[1:])
	case OpIAdd, OpISub, OpIMul:
		i.Dest, i.A, i.B = body[0], Operand(body[1]), Operand(body[2])
	case OpILt:
		i.A, i.B = Operand(body[0]), Operand(body[1])
	case OpBrF:
		i.A = Operand(body[0])
		i.U16 = binary.LittleEndian.Uint16(body[1:])
	case OpRet, OpHalt:
		i.A = Operand(body[0])
	}
	return i, ip + width, true
}
