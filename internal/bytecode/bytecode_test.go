package bytecode

import (
	"reflect"
	"testing"
)

func TestOperandRoundTrip(t *testing.T) {
	l := OpLocal(5)
	if !l.IsLocal() || l.Index() != 5 {
		t.Fatalf("OpLocal(5) = %v, want local index 5", l)
	}
	c := OpConst(9)
	if c.IsLocal() || c.Index() != 9 {
		t.Fatalf("OpConst(9) = %v, want const index 9", c)
	}
}

// instrFixtures covers one instance of every Op, including OpFun with a
// non-empty capture list, so Encode/Decode's round trip and Width are
// both exercised for every instruction shape the compiler can emit.
func instrFixtures() []Instr {
	return []Instr{
		Mov(1, OpLocal(2)),
		SvK(3),
		Fun(1, 0, []Operand{OpLocal(2), OpLocal(3)}),
		Fun(1, 0, nil),
		LdFree(2, 1),
		IAdd(1, OpLocal(2), OpConst(0)),
		ISub(1, OpLocal(2), OpConst(0)),
		IMul(1, OpLocal(2), OpConst(0)),
		ILt(OpLocal(1), OpLocal(2)),
		BrF(OpLocal(1), 7),
		Br(4),
		Call(3),
		Ret(OpLocal(0)),
		Halt(OpLocal(0)),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, want := range instrFixtures() {
		var buf []byte
		buf = Encode(buf, want)
		if len(buf) != Width(want) {
			t.Fatalf("Encode(%v) wrote %d bytes, Width reports %d", want, len(buf), Width(want))
		}
		got, next, ok := Decode(buf, 0)
		if !ok {
			t.Fatalf("Decode failed to read back %v", want)
		}
		if next != len(buf) {
			t.Fatalf("Decode(%v) advanced to %d, want %d", want, next, len(buf))
		}
		if got.Op != want.Op || got.Dest != want.Dest || got.A != want.A || got.B != want.B || got.U16 != want.U16 {
			t.Fatalf("Decode round-trip mismatch: got %+v, want %+v", got, want)
		}
		if !reflect.DeepEqual(got.Captures, want.Captures) {
			t.Fatalf("Decode round-trip Captures mismatch: got %v, want %v", got.Captures, want.Captures)
		}
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	full := Encode(nil, IAdd(1, OpLocal(2), OpConst(0)))
	for n := 0; n < len(full); n++ {
		if _, _, ok := Decode(full[:n], 0); ok {
			t.Fatalf("Decode accepted a truncated %d/%d byte stream", n, len(full))
		}
	}
}

func TestDecodeRejectsOutOfRangeIP(t *testing.T) {
	code := Encode(nil, Halt(OpLocal(0)))
	if _, _, ok := Decode(code, len(code)); ok {
		t.Fatal("Decode accepted ip == len(code)")
	}
	if _, _, ok := Decode(code, -1); ok {
		t.Fatal("Decode accepted a negative ip")
	}
}

func TestWidthMatchesByteLen(t *testing.T) {
	asm := NewAssembler()
	fixtures := instrFixtures()
	for _, i := range fixtures {
		asm.PushInstr(i)
	}
	want := 0
	for _, i := range fixtures {
		want += Width(i)
	}
	if got := asm.ByteLen(0, asm.Len()); got != want {
		t.Fatalf("ByteLen(0, %d) = %d, want %d (sum of Width)", asm.Len(), got, want)
	}
}

// TestRegReqInvariant mirrors the assembler's reg_req bookkeeping: it
// must always be a count one past the highest register index any
// pushed instruction touches (covering destination, operand, and
// capture-list registers), so a VM can allocate exactly that many
// register slots and still address every index up to the max.
func TestRegReqInvariant(t *testing.T) {
	asm := NewAssembler()
	asm.PushInstr(Mov(2, OpLocal(1)))
	if asm.RegReq() != 3 {
		t.Fatalf("after mov l2, l1: RegReq() = %d, want 3 (one past l2)", asm.RegReq())
	}
	asm.PushInstr(IAdd(0, OpLocal(5), OpConst(0)))
	if asm.RegReq() != 6 {
		t.Fatalf("after iadd touching l5: RegReq() = %d, want 6 (must not shrink or miss operand regs)", asm.RegReq())
	}
	asm.PushInstr(Fun(1, 0, []Operand{OpLocal(9)}))
	if asm.RegReq() != 10 {
		t.Fatalf("after fun capturing l9: RegReq() = %d, want 10 (one past l9)", asm.RegReq())
	}
	// SvK/Br/Call never reference registers directly (they're frame/ip
	// bookkeeping), so pushing one must never change reg_req.
	before := asm.RegReq()
	asm.PushInstr(SvK(20))
	asm.PushInstr(Br(1))
	asm.PushInstr(Call(4))
	if asm.RegReq() != before {
		t.Fatalf("SvK/Br/Call must not affect RegReq(): before=%d after=%d", before, asm.RegReq())
	}
}

func TestPatchBrRewritesOffset(t *testing.T) {
	asm := NewAssembler()
	idx := asm.Len()
	asm.PushInstr(Br(0)) // placeholder
	asm.PushInstr(Halt(OpLocal(0)))
	asm.PatchBr(idx, uint16(asm.ByteLen(idx+1, asm.Len())))
	if asm.Instrs()[idx].U16 != uint16(Width(Halt(OpLocal(0)))) {
		t.Fatalf("PatchBr did not rewrite the branch offset to skip the Halt instruction")
	}
}

func TestPatchBrPanicsOnNonBranch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("PatchBr on a non-branch instruction must panic")
		}
	}()
	asm := NewAssembler()
	asm.PushInstr(Mov(0, OpLocal(1)))
	asm.PatchBr(0, 1)
}
