package vm

import (
	"testing"

	"github.com/nilern/proff/internal/ast"
	"github.com/nilern/proff/internal/bytecode"
	"github.com/nilern/proff/internal/heap"
	"github.com/nilern/proff/internal/value"
)

func testHeap(t *testing.T) value.Heap {
	t.Helper()
	gen := heap.NewGeneration(heap.ArenaBytes)
	t.Cleanup(func() { gen.Close() })
	reg := value.NewRegistry(gen)
	return value.Heap{Gen: gen, Reg: reg}
}

func constInt(n int64) *ast.Const { return &ast.Const{Kind: ast.ConstInt, Int: n} }

// factBody mirrors vm.rs's `fact` fixture's inner cob: the calling
// convention puts the closure itself at register 0 of every frame (so
// a body can recurse through it) and the user's sole argument at
// register 1. Non-tail: the recursive call's product is formed after
// the call returns.
func factBody() *bytecode.Assembler {
	a := bytecode.NewAssembler()
	two := a.PushConst(constInt(2))
	one := a.PushConst(constInt(1))

	a.PushInstr(bytecode.ILt(bytecode.OpLocal(1), bytecode.OpConst(two)))
	retOne := bytecode.Ret(bytecode.OpConst(one))
	a.PushInstr(bytecode.Br(uint16(bytecode.Width(retOne))))
	a.PushInstr(retOne)
	a.PushInstr(bytecode.ISub(2, bytecode.OpLocal(1), bytecode.OpConst(one)))
	a.PushInstr(bytecode.Mov(4, bytecode.OpLocal(0)))
	a.PushInstr(bytecode.Mov(0, bytecode.OpLocal(1)))
	a.PushInstr(bytecode.Mov(5, bytecode.OpLocal(2)))
	a.PushInstr(bytecode.SvK(4))
	a.PushInstr(bytecode.Call(2))
	a.PushInstr(bytecode.IMul(2, bytecode.OpLocal(0), bytecode.OpLocal(1)))
	a.PushInstr(bytecode.Ret(bytecode.OpLocal(2)))
	return a
}

// factTop mirrors vm.rs's `fact` fixture's top level: build the fact
// closure, apply it to n, halt with the result.
func factTop(n int64) *bytecode.Assembler {
	top := bytecode.NewAssembler()
	nConst := top.PushConst(constInt(n))
	cobIdx := top.PushChild(factBody())
	top.PushInstr(bytecode.Fun(3, cobIdx, nil))
	top.PushInstr(bytecode.Mov(4, bytecode.OpConst(nConst)))
	top.PushInstr(bytecode.SvK(3))
	top.PushInstr(bytecode.Call(2))
	top.PushInstr(bytecode.Halt(bytecode.OpLocal(0)))
	return top
}

func TestFactNonTailRecursion(t *testing.T) {
	h := testHeap(t)
	top := factTop(5)

	if got := top.RegReq(); got != 5 {
		t.Fatalf("fact top RegReq() = %d, want 5 (one past the mov's dest l4)", got)
	}

	code := top.Assemble(h)
	m, err := New(h, code)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, ok := result.AsInt()
	if !ok || n != 120 {
		t.Fatalf("fact(5) = %v, want 120", result)
	}
}

// tailfactBody mirrors vm.rs's `tailfact` fixture's inner cob: an
// accumulator-passing tail call, where the recursive Call is the
// clause's last instruction and its result is simply this clause's
// own return value (no work left to do after it comes back).
func tailfactBody() *bytecode.Assembler {
	a := bytecode.NewAssembler()
	two := a.PushConst(constInt(2))
	one := a.PushConst(constInt(1))

	a.PushInstr(bytecode.ILt(bytecode.OpLocal(1), bytecode.OpConst(two)))
	retAcc := bytecode.Ret(bytecode.OpLocal(2))
	a.PushInstr(bytecode.Br(uint16(bytecode.Width(retAcc))))
	a.PushInstr(retAcc)
	a.PushInstr(bytecode.ISub(3, bytecode.OpLocal(1), bytecode.OpConst(one)))
	a.PushInstr(bytecode.IMul(4, bytecode.OpLocal(1), bytecode.OpLocal(2)))
	a.PushInstr(bytecode.Mov(1, bytecode.OpLocal(3)))
	a.PushInstr(bytecode.Mov(2, bytecode.OpLocal(4)))
	a.PushInstr(bytecode.Call(3))
	return a
}

func tailfactTop(n int64) *bytecode.Assembler {
	top := bytecode.NewAssembler()
	nConst := top.PushConst(constInt(n))
	accConst := top.PushConst(constInt(1))
	cobIdx := top.PushChild(tailfactBody())
	top.PushInstr(bytecode.Fun(3, cobIdx, nil))
	top.PushInstr(bytecode.Mov(4, bytecode.OpConst(nConst)))
	top.PushInstr(bytecode.Mov(5, bytecode.OpConst(accConst)))
	top.PushInstr(bytecode.SvK(3))
	top.PushInstr(bytecode.Call(3))
	top.PushInstr(bytecode.Halt(bytecode.OpLocal(0)))
	return top
}

func TestTailfactAccumulatorRecursion(t *testing.T) {
	h := testHeap(t)
	top := tailfactTop(5)

	code := top.Assemble(h)
	m, err := New(h, code)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, ok := result.AsInt()
	if !ok || n != 120 {
		t.Fatalf("tailfact(5, 1) = %v, want 120", result)
	}
}

// TestHaltReturnsOperandDirectly exercises the simplest possible
// program: no calls, just arithmetic feeding straight into halt.
func TestHaltReturnsOperandDirectly(t *testing.T) {
	h := testHeap(t)
	a := bytecode.NewAssembler()
	c7 := a.PushConst(constInt(7))
	c5 := a.PushConst(constInt(5))
	a.PushInstr(bytecode.IAdd(0, bytecode.OpConst(c7), bytecode.OpConst(c5)))
	a.PushInstr(bytecode.Halt(bytecode.OpLocal(0)))

	code := a.Assemble(h)
	m, err := New(h, code)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, ok := result.AsInt()
	if !ok || n != 12 {
		t.Fatalf("7+5 = %v, want 12", result)
	}
}

// TestBrFSkipsOnFalse exercises the general boolean conditional ilt
// alone cannot express.
func TestBrFSkipsOnFalse(t *testing.T) {
	h := testHeap(t)
	a := bytecode.NewAssembler()
	cFalse := a.PushConst(&ast.Const{Kind: ast.ConstBool, Bool: false})
	c1 := a.PushConst(constInt(1))
	c2 := a.PushConst(constInt(2))

	skipped := bytecode.Mov(0, bytecode.OpConst(c1))
	a.PushInstr(bytecode.BrF(bytecode.OpConst(cFalse), uint16(bytecode.Width(skipped))))
	a.PushInstr(skipped)
	a.PushInstr(bytecode.Mov(1, bytecode.OpConst(c2)))
	a.PushInstr(bytecode.Halt(bytecode.OpLocal(1)))

	code := a.Assemble(h)
	m, err := New(h, code)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, ok := result.AsInt()
	if !ok || n != 2 {
		t.Fatalf("brf over a false test must skip the Mov and reach halt l1=2, got %v", result)
	}
}

func TestRunRejectsBoundsErrorOnBadCall(t *testing.T) {
	h := testHeap(t)
	a := bytecode.NewAssembler()
	// svk with an offset that leaves fewer than 3 save slots below it
	// is an immediate frame underflow.
	a.PushInstr(bytecode.SvK(1))
	a.PushInstr(bytecode.Call(0))

	code := a.Assemble(h)
	m, err := New(h, code)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Run(); err != ErrBounds {
		t.Fatalf("Run() with an underflowing svk offset = %v, want ErrBounds", err)
	}
}
