package ast

import "testing"

func TestNewIfDesugarsToTwoClauseCall(t *testing.T) {
	cond := &Lex{Name: "c"}
	then := &Const{Kind: ConstInt, Int: 1}
	els := &Const{Kind: ConstInt, Int: 2}

	n := NewIf(0, cond, then, els)

	call, ok := n.(*Call)
	if !ok {
		t.Fatalf("NewIf returned %T, want *Call", n)
	}
	if len(call.Args) != 1 || call.Args[0] != cond {
		t.Fatalf("NewIf's Call must apply the desugared Function to exactly the condition")
	}

	fn, ok := call.Callee.(*Function)
	if !ok {
		t.Fatalf("NewIf's Call.Callee is %T, want *Function", call.Callee)
	}
	if len(fn.Methods) != 2 {
		t.Fatalf("NewIf must emit exactly two clauses, got %d", len(fn.Methods))
	}

	thenClause, elseClause := fn.Methods[0], fn.Methods[1]
	if len(thenClause.Params) != 1 || len(elseClause.Params) != 1 {
		t.Fatalf("both clauses must take exactly one (dummy) parameter")
	}
	if _, ok := thenClause.Guard.(*Lex); !ok {
		t.Fatalf("the then-clause's guard must test the condition parameter itself, got %T", thenClause.Guard)
	}
	elseGuard, ok := elseClause.Guard.(*Const)
	if !ok || elseGuard.Kind != ConstBool || !elseGuard.Bool {
		t.Fatalf("the else-clause's guard must be an unconditional Const(true) fallback")
	}
}

func TestNodePosRoundTrips(t *testing.T) {
	l := &Lex{At: 42, Name: "x"}
	if l.Pos() != 42 {
		t.Fatalf("Lex.Pos() = %d, want 42", l.Pos())
	}
	c := &Const{At: 7, Kind: ConstInt, Int: 1}
	if c.Pos() != 7 {
		t.Fatalf("Const.Pos() = %d, want 7", c.Pos())
	}
}
