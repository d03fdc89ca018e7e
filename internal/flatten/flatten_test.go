package flatten

import (
	"testing"

	"github.com/nilern/proff/internal/ast"
)

// block builds an *ast.Block for stmts, useful since the top level and a
// fn's body both need one.
func block(stmts ...ast.Stmt) *ast.Block { return &ast.Block{Stmts: stmts} }

func def(name string, e ast.Node) *ast.Def      { return &ast.Def{Name: name, Expr: e} }
func exprStmt(e ast.Node) ast.Stmt               { return ast.ExprStmt{Expr: e} }
func lex(name string) *ast.Lex                   { return &ast.Lex{Name: name} }
func constInt(n int64) *ast.Const                { return &ast.Const{Kind: ast.ConstInt, Int: n} }
func method(params []string, body *ast.Block) *ast.Method {
	return &ast.Method{Params: params, Body: body}
}

func TestLocalClassification(t *testing.T) {
	// def x = 1; x
	prog := block(def("x", constInt(1)), exprStmt(lex("x")))
	p := Flatten(prog)

	fb, ok := p.Expr.(*Block)
	if !ok {
		t.Fatalf("top level must flatten to a *Block, got %T", p.Expr)
	}
	ref := fb.Stmts[1].(ExprStmt).Expr.(*Var).Ref
	if ref.Kind != Local {
		t.Fatalf("a binding referenced within its own Block must resolve Local, got %v", ref.Kind)
	}
}

func TestGlobalClassification(t *testing.T) {
	// an unbound top-level reference resolves Global
	prog := block(exprStmt(lex("undefined_name")))
	p := Flatten(prog)

	fb := p.Expr.(*Block)
	ref := fb.Stmts[0].(ExprStmt).Expr.(*Var).Ref
	if ref.Kind != Global {
		t.Fatalf("unbound top-level reference must resolve Global, got %v", ref.Kind)
	}
	if ref.Name != "undefined_name" {
		t.Fatalf("Global resolution must keep the original name, got %q", ref.Name)
	}
}

func TestCloverClassification(t *testing.T) {
	// def x = 1; fn { (y) => x }
	fn := &ast.Function{Methods: []*ast.Method{
		method([]string{"y"}, block(exprStmt(lex("x")))),
	}}
	prog := block(def("x", constInt(1)), exprStmt(fn))
	p := Flatten(prog)

	if len(p.Procs) != 1 {
		t.Fatalf("expected exactly one emitted proc, got %d", len(p.Procs))
	}
	var proc *Proc
	for _, pr := range p.Procs {
		proc = pr
	}
	clause := proc.Clauses[1][0] // arity 1: the user's one param, self excluded
	var xRef VarRef
	found := false
	for _, s := range clause.Body {
		if es, ok := s.(ExprStmt); ok {
			if v, ok := es.Expr.(*Var); ok {
				xRef = v.Ref
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected the clause body's lone statement to be the resolved Var")
	}
	if xRef.Kind != Clover {
		t.Fatalf("a reference to an enclosing Block's binding from inside a Function body must resolve Clover, got %v", xRef.Kind)
	}
	if len(proc.Freevars) != 1 || proc.Freevars[0] != xRef.Name {
		t.Fatalf("the captured name must appear in Proc.Freevars in the same renamed form as the Clover reference")
	}
}

func TestSelfIsBoundAsLocalRegisterZero(t *testing.T) {
	// fn { (n) => self(n) } -- self must resolve Local, and sit first in
	// Params (register 0 once compiled), ahead of the user's own params.
	fn := &ast.Function{Methods: []*ast.Method{
		method([]string{"n"}, block(exprStmt(&ast.Call{
			Callee: lex("self"),
			Args:   []ast.Node{lex("n")},
		}))),
	}}
	prog := block(exprStmt(fn))
	p := Flatten(prog)

	var proc *Proc
	for _, pr := range p.Procs {
		proc = pr
	}
	clause := proc.Clauses[1][0]
	if len(clause.Params) != 2 {
		t.Fatalf("clause must have self + 1 user param, got %d params", len(clause.Params))
	}
	call := clause.Body[0].(ExprStmt).Expr.(*Call)
	selfRef := call.Callee.(*Var).Ref
	if selfRef.Kind != Local {
		t.Fatalf("self must resolve Local (not Clover/Global), got %v", selfRef.Kind)
	}
	if selfRef.Name != clause.Params[0] {
		t.Fatalf("self must resolve to the clause's first (register-0) param, got %q want %q", selfRef.Name, clause.Params[0])
	}
}

func TestAlphaUniquenessAcrossClauses(t *testing.T) {
	// two sibling fns, each with a param named "n" -- flatten must rename
	// them to distinct names so neither clause's compiled registers ever
	// collide with the other's.
	fn1 := &ast.Function{Methods: []*ast.Method{method([]string{"n"}, block(exprStmt(lex("n"))))}}
	fn2 := &ast.Function{Methods: []*ast.Method{method([]string{"n"}, block(exprStmt(lex("n"))))}}
	prog := block(exprStmt(fn1), exprStmt(fn2))
	p := Flatten(prog)

	if len(p.Procs) != 2 {
		t.Fatalf("expected 2 emitted procs, got %d", len(p.Procs))
	}
	var names []string
	for _, proc := range p.Procs {
		clause := proc.Clauses[1][0]
		names = append(names, clause.Params[1]) // index 0 is self
	}
	if names[0] == names[1] {
		t.Fatalf("alpha-renaming must keep the two 'n' params distinct, both came out as %q", names[0])
	}
}

func TestBlockFrameIsTransparentToLocal(t *testing.T) {
	// { def x = 1; { x } } -- a Block nested inside another Block (no
	// Function boundary crossed) must still resolve x as Local.
	inner := block(exprStmt(lex("x")))
	outer := block(def("x", constInt(1)), exprStmt(inner))
	p := Flatten(outer)

	fb := p.Expr.(*Block)
	innerFlat := fb.Stmts[1].(ExprStmt).Expr.(*Block)
	ref := innerFlat.Stmts[0].(ExprStmt).Expr.(*Var).Ref
	if ref.Kind != Local {
		t.Fatalf("crossing only Block frames (no Function) must keep a reference Local, got %v", ref.Kind)
	}
}
