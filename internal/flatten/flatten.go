// Package flatten implements proff's closure-conversion pass: spec.md's
// C7, turning a lexically-nested ast.Function tree into a flat table of
// top-level Procs plus an Expr tree whose variable references are
// resolved to Local/Clover/Global. Grounded closely on
// original_source/rs/src/passes/flatten.rs: the Env frame chain, the
// Local/Clover/Global resolution algorithm, and proc emission all follow
// that file line for line, translated from Rust's Rc<Env> parent chain
// to a plain Go pointer chain (Go's GC makes the Rc wrapper redundant)
// and from its CtxMapping trait dispatch to a type switch, which is the
// idiomatic Go way to do the same "visit whichever case this node is"
// job.
package flatten

import (
	"fmt"

	"github.com/nilern/proff/internal/ast"
)

// VarKind is how a Lex reference was resolved.
type VarKind uint8

const (
	Local VarKind = iota
	Clover
	Global
)

// VarRef is a resolved variable reference, the flattened form of
// ast.Lex.
type VarRef struct {
	Kind VarKind
	Name string
}

func (v VarRef) String() string {
	switch v.Kind {
	case Local:
		return v.Name
	case Clover:
		return "€" + v.Name
	default:
		return "$" + v.Name
	}
}

// Expr is the flattened expression tree: the same shape as ast.Node
// minus Function (replaced by Closure) and with Lex replaced by a
// resolved Var.
type Expr interface {
	exprNode()
}

type Block struct {
	Stmts []Stmt
}

func (*Block) exprNode() {}

type Stmt interface {
	stmtNode()
}

type Def struct {
	Name string // already α-renamed
	Val  Expr
}

func (*Def) stmtNode() {}

type ExprStmt struct{ Expr Expr }

func (ExprStmt) stmtNode() {}

// Closure replaces a Function node: a reference to a top-level Proc
// plus the list of names it captures, in the order the VM's `fun`
// instruction expects them packed.
type Closure struct {
	Proc     string
	Freevars []string
}

func (*Closure) exprNode() {}

type Call struct {
	Callee Expr
	Args   []Expr
}

func (*Call) exprNode() {}

type Var struct{ Ref VarRef }

func (*Var) exprNode() {}

type Const struct{ Const *ast.Const }

func (*Const) exprNode() {}

// Clause is a flattened Method: params are α-renamed names with a
// synthetic "self" prepended, per spec.md's proc-emission rule.
type Clause struct {
	Params []string
	Guard  Expr
	Body   []Stmt
}

// Proc is a flattened Function: freevars in capture order, clauses
// bucketed by arity (spec.md: "Clauses are grouped into an arity
// bucket").
type Proc struct {
	Freevars []string
	Clauses  map[int][]*Clause
}

// Program is flatten's output: the full set of emitted procs plus the
// top-level expression (the flattened form of the original program,
// which is itself treated as an implicit zero-arg clause body).
type Program struct {
	Procs map[string]*Proc
	Expr  Expr
}

// frameKind distinguishes the two Env frame tags spec.md's flatten
// description names: Function frames are clover boundaries, Block
// frames are not.
type frameKind uint8

const (
	frameFunction frameKind = iota
	frameBlock
)

// env is one frame of the lexical scope chain flatten threads through
// the fold: spec.md's "Env is a stack of frames tagged either Function
// or Block". Each frame maps original names to fresh α-renamed names.
type env struct {
	kind     frameKind
	bindings map[string]string
	parent   *env
}

func (e *env) rebind(name string) (string, bool) {
	renamed, ok := e.bindings[name]
	return renamed, ok
}

// resolve implements spec.md's three-step resolution algorithm. A hit in
// the innermost frame is always Local, regardless of that frame's kind —
// it's literally the scope the reference sits in. Once the walk leaves
// the innermost frame, the escalation to "every further hit is Clover"
// starts as soon as the frame being left is itself a Function frame
// (mirroring resolveOuter's own escalation for every frame after it).
func (e *env) resolve(name string) VarRef {
	if e == nil {
		return VarRef{Global, name}
	}
	if renamed, ok := e.rebind(name); ok {
		return VarRef{Local, renamed}
	}
	if e.kind == frameFunction {
		return e.parent.resolveClover(name)
	}
	return e.parent.resolveOuter(name)
}

// resolveOuter is step 2: once the walk has left the innermost frame,
// any Function frame crossed turns a subsequent hit into a Clover; a
// Block frame crossed without yet crossing a Function frame is
// transparent, so a hit beyond it is still Local.
func (e *env) resolveOuter(name string) VarRef {
	if e == nil {
		return VarRef{Global, name}
	}
	if renamed, ok := e.rebind(name); ok {
		if e.kind == frameFunction {
			return VarRef{Clover, renamed}
		}
		return VarRef{Local, renamed}
	}
	if e.kind == frameFunction {
		return e.parent.resolveClover(name)
	}
	return e.parent.resolveOuter(name)
}

// resolveClover is step 2 continued: once at least one Function frame
// has been crossed, every subsequent hit (regardless of frame kind) is
// a Clover.
func (e *env) resolveClover(name string) VarRef {
	if e == nil {
		return VarRef{Global, name}
	}
	if renamed, ok := e.rebind(name); ok {
		return VarRef{Clover, renamed}
	}
	return e.parent.resolveClover(name)
}

// flattener holds the running α-renaming counter and the procs table
// being accumulated across the whole pass.
type flattener struct {
	counter int
	procs   map[string]*Proc
}

func newFlattener() *flattener {
	return &flattener{procs: make(map[string]*Proc)}
}

func (f *flattener) rename(name string) string {
	f.counter++
	return fmt.Sprintf("%s.%d", name, f.counter)
}

func (f *flattener) freshProcName() string {
	f.counter++
	return fmt.Sprintf("f_%d", f.counter)
}

// freevarSet is an insertion-ordered set: flatten needs deterministic
// freevar ordering (the VM's `fun` instruction packs clovers
// positionally) so a plain map with no secondary order won't do.
type freevarSet struct {
	order []string
	seen  map[string]bool
}

func newFreevarSet() *freevarSet { return &freevarSet{seen: make(map[string]bool)} }

func (s *freevarSet) add(name string) {
	if !s.seen[name] {
		s.seen[name] = true
		s.order = append(s.order, name)
	}
}

func (s *freevarSet) addAll(other *freevarSet) {
	for _, n := range other.order {
		s.add(n)
	}
}

func (s *freevarSet) remove(names map[string]string) {
	removed := make(map[string]bool, len(names))
	for _, renamed := range names {
		removed[renamed] = true
	}
	kept := s.order[:0]
	for _, n := range s.order {
		if !removed[n] {
			kept = append(kept, n)
		}
	}
	s.order = kept
}

func (s *freevarSet) names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Flatten runs the closure-conversion pass over the root expression of
// a program (spec.md's "fold with environment type Option<Env>"; the
// outermost call starts with a nil env, i.e. a completely empty scope
// chain, so every unbound name at the top level resolves Global).
func Flatten(root ast.Node) *Program {
	fl := newFlattener()
	expr, _ := fl.expr(root, nil)
	return &Program{Procs: fl.procs, Expr: expr}
}

func (f *flattener) blockBindings(stmts []ast.Stmt) map[string]string {
	bindings := make(map[string]string)
	for _, s := range stmts {
		if d, ok := s.(*ast.Def); ok {
			bindings[d.Name] = f.rename(d.Name)
		}
	}
	return bindings
}

func (f *flattener) paramBindings(params []string) map[string]string {
	bindings := make(map[string]string, len(params))
	for _, p := range params {
		bindings[p] = f.rename(p)
	}
	return bindings
}

// expr flattens one ast.Node under env, returning the flattened form
// and the set of names it references as Clovers (freevars).
func (f *flattener) expr(n ast.Node, e *env) (Expr, *freevarSet) {
	switch n := n.(type) {
	case *ast.Block:
		return f.block(n, e)
	case *ast.Function:
		return f.function(n, e)
	case *ast.Call:
		return f.call(n, e)
	case *ast.Lex:
		return f.lex(n, e)
	case *ast.Const:
		return &Const{Const: n}, newFreevarSet()
	default:
		panic(fmt.Sprintf("flatten: unhandled node type %T", n))
	}
}

func (f *flattener) block(n *ast.Block, e *env) (Expr, *freevarSet) {
	bindings := f.blockBindings(n.Stmts)
	inner := &env{kind: frameBlock, bindings: bindings, parent: e}

	freevars := newFreevarSet()
	fstmts := make([]Stmt, len(n.Stmts))
	for i, s := range n.Stmts {
		fs, fv := f.stmt(s, inner)
		fstmts[i] = fs
		freevars.addAll(fv)
	}
	freevars.remove(bindings)

	return &Block{Stmts: fstmts}, freevars
}

func (f *flattener) stmt(s ast.Stmt, e *env) (Stmt, *freevarSet) {
	switch s := s.(type) {
	case *ast.Def:
		val, fv := f.expr(s.Expr, e)
		renamed, _ := e.rebind(s.Name)
		return &Def{Name: renamed, Val: val}, fv
	case ast.ExprStmt:
		val, fv := f.expr(s.Expr, e)
		return ExprStmt{val}, fv
	default:
		panic(fmt.Sprintf("flatten: unhandled stmt type %T", s))
	}
}

func (f *flattener) function(n *ast.Function, e *env) (Expr, *freevarSet) {
	freevars := newFreevarSet()
	clauses := make(map[int][]*Clause)
	for _, m := range n.Methods {
		c, fv := f.method(m, e)
		freevars.addAll(fv)
		argc := len(c.Params) - 1 // exclude the synthetic self
		clauses[argc] = append(clauses[argc], c)
	}

	freevec := freevars.names()
	name := f.freshProcName()
	f.procs[name] = &Proc{Freevars: freevec, Clauses: clauses}

	return &Closure{Proc: name, Freevars: freevec}, freevars
}

func (f *flattener) method(m *ast.Method, e *env) (*Clause, *freevarSet) {
	paramBindings := f.paramBindings(m.Params)
	selfName := f.rename("self")
	// spec.md: "a synthetic self parameter is prepended to each clause
	// parameter list (for method dispatch / self-reference)". Binding
	// "self" here (rather than leaving it unreachable from ordinary Lex
	// resolution) is what makes that self-reference actually usable: a
	// body that calls itself recursively writes self(...), which then
	// resolves as an ordinary Local through the ordinary three-step
	// algorithm instead of needing a letrec-style capture of its own
	// enclosing binding.
	if _, userShadowed := paramBindings["self"]; !userShadowed {
		paramBindings["self"] = selfName
	}
	paramEnv := &env{kind: frameFunction, bindings: paramBindings, parent: e}

	var guard Expr
	freevars := newFreevarSet()
	if m.Guard != nil {
		g, fv := f.expr(m.Guard, paramEnv)
		guard = g
		freevars.addAll(fv)
	}
	freevars.remove(paramBindings)

	bodyBindings := f.blockBindings(m.Body.Stmts)
	merged := make(map[string]string, len(paramBindings)+len(bodyBindings))
	for k, v := range paramBindings {
		merged[k] = v
	}
	for k, v := range bodyBindings {
		merged[k] = v
	}
	bodyEnv := &env{kind: frameFunction, bindings: merged, parent: e}

	fstmts := make([]Stmt, len(m.Body.Stmts))
	for i, s := range m.Body.Stmts {
		fs, fv := f.stmt(s, bodyEnv)
		fstmts[i] = fs
		freevars.addAll(fv)
	}
	freevars.remove(merged)

	params := make([]string, 0, len(m.Params)+1)
	params = append(params, selfName)
	for _, p := range m.Params {
		renamed, _ := paramEnv.rebind(p)
		params = append(params, renamed)
	}

	return &Clause{Params: params, Guard: guard, Body: fstmts}, freevars
}

func (f *flattener) call(n *ast.Call, e *env) (Expr, *freevarSet) {
	callee, freevars := f.expr(n.Callee, e)
	args := make([]Expr, len(n.Args))
	for i, a := range n.Args {
		fa, fv := f.expr(a, e)
		args[i] = fa
		freevars.addAll(fv)
	}
	return &Call{Callee: callee, Args: args}, freevars
}

func (f *flattener) lex(n *ast.Lex, e *env) (Expr, *freevarSet) {
	ref := e.resolve(n.Name)
	freevars := newFreevarSet()
	if ref.Kind == Clover {
		freevars.add(ref.Name)
	}
	return &Var{Ref: ref}, freevars
}
