// Package ast defines proff's surface syntax tree: the node family the
// parser builds and the flatten pass consumes. Grounded on
// original_source/rs/src/ast.rs's AST enum and node structs, renamed to
// match the node vocabulary the interpreter spec actually uses
// (Function/Method/Call/Def/Lex in place of Fn/Clause/App/Def/Var).
package ast

// Pos is a source position. proff's parser is minimal (see
// internal/parser); proper line/column tracking is future work, so Pos
// is presently just a byte offset into the source text.
type Pos int

// Node is any AST expression. All concrete node types implement it.
type Node interface {
	Pos() Pos
	node()
}

// Function is a (possibly multi-clause) function expression: spec.md's
// Function(methods: [Method]).
type Function struct {
	At      Pos
	Methods []*Method
}

func (f *Function) Pos() Pos { return f.At }
func (*Function) node()      {}

// Method is one clause of a Function: a parameter pattern, an optional
// guard, and a body. Grounded on ast.rs's Clause, renamed per spec.md's
// Method(pattern, guard, body). proff's patterns are presently just
// parameter name lists (no destructuring), so Params stands in for
// "pattern".
type Method struct {
	At     Pos
	Params []string
	Guard  Node // nil means "always matches" (Const(true) in the emitted form)
	Body   *Block
}

func (m *Method) Pos() Pos { return m.At }

// Block is a sequence of statements, spec.md's Block(stmts, expr): the
// last statement's value is the block's value. An empty block is a
// syntax error at parse time, not a runtime one.
type Block struct {
	At    Pos
	Stmts []Stmt
}

func (b *Block) Pos() Pos { return b.At }
func (*Block) node()      {}

// Stmt is one statement in a Block: either a Def binding or a bare
// expression (whose value is discarded unless it is the block's last
// statement).
type Stmt interface {
	Pos() Pos
	stmt()
}

// Def binds name to the value of Expr within the enclosing Block or
// Method body: spec.md's Def(pattern, expr). Like Method.Params, Def's
// "pattern" is presently a single name.
type Def struct {
	At   Pos
	Name string
	Expr Node
}

func (d *Def) Pos() Pos { return d.At }
func (*Def) stmt()      {}

// ExprStmt wraps a Node used as a statement.
type ExprStmt struct {
	Expr Node
}

func (e ExprStmt) Pos() Pos { return e.Expr.Pos() }
func (ExprStmt) stmt()      {}

// Call is a function application: spec.md's Call(callee, args).
// Grounded on ast.rs's App.
type Call struct {
	At     Pos
	Callee Node
	Args   []Node
}

func (c *Call) Pos() Pos { return c.At }
func (*Call) node()      {}

// Lex is a reference to a lexically-scoped name: spec.md's Lex(name:
// Symbol). Grounded on ast.rs's Var/VarRef, collapsed to the
// pre-resolution form — flatten.Flatten classifies it into Local,
// Clover, or Global.
type Lex struct {
	At   Pos
	Name string
}

func (l *Lex) Pos() Pos { return l.At }
func (*Lex) node()      {}

// ConstKind discriminates Const's payload.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstChar
	ConstString
	ConstBool
)

// Const is a literal value: spec.md's Const(value). Grounded on
// ast.rs's ConstVal.
type Const struct {
	At     Pos
	Kind   ConstKind
	Int    int64
	Float  float64
	Char   rune
	String string
	Bool   bool
}

func (c *Const) Pos() Pos { return c.At }
func (*Const) node()      {}

// NewIf desugars an `if cond then else` into a two-clause, one-argument
// Function application, exactly mirroring ast.rs's AST::new_if: the
// first clause fires on a truthy dummy argument and evaluates then, the
// second is an unconditional fallback that evaluates els. This is the
// one tree-walker-era helper SPEC_FULL carries forward; the rest of
// original_source/src/resolve.rs is superseded by the bytecode path.
func NewIf(at Pos, cond, then, els Node) Node {
	return &Call{
		At: at,
		Callee: &Function{
			At: at,
			Methods: []*Method{
				{
					At:     then.Pos(),
					Params: []string{"_"},
					Guard:  &Lex{At: at, Name: "_"},
					Body:   &Block{At: then.Pos(), Stmts: []Stmt{ExprStmt{then}}},
				},
				{
					At:     els.Pos(),
					Params: []string{"_"},
					Guard:  &Const{At: at, Kind: ConstBool, Bool: true},
					Body:   &Block{At: els.Pos(), Stmts: []Stmt{ExprStmt{els}}},
				},
			},
		},
		Args: []Node{cond},
	}
}
