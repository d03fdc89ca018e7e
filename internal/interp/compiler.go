package interp

import (
	"fmt"

	"github.com/nilern/proff/internal/ast"
	"github.com/nilern/proff/internal/bytecode"
	"github.com/nilern/proff/internal/flatten"
)

// compiler lowers flatten's Proc/Expr tree into bytecode.Assembler trees.
// Grounded on original_source/src/bytecode.rs and vm.rs's fact/tailfact
// fixtures, which are the only worked examples of this lowering: a
// clause's parameters occupy registers 0..len(params)-1 in order (param
// 0 always the synthetic self, spec.md's "for method dispatch /
// self-reference"), a call stages the callee and its arguments into
// fresh registers starting at some chosen frame offset, then
// svk/call/ret do the rest. Not named as its own component in spec.md
// (C7 ends at flatten's Expr tree, C8 begins at Assembler); this file is
// the missing connective tissue.
//
// compileCall recognizes four global names — "+", "-", "*", "<" — as
// primitives lowered straight to iadd/isub/imul/ilt rather than a real
// closure call, since the VM's instruction set has no other way to
// reach those opcodes from source. Everything else calling convention
// reaches ordinary closures.
type compiler struct {
	prog *flatten.Program
	// compiled caches each proc's assembled form: every Proc is
	// referenced by exactly one flatten.Closure node (flatten mints a
	// fresh name per Function literal), but compiling lazily and
	// caching keeps this correct even if that ever changes.
	compiled map[string]*bytecode.Assembler
}

func newCompiler(prog *flatten.Program) *compiler {
	return &compiler{prog: prog, compiled: make(map[string]*bytecode.Assembler)}
}

// compileProgram assembles the top-level expression as an implicit
// zero-argument clause: spec.md's Program is "the full set of emitted
// procs plus the top-level expression", and the VM always starts inside
// some closure's code object, so the top level gets one too, with a
// single synthetic self register nothing ever reads.
func (c *compiler) compileProgram() (*bytecode.Assembler, error) {
	cc := newClauseCompiler(c, 1, nil)
	cc.regs["%toplevel-self"] = 0

	v, err := cc.compileExpr(c.prog.Expr)
	if err != nil {
		return nil, err
	}
	cc.asm.PushInstr(bytecode.Halt(v))
	return cc.asm, nil
}

// compileProc compiles (and caches) the named proc into its own
// Assembler, suitable as a `fun` child.
func (c *compiler) compileProc(name string) (*bytecode.Assembler, error) {
	if asm, ok := c.compiled[name]; ok {
		return asm, nil
	}
	proc, ok := c.prog.Procs[name]
	if !ok {
		return nil, fmt.Errorf("interp: compile: unknown proc %q", name)
	}

	if len(proc.Clauses) != 1 {
		return nil, fmt.Errorf(
			"interp: compile: proc %q has %d arity buckets; this VM gives every "+
				"closure a single ip=0 entry point with no argc signal reaching the "+
				"callee, so multi-arity procs (functions with clauses of different "+
				"arities) aren't supported", name, len(proc.Clauses))
	}
	var clauses []*flatten.Clause
	for _, cs := range proc.Clauses {
		clauses = cs
	}
	paramCount := 0
	if len(clauses) > 0 {
		paramCount = len(clauses[0].Params)
	}

	cc := newClauseCompiler(c, paramCount, proc.Freevars)
	// Cache before compiling the body: a proc that captures itself as a
	// freevar (a function referencing its own name from an enclosing
	// Def) would otherwise recurse through compileProc forever. Such a
	// capture compiles fine regardless — it only needs the Assembler
	// object to exist, not be finished — but nothing in this compiler
	// currently produces one, since recursive calls go through the
	// ordinary "self" parameter (ordinary Local(0)) instead, per
	// spec.md's "self parameter ... for method dispatch / self-reference".
	c.compiled[name] = cc.asm

	if err := cc.compileClauses(clauses); err != nil {
		return nil, err
	}
	return cc.asm, nil
}

// clauseCompiler compiles one arity bucket's clauses into a single
// Assembler: registers 0..paramCount-1 are reserved for the clause's
// parameters (self always register 0, per the VM's Call/Ret protocol
// treating fp+0 as the active closure — spec.md's "self parameter ...
// for method dispatch / self-reference"), then registers
// paramCount..paramCount+len(freevars)-1 hold the proc's captured
// freevars, loaded once on entry since they don't change across clauses.
type clauseCompiler struct {
	c          *compiler
	asm        *bytecode.Assembler
	regs       map[string]uint8 // Local/Clover name -> register
	next       uint8
	paramCount uint8 // registers [0, paramCount) are reset per clause
}

func newClauseCompiler(c *compiler, paramCount int, freevars []string) *clauseCompiler {
	cc := &clauseCompiler{c: c, asm: bytecode.NewAssembler(), regs: make(map[string]uint8), paramCount: uint8(paramCount)}
	cc.next = uint8(paramCount)
	for i, name := range freevars {
		reg := cc.alloc()
		cc.regs[name] = reg
		cc.asm.PushInstr(bytecode.LdFree(reg, uint16(i)))
	}
	return cc
}

func (cc *clauseCompiler) alloc() uint8 {
	r := cc.next
	cc.next++
	return r
}

// compileClauses lowers every clause of one arity bucket into cc.asm, in
// source order, dispatching on guards. Param registers always start
// back at 0 for each clause (since different clauses use different
// α-renamed parameter names for what is positionally the same register,
// self always landing on register 0) but the high-water mark afterward
// resets to just past the freevar registers reserved by
// newClauseCompiler, never below them — clauses are mutually exclusive
// (only one body ever runs) but all share the same freevar slots.
func (cc *clauseCompiler) compileClauses(clauses []*flatten.Clause) error {
	afterFreevars := cc.next
	for _, cl := range clauses {
		cc.next = 0
		for name, reg := range cc.regs {
			if reg < cc.paramCount {
				delete(cc.regs, name)
			}
		}
		for _, p := range cl.Params {
			cc.regs[p] = cc.alloc()
		}
		if cc.next < afterFreevars {
			cc.next = afterFreevars
		}

		if err := cc.compileClause(cl); err != nil {
			return err
		}
	}
	return nil
}

// compileClause emits one guarded clause: an unconditional guard (nil or
// Const(true) — spec.md's if/then/else desugars its "else" clause to
// exactly this) falls straight into the body with no test; anything
// else compiles to a value (spec.md's if/then/else desugars its "then"
// clause's guard to a bare boolean Lex reference) and skips the body
// with `brf` when it's false — the body always ends in `ret`, so no
// merge jump back is needed, matching the ilt/br pattern
// bytecode.rs's fact() fixture uses for the same purpose.
func (cc *clauseCompiler) compileClause(cl *flatten.Clause) error {
	unconditional := cl.Guard == nil
	if fc, ok := cl.Guard.(*flatten.Const); ok && fc.Const.Kind == ast.ConstBool && fc.Const.Bool {
		unconditional = true
	}

	if unconditional {
		return cc.compileBody(cl.Body)
	}

	test, err := cc.compileExpr(cl.Guard)
	if err != nil {
		return err
	}

	brIdx := cc.asm.Len()
	cc.asm.PushInstr(bytecode.BrF(test, 0)) // patched below once the body's length is known
	bodyStart := cc.asm.Len()

	if err := cc.compileBody(cl.Body); err != nil {
		return err
	}
	cc.asm.PatchBr(brIdx, uint16(cc.asm.ByteLen(bodyStart, cc.asm.Len())))
	return nil
}

// compileBody emits a clause's statements in order, ending in a `ret` of
// the final statement's value.
func (cc *clauseCompiler) compileBody(stmts []flatten.Stmt) error {
	var last bytecode.Operand
	if len(stmts) == 0 {
		return fmt.Errorf("interp: compile: empty clause body")
	}
	for _, s := range stmts {
		v, err := cc.compileStmt(s)
		if err != nil {
			return err
		}
		last = v
	}
	cc.asm.PushInstr(bytecode.Ret(last))
	return nil
}

func (cc *clauseCompiler) compileStmt(s flatten.Stmt) (bytecode.Operand, error) {
	switch s := s.(type) {
	case *flatten.Def:
		v, err := cc.compileExpr(s.Val)
		if err != nil {
			return 0, err
		}
		reg, ok := cc.regs[s.Name]
		if !ok {
			reg = cc.alloc()
			cc.regs[s.Name] = reg
		}
		cc.asm.PushInstr(bytecode.Mov(reg, v))
		return bytecode.OpLocal(reg), nil
	case flatten.ExprStmt:
		return cc.compileExpr(s.Expr)
	default:
		return 0, fmt.Errorf("interp: compile: unhandled stmt type %T", s)
	}
}

// compileBlock evaluates a nested Block's statements in cc's own
// register namespace — flatten's α-renaming already makes every binding
// name globally unique, so a Block nested inside a clause body shares
// register space safely with the rest of the clause.
func (cc *clauseCompiler) compileBlock(b *flatten.Block) (bytecode.Operand, error) {
	if len(b.Stmts) == 0 {
		return bytecode.OpConst(0), fmt.Errorf("interp: compile: empty block")
	}
	var last bytecode.Operand
	for _, s := range b.Stmts {
		v, err := cc.compileStmt(s)
		if err != nil {
			return 0, err
		}
		last = v
	}
	return last, nil
}

func (cc *clauseCompiler) compileExpr(e flatten.Expr) (bytecode.Operand, error) {
	switch e := e.(type) {
	case *flatten.Const:
		return bytecode.OpConst(cc.asm.PushConst(e.Const)), nil

	case *flatten.Var:
		switch e.Ref.Kind {
		case flatten.Local, flatten.Clover:
			reg, ok := cc.regs[e.Ref.Name]
			if !ok {
				return 0, fmt.Errorf("interp: compile: unbound name %s", e.Ref)
			}
			return bytecode.OpLocal(reg), nil
		default:
			return 0, fmt.Errorf("interp: compile: global variables are not supported (%s)", e.Ref)
		}

	case *flatten.Block:
		return cc.compileBlock(e)

	case *flatten.Closure:
		return cc.compileClosure(e)

	case *flatten.Call:
		return cc.compileCall(e)

	default:
		return 0, fmt.Errorf("interp: compile: unhandled expr type %T", e)
	}
}

func (cc *clauseCompiler) compileClosure(cl *flatten.Closure) (bytecode.Operand, error) {
	childAsm, err := cc.c.compileProc(cl.Proc)
	if err != nil {
		return 0, err
	}
	idx := cc.asm.PushChild(childAsm)

	captures := make([]bytecode.Operand, len(cl.Freevars))
	for i, name := range cl.Freevars {
		reg, ok := cc.regs[name]
		if !ok {
			return 0, fmt.Errorf("interp: compile: closure capture of unbound name %s", name)
		}
		captures[i] = bytecode.OpLocal(reg)
	}

	dest := cc.alloc()
	cc.asm.PushInstr(bytecode.Fun(dest, idx, captures))
	return bytecode.OpLocal(dest), nil
}

var intrinsics = map[string]bool{"+": true, "-": true, "*": true, "<": true}

func (cc *clauseCompiler) compileCall(call *flatten.Call) (bytecode.Operand, error) {
	if v, ok := call.Callee.(*flatten.Var); ok && v.Ref.Kind == flatten.Global && intrinsics[v.Ref.Name] {
		if len(call.Args) != 2 {
			return 0, fmt.Errorf("interp: compile: primitive %q wants 2 arguments, got %d", v.Ref.Name, len(call.Args))
		}
		l, err := cc.compileExpr(call.Args[0])
		if err != nil {
			return 0, err
		}
		r, err := cc.compileExpr(call.Args[1])
		if err != nil {
			return 0, err
		}
		dest := cc.alloc()
		switch v.Ref.Name {
		case "+":
			cc.asm.PushInstr(bytecode.IAdd(dest, l, r))
		case "-":
			cc.asm.PushInstr(bytecode.ISub(dest, l, r))
		case "*":
			cc.asm.PushInstr(bytecode.IMul(dest, l, r))
		case "<":
			return cc.compileLessThan(dest, l, r)
		}
		return bytecode.OpLocal(dest), nil
	}

	calleeOp, err := cc.compileExpr(call.Callee)
	if err != nil {
		return 0, err
	}
	argOps := make([]bytecode.Operand, len(call.Args))
	for i, a := range call.Args {
		op, err := cc.compileExpr(a)
		if err != nil {
			return 0, err
		}
		argOps[i] = op
	}

	// Frame offset for the callee: three past the current high-water
	// mark, so the svk save-slots (offset-3..offset-1) never alias an
	// already-live register, and neither do the closure and argument
	// registers it reserves from offset up.
	offset := cc.next + 3
	argc := 1 + len(argOps)
	top := offset + uint8(argc)
	if top > cc.next {
		cc.next = top
	}

	cc.asm.PushInstr(bytecode.Mov(offset, calleeOp))
	for i, op := range argOps {
		cc.asm.PushInstr(bytecode.Mov(offset+1+uint8(i), op))
	}
	cc.asm.PushInstr(bytecode.SvK(uint16(offset)))
	cc.asm.PushInstr(bytecode.Call(uint16(argc)))

	// Ret writes the callee's return value into the frame's own
	// oldfp-3 save slot, which lands at register (offset-3) in this
	// (the caller's) frame once fp is restored — bytecode.rs's fact()
	// fixture reads its call's result the same way (SvK(3) then
	// Halt(Local(0))).
	resultReg := offset - 3
	if resultReg >= cc.next {
		cc.next = resultReg + 1
	}
	return bytecode.OpLocal(resultReg), nil
}

// compileLessThan lowers "<" used as an ordinary value (not a clause
// guard) into a boolean via the standard branch-to-literal idiom: dest
// is first set to false; ilt skips the very next instruction when true,
// so that instruction is an unconditional jump over the true literal
// (taken only in the false case), and the true literal follows it.
func (cc *clauseCompiler) compileLessThan(dest uint8, l, r bytecode.Operand) (bytecode.Operand, error) {
	falseConst := bytecode.OpConst(cc.asm.PushConst(&ast.Const{Kind: ast.ConstBool, Bool: false}))
	trueConst := bytecode.OpConst(cc.asm.PushConst(&ast.Const{Kind: ast.ConstBool, Bool: true}))
	trueMov := bytecode.Mov(dest, trueConst)

	cc.asm.PushInstr(bytecode.Mov(dest, falseConst))
	cc.asm.PushInstr(bytecode.ILt(l, r))
	cc.asm.PushInstr(bytecode.Br(uint16(bytecode.Width(trueMov))))
	cc.asm.PushInstr(trueMov)
	return bytecode.OpLocal(dest), nil
}
