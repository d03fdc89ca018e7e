// Package parser is proff's minimal hand-written lexer+recursive-descent
// parser, producing internal/ast trees. spec.md §1 places the lexer and
// grammar-driven parser out of scope as external collaborators; this
// package exists only because the CLI (cmd/proff) needs something
// concrete to turn source text into internal/ast nodes to exercise
// C6-C10 end to end. It is deliberately small: no property tests target
// it the way C1-C10 do, and it builds the whole tree as plain Go values
// in one pass before any VM allocation begins, so (unlike spec.md §6's
// optional "Parser ↔ Heap boundary" contract for an external parser
// threading GC roots through retries) it has no occasion to retry.
//
// Grounded on original_source/src/main.rs's driver shape (lex, then
// parse) and, for the concrete grammar, invented from scratch since
// nothing in the example pack specifies proff's surface syntax:
//
//	program  := stmtList
//	block    := '{' stmtList '}'
//	stmtList := stmt (';' stmt)* ';'?
//	stmt     := 'def' IDENT '=' expr | expr
//	expr     := cmp
//	cmp      := add ('<' add)?
//	add      := mul (('+'|'-') mul)*
//	mul      := unary ('*' unary)*
//	unary    := call
//	call     := primary ('(' exprList ')')*
//	primary  := INT | FLOAT | CHAR | STRING | 'true' | 'false' | IDENT
//	          | '(' expr ')' | block | funexpr | ifexpr
//	funexpr  := 'fn' '{' method (';' method)* ';'? '}'
//	method   := '(' paramList ')' ('|' expr)? '=>' (block | expr)
//	ifexpr   := 'if' expr 'then' expr 'else' expr
//	exprList := (expr (',' expr)*)?
//	paramList:= (IDENT (',' IDENT)*)?
//
// "+"/"-"/"*"/"<" compile to internal/bytecode primitives further down
// the pipeline (internal/interp/compiler.go's compileCall); the parser
// itself just builds ordinary ast.Call nodes for them, same as any other
// call. Recursion goes through the synthetic "self" parameter every
// Method already gets (flatten.go's method()): a fn literal's body
// calls `self(...)` to recurse, rather than the grammar offering any
// named-recursive-binding form.
package parser

import (
	"fmt"

	"github.com/nilern/proff/internal/ast"
)

// Parse lexes and parses src into a single ast.Node: the top level is
// treated as an implicit Block (a statement list with no surrounding
// braces), matching flatten.Flatten's expectation that its root may be
// any ast.Node, Block included.
func Parse(src string) (ast.Node, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	at := p.tok.at
	stmts, err := p.stmtList(tokEOF)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("parser: unexpected trailing input at offset %d", p.tok.at)
	}
	return &ast.Block{At: at, Stmts: stmts}, nil
}

type parser struct {
	lx  *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(k tokKind, what string) (token, error) {
	if p.tok.kind != k {
		return token{}, fmt.Errorf("parser: expected %s at offset %d", what, p.tok.at)
	}
	t := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return t, nil
}

// stmtList parses statements separated by ';' until it sees end (tokEOF
// for the top level, tokRBrace for a braced block), consuming a single
// optional trailing ';'.
func (p *parser) stmtList(end tokKind) ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for p.tok.kind != end {
		s, err := p.stmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if p.tok.kind == tokSemi {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if len(stmts) == 0 {
		return nil, fmt.Errorf("parser: empty statement list at offset %d", p.tok.at)
	}
	return stmts, nil
}

func (p *parser) stmt() (ast.Stmt, error) {
	if p.tok.kind == tokDef {
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(tokIdent, "identifier after 'def'")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokEquals, "'=' in def"); err != nil {
			return nil, err
		}
		val, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &ast.Def{At: at, Name: name.text, Expr: val}, nil
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	return ast.ExprStmt{Expr: e}, nil
}

func (p *parser) expr() (ast.Node, error) { return p.cmp() }

func (p *parser) cmp() (ast.Node, error) {
	l, err := p.add()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokLess {
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.add()
		if err != nil {
			return nil, err
		}
		return binCall(at, "<", l, r), nil
	}
	return l, nil
}

func (p *parser) add() (ast.Node, error) {
	l, err := p.mul()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokPlus || p.tok.kind == tokMinus {
		op := "+"
		if p.tok.kind == tokMinus {
			op = "-"
		}
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.mul()
		if err != nil {
			return nil, err
		}
		l = binCall(at, op, l, r)
	}
	return l, nil
}

func (p *parser) mul() (ast.Node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokStar {
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binCall(at, "*", l, r)
	}
	return l, nil
}

func binCall(at ast.Pos, op string, l, r ast.Node) ast.Node {
	return &ast.Call{At: at, Callee: &ast.Lex{At: at, Name: op}, Args: []ast.Node{l, r}}
}

func (p *parser) unary() (ast.Node, error) { return p.call() }

func (p *parser) call() (ast.Node, error) {
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokLParen {
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		args, err := p.exprList(tokRParen)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		e = &ast.Call{At: at, Callee: e, Args: args}
	}
	return e, nil
}

func (p *parser) exprList(end tokKind) ([]ast.Node, error) {
	var args []ast.Node
	if p.tok.kind == end {
		return args, nil
	}
	for {
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func (p *parser) primary() (ast.Node, error) {
	switch p.tok.kind {
	case tokInt:
		t := p.tok
		n, err := parseIntLiteral(t.text)
		if err != nil {
			return nil, fmt.Errorf("parser: bad integer literal %q at offset %d: %w", t.text, t.at, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Const{At: t.at, Kind: ast.ConstInt, Int: n}, nil

	case tokFloat:
		t := p.tok
		f, err := parseFloatLiteral(t.text)
		if err != nil {
			return nil, fmt.Errorf("parser: bad float literal %q at offset %d: %w", t.text, t.at, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Const{At: t.at, Kind: ast.ConstFloat, Float: f}, nil

	case tokChar:
		t := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Const{At: t.at, Kind: ast.ConstChar, Char: []rune(t.text)[0]}, nil

	case tokString:
		t := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Const{At: t.at, Kind: ast.ConstString, String: t.text}, nil

	case tokTrue:
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Const{At: at, Kind: ast.ConstBool, Bool: true}, nil

	case tokFalse:
		at := p.tok.at
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Const{At: at, Kind: ast.ConstBool, Bool: false}, nil

	case tokIdent:
		t := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Lex{At: t.at, Name: t.text}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil

	case tokLBrace:
		return p.block()

	case tokFn:
		return p.funExpr()

	case tokIf:
		return p.ifExpr()

	default:
		return nil, fmt.Errorf("parser: unexpected token at offset %d", p.tok.at)
	}
}

func (p *parser) block() (*ast.Block, error) {
	at := p.tok.at
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	stmts, err := p.stmtList(tokRBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return &ast.Block{At: at, Stmts: stmts}, nil
}

func (p *parser) funExpr() (ast.Node, error) {
	at := p.tok.at
	if err := p.advance(); err != nil { // 'fn'
		return nil, err
	}
	if _, err := p.expect(tokLBrace, "'{' after 'fn'"); err != nil {
		return nil, err
	}
	var methods []*ast.Method
	for {
		m, err := p.method()
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
		if p.tok.kind == tokSemi {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind == tokRBrace {
				break
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokRBrace, "'}' closing fn"); err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("parser: fn with no methods at offset %d", at)
	}
	return &ast.Function{At: at, Methods: methods}, nil
}

func (p *parser) method() (*ast.Method, error) {
	at := p.tok.at
	if _, err := p.expect(tokLParen, "'(' starting a method's parameters"); err != nil {
		return nil, err
	}
	var params []string
	if p.tok.kind != tokRParen {
		for {
			name, err := p.expect(tokIdent, "parameter name")
			if err != nil {
				return nil, err
			}
			params = append(params, name.text)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(tokRParen, "')' closing parameters"); err != nil {
		return nil, err
	}

	var guard ast.Node
	if p.tok.kind == tokPipe {
		if err := p.advance(); err != nil {
			return nil, err
		}
		g, err := p.expr()
		if err != nil {
			return nil, err
		}
		guard = g
	}

	if _, err := p.expect(tokFatArrow, "'=>'"); err != nil {
		return nil, err
	}
	if p.tok.kind != tokLBrace {
		// An expression body is shorthand for a one-statement block.
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		body := &ast.Block{At: e.Pos(), Stmts: []ast.Stmt{ast.ExprStmt{Expr: e}}}
		return &ast.Method{At: at, Params: params, Guard: guard, Body: body}, nil
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &ast.Method{At: at, Params: params, Guard: guard, Body: body}, nil
}

func (p *parser) ifExpr() (ast.Node, error) {
	at := p.tok.at
	if err := p.advance(); err != nil { // 'if'
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokThen, "'then'"); err != nil {
		return nil, err
	}
	then, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokElse, "'else'"); err != nil {
		return nil, err
	}
	els, err := p.expr()
	if err != nil {
		return nil, err
	}
	return ast.NewIf(at, cond, then, els), nil
}
