package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nilern/proff/internal/ast"
)

// tokKind discriminates the small fixed token set this lexer produces.
type tokKind uint8

const (
	tokEOF tokKind = iota
	tokInt
	tokFloat
	tokChar
	tokString
	tokIdent
	tokDef
	tokFn
	tokIf
	tokThen
	tokElse
	tokTrue
	tokFalse
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokEquals
	tokFatArrow
	tokSemi
	tokComma
	tokPipe
	tokLess
	tokPlus
	tokMinus
	tokStar
)

var keywords = map[string]tokKind{
	"def":   tokDef,
	"fn":    tokFn,
	"if":    tokIf,
	"then":  tokThen,
	"else":  tokElse,
	"true":  tokTrue,
	"false": tokFalse,
}

type token struct {
	kind tokKind
	at   ast.Pos
	text string // raw source text (identifiers, unescaped literal bodies)
}

// lexer turns source text into tokens one at a time. Grounded on
// original_source/src/main.rs's Lexer (a with_ws_stx()-style streaming
// tokenizer the parser pulls from), reduced to exactly the token set
// internal/parser's grammar needs.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) next() (token, error) {
	l.skipTrivia()
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, at: ast.Pos(start)}, nil
	}

	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, at: ast.Pos(start)}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, at: ast.Pos(start)}, nil
	case c == '{':
		l.pos++
		return token{kind: tokLBrace, at: ast.Pos(start)}, nil
	case c == '}':
		l.pos++
		return token{kind: tokRBrace, at: ast.Pos(start)}, nil
	case c == ';':
		l.pos++
		return token{kind: tokSemi, at: ast.Pos(start)}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, at: ast.Pos(start)}, nil
	case c == '|':
		l.pos++
		return token{kind: tokPipe, at: ast.Pos(start)}, nil
	case c == '<':
		l.pos++
		return token{kind: tokLess, at: ast.Pos(start)}, nil
	case c == '+':
		l.pos++
		return token{kind: tokPlus, at: ast.Pos(start)}, nil
	case c == '-':
		l.pos++
		return token{kind: tokMinus, at: ast.Pos(start)}, nil
	case c == '*':
		l.pos++
		return token{kind: tokStar, at: ast.Pos(start)}, nil
	case c == '=':
		l.pos++
		if l.peekByte() == '>' {
			l.pos++
			return token{kind: tokFatArrow, at: ast.Pos(start)}, nil
		}
		return token{kind: tokEquals, at: ast.Pos(start)}, nil
	case c == '\'':
		return l.lexChar(start)
	case c == '"':
		return l.lexString(start)
	case isDigit(c):
		return l.lexNumber(start)
	case isIdentStart(c):
		return l.lexIdent(start)
	default:
		return token{}, fmt.Errorf("parser: unexpected byte %q at offset %d", c, start)
	}
}

func (l *lexer) skipTrivia() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func (l *lexer) lexIdent(start int) (token, error) {
	for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
		l.pos++
	}
	text := l.src[start:l.pos]
	if kw, ok := keywords[text]; ok {
		return token{kind: kw, at: ast.Pos(start), text: text}, nil
	}
	return token{kind: tokIdent, at: ast.Pos(start), text: text}, nil
}

func (l *lexer) lexNumber(start int) (token, error) {
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	isFloat := false
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && isDigit(l.src[l.pos+1]) {
		isFloat = true
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := l.src[start:l.pos]
	if isFloat {
		return token{kind: tokFloat, at: ast.Pos(start), text: text}, nil
	}
	return token{kind: tokInt, at: ast.Pos(start), text: text}, nil
}

func (l *lexer) lexChar(start int) (token, error) {
	l.pos++ // opening '
	if l.pos >= len(l.src) {
		return token{}, fmt.Errorf("parser: unterminated char literal at offset %d", start)
	}
	var r rune
	if l.src[l.pos] == '\\' {
		l.pos++
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("parser: unterminated char literal at offset %d", start)
		}
		esc, err := unescapeByte(l.src[l.pos])
		if err != nil {
			return token{}, err
		}
		r = esc
		l.pos++
	} else {
		r = rune(l.src[l.pos])
		l.pos++
	}
	if l.pos >= len(l.src) || l.src[l.pos] != '\'' {
		return token{}, fmt.Errorf("parser: char literal must be one byte, at offset %d", start)
	}
	l.pos++
	return token{kind: tokChar, at: ast.Pos(start), text: string(r)}, nil
}

func (l *lexer) lexString(start int) (token, error) {
	l.pos++ // opening "
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("parser: unterminated string literal at offset %d", start)
		}
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			return token{kind: tokString, at: ast.Pos(start), text: sb.String()}, nil
		}
		if c == '\\' {
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, fmt.Errorf("parser: unterminated string literal at offset %d", start)
			}
			esc, err := unescapeByte(l.src[l.pos])
			if err != nil {
				return token{}, err
			}
			sb.WriteRune(esc)
			l.pos++
			continue
		}
		sb.WriteByte(c)
		l.pos++
	}
}

func unescapeByte(c byte) (rune, error) {
	switch c {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '\\':
		return '\\', nil
	case '\'':
		return '\'', nil
	case '"':
		return '"', nil
	default:
		return 0, fmt.Errorf("parser: unknown escape \\%c", c)
	}
}

func parseIntLiteral(text string) (int64, error) {
	return strconv.ParseInt(text, 10, 64)
}

func parseFloatLiteral(text string) (float64, error) {
	return strconv.ParseFloat(text, 64)
}
