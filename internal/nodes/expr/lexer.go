package expr

import (
	"strings"

	"github.com/refluxhq/reflux/internal/core"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tNumber
	tString
	tLParen
	tRParen
	tLBracket
	tRBracket
	tDot
	tNot     // !
	tAnd     // &&
	tOr      // ||
	tEq      // === or ==
	tNotEq   // !== or !=
	tGT      // >
	tLT      // <
	tGTE     // >=
	tLTE     // <=
	tPlus    // +
	tMinus   // -
	tStar    // *
	tSlash   // /
	tPercent // %
	tAssign  // =
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

// next returns the following token. Assignment (single =) is produced
// only when not part of a comparison; the transform statement parser
// consumes it.
func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tRParen, text: ")", pos: start}, nil
	case '[':
		l.pos++
		return token{kind: tLBracket, text: "[", pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tRBracket, text: "]", pos: start}, nil
	case '.':
		l.pos++
		return token{kind: tDot, text: ".", pos: start}, nil
	case '+':
		l.pos++
		return token{kind: tPlus, text: "+", pos: start}, nil
	case '-':
		l.pos++
		return token{kind: tMinus, text: "-", pos: start}, nil
	case '*':
		l.pos++
		return token{kind: tStar, text: "*", pos: start}, nil
	case '/':
		l.pos++
		return token{kind: tSlash, text: "/", pos: start}, nil
	case '%':
		l.pos++
		return token{kind: tPercent, text: "%", pos: start}, nil
	case '&':
		if l.peekAt(1) == '&' {
			l.pos += 2
			return token{kind: tAnd, text: "&&", pos: start}, nil
		}
		return token{}, core.Validationf("unexpected character %q at %d", string(c), start)
	case '|':
		if l.peekAt(1) == '|' {
			l.pos += 2
			return token{kind: tOr, text: "||", pos: start}, nil
		}
		return token{}, core.Validationf("unexpected character %q at %d", string(c), start)
	case '=':
		if strings.HasPrefix(l.src[l.pos:], "===") {
			l.pos += 3
			return token{kind: tEq, text: "===", pos: start}, nil
		}
		if strings.HasPrefix(l.src[l.pos:], "==") {
			l.pos += 2
			return token{kind: tEq, text: "==", pos: start}, nil
		}
		l.pos++
		return token{kind: tAssign, text: "=", pos: start}, nil
	case '!':
		if strings.HasPrefix(l.src[l.pos:], "!==") {
			l.pos += 3
			return token{kind: tNotEq, text: "!==", pos: start}, nil
		}
		if strings.HasPrefix(l.src[l.pos:], "!=") {
			l.pos += 2
			return token{kind: tNotEq, text: "!=", pos: start}, nil
		}
		l.pos++
		return token{kind: tNot, text: "!", pos: start}, nil
	case '>':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return token{kind: tGTE, text: ">=", pos: start}, nil
		}
		l.pos++
		return token{kind: tGT, text: ">", pos: start}, nil
	case '<':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return token{kind: tLTE, text: "<=", pos: start}, nil
		}
		l.pos++
		return token{kind: tLT, text: "<", pos: start}, nil
	case '\'', '"':
		return l.scanString(c)
	}

	if isDigit(c) {
		return l.scanNumber()
	}
	if isIdentStart(c) {
		return l.scanIdent()
	}
	return token{}, core.Validationf("unexpected character %q at %d", string(c), start)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) scanString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tString, text: sb.String(), pos: start}, nil
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, core.Validationf("unterminated string at %d", start)
			}
			switch l.src[l.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '\'':
				sb.WriteByte('\'')
			case '"':
				sb.WriteByte('"')
			default:
				return token{}, core.Validationf("unknown escape \\%s at %d", string(l.src[l.pos]), l.pos)
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, core.Validationf("unterminated string at %d", start)
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	return token{kind: tNumber, text: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) scanIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return token{kind: tIdent, text: l.src[start:l.pos], pos: start}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
