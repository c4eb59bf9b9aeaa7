package expr

import (
	"strings"

	"github.com/refluxhq/reflux/internal/core"
)

// Program is a parsed transform body: assignments of the form
// "outputs.<path> = <expression>", separated by newlines or
// semicolons. Statements run in order and later statements can read
// earlier results through the "outputs" name.
type Program struct {
	stmts []assignStmt
	src   string
}

type assignStmt struct {
	path []string
	expr node
}

// ParseProgram compiles a transform body.
func ParseProgram(src string) (*Program, error) {
	if len(src) > maxSourceLen {
		return nil, core.Validationf("transform exceeds %d bytes", maxSourceLen)
	}
	prog := &Program{src: src}
	for _, chunk := range splitStatements(src) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		st, err := parseAssign(chunk)
		if err != nil {
			return nil, err
		}
		prog.stmts = append(prog.stmts, st)
	}
	if len(prog.stmts) == 0 {
		return nil, core.Validationf("transform has no statements")
	}
	return prog, nil
}

// Run evaluates every statement against env and returns the assembled
// outputs object. env is not modified.
func (p *Program) Run(env map[string]any) (map[string]any, error) {
	out := map[string]any{}
	scope := make(map[string]any, len(env)+1)
	for k, v := range env {
		scope[k] = v
	}
	scope["outputs"] = out
	for _, st := range p.stmts {
		v, err := st.expr.eval(scope)
		if err != nil {
			return nil, err
		}
		assign(out, st.path, v)
	}
	return out, nil
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// splitStatements cuts the source on newlines and semicolons that sit
// outside string literals.
func splitStatements(src string) []string {
	var (
		parts []string
		start int
		quote byte
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '\n', ';':
			parts = append(parts, src[start:i])
			start = i + 1
		}
	}
	return append(parts, src[start:])
}

// parseAssign parses one "outputs.<path> = <expr>" statement.
func parseAssign(src string) (assignStmt, error) {
	p, err := newParser(src)
	if err != nil {
		return assignStmt{}, err
	}
	if p.tok.kind != tIdent || p.tok.text != "outputs" {
		return assignStmt{}, core.Validationf("assignment target must start with outputs, got %q", p.tok.text)
	}
	if err := p.advance(); err != nil {
		return assignStmt{}, err
	}
	var path []string
	for p.tok.kind == tDot || p.tok.kind == tLBracket {
		if p.tok.kind == tDot {
			if err := p.advance(); err != nil {
				return assignStmt{}, err
			}
			if p.tok.kind != tIdent {
				return assignStmt{}, core.Validationf("expected property name at %d", p.tok.pos)
			}
			path = append(path, p.tok.text)
			if err := p.advance(); err != nil {
				return assignStmt{}, err
			}
			continue
		}
		if err := p.advance(); err != nil {
			return assignStmt{}, err
		}
		if p.tok.kind != tString {
			return assignStmt{}, core.Validationf("assignment index must be a string literal at %d", p.tok.pos)
		}
		path = append(path, p.tok.text)
		if err := p.advance(); err != nil {
			return assignStmt{}, err
		}
		if err := p.expect(tRBracket, "]"); err != nil {
			return assignStmt{}, err
		}
	}
	if len(path) == 0 {
		return assignStmt{}, core.Validationf("assignment target must name a field under outputs")
	}
	if err := p.expect(tAssign, "="); err != nil {
		return assignStmt{}, err
	}
	expr, err := p.parse()
	if err != nil {
		return assignStmt{}, err
	}
	return assignStmt{path: path, expr: expr}, nil
}

// assign writes v into out at path, creating intermediate objects. A
// non-object in the way is replaced.
func assign(out map[string]any, path []string, v any) {
	cur := out
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}
