// Package expr implements the expression language of the condition and
// transform nodes: literals, property paths with bracket indexes,
// comparison, boolean, and arithmetic operators. It is a closed grammar
// evaluated over decoded JSON values; there are no calls, loops, or
// bindings, so evaluation cost is bounded by expression size and no
// sandbox is needed.
package expr

import (
	"encoding/json"
	"strconv"

	"github.com/refluxhq/reflux/internal/core"
)

// Limits keeping hostile inputs cheap to reject.
const (
	maxSourceLen = 16 * 1024
	maxDepth     = 64
)

// Expr is a parsed expression ready for evaluation.
type Expr struct {
	root node
	src  string
}

// Parse compiles an expression.
func Parse(src string) (*Expr, error) {
	if len(src) > maxSourceLen {
		return nil, core.Validationf("expression exceeds %d bytes", maxSourceLen)
	}
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Expr{root: root, src: src}, nil
}

// Eval evaluates the expression against an environment of JSON values.
// Unknown names resolve to nil rather than failing.
func (e *Expr) Eval(env map[string]any) (any, error) {
	return e.root.eval(env)
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Truthy follows script semantics: false, 0, "", and nil are falsy,
// everything else including empty arrays and objects is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toNumber(v); ok {
		return f != 0
	}
	return true
}

// Stringify renders a value for concatenation. Nil renders empty,
// numbers drop a trailing ".0", and composites render as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}
