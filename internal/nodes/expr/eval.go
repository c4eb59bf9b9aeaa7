package expr

import (
	"math"
	"reflect"
	"strings"

	"github.com/refluxhq/reflux/internal/core"
)

// node is an evaluable fragment of a parsed expression.
type node interface {
	eval(env map[string]any) (any, error)
}

type litNode struct {
	value any
}

func (n *litNode) eval(map[string]any) (any, error) { return n.value, nil }

// identNode resolves a top-level name from the environment. Unknown
// names evaluate to nil rather than failing.
type identNode struct {
	name string
}

func (n *identNode) eval(env map[string]any) (any, error) {
	return env[n.name], nil
}

// memberNode is dot access. Access on nil or on a non-object yields
// nil.
type memberNode struct {
	object node
	name   string
}

func (n *memberNode) eval(env map[string]any) (any, error) {
	obj, err := n.object.eval(env)
	if err != nil {
		return nil, err
	}
	return member(obj, n.name), nil
}

type indexNode struct {
	object node
	index  node
}

func (n *indexNode) eval(env map[string]any) (any, error) {
	obj, err := n.object.eval(env)
	if err != nil {
		return nil, err
	}
	idx, err := n.index.eval(env)
	if err != nil {
		return nil, err
	}
	if s, ok := idx.(string); ok {
		return member(obj, s), nil
	}
	f, ok := toNumber(idx)
	if !ok {
		return nil, nil
	}
	arr, ok := obj.([]any)
	if !ok {
		return nil, nil
	}
	i := int(f)
	if i < 0 || i >= len(arr) {
		return nil, nil
	}
	return arr[i], nil
}

type unaryNode struct {
	op      tokenKind
	operand node
}

func (n *unaryNode) eval(env map[string]any) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tNot:
		return !Truthy(v), nil
	case tMinus:
		f, ok := toNumber(v)
		if !ok {
			return nil, core.Validationf("cannot negate %s", typeName(v))
		}
		return -f, nil
	}
	return nil, core.Validationf("unknown unary operator")
}

type binaryNode struct {
	op    tokenKind
	left  node
	right node
}

func (n *binaryNode) eval(env map[string]any) (any, error) {
	// && and || short-circuit and always produce booleans.
	switch n.op {
	case tAnd:
		lv, err := n.left.eval(env)
		if err != nil {
			return nil, err
		}
		if !Truthy(lv) {
			return false, nil
		}
		rv, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(rv), nil
	case tOr:
		lv, err := n.left.eval(env)
		if err != nil {
			return nil, err
		}
		if Truthy(lv) {
			return true, nil
		}
		rv, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(rv), nil
	}

	lv, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tEq:
		return equal(lv, rv), nil
	case tNotEq:
		return !equal(lv, rv), nil
	case tGT, tLT, tGTE, tLTE:
		return compare(n.op, lv, rv)
	case tPlus:
		return add(lv, rv)
	case tMinus, tStar, tSlash, tPercent:
		return arith(n.op, lv, rv)
	}
	return nil, core.Validationf("unknown binary operator")
}

// member looks a key up in any map-shaped value. NodeState and other
// structs coming off the engine are passed through the JSON round trip
// before evaluation, so only map[string]any needs handling here.
func member(obj any, name string) any {
	switch m := obj.(type) {
	case map[string]any:
		return m[name]
	case nil:
		return nil
	}
	// Maps with non-string-typed keys out of decoders.
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		v := rv.MapIndex(reflect.ValueOf(name))
		if v.IsValid() {
			return v.Interface()
		}
	}
	return nil
}

// toNumber coerces numeric-looking values to float64. JSON decoding
// hands the engine float64 exclusively, but handlers written in Go may
// return native ints.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func equal(a, b any) bool {
	if af, ok := toNumber(a); ok {
		if bf, bok := toNumber(b); bok {
			// bool compares equal only to bool.
			_, aBool := a.(bool)
			_, bBool := b.(bool)
			if aBool != bBool {
				return false
			}
			return af == bf
		}
		return false
	}
	if as, ok := a.(string); ok {
		bs, bok := b.(string)
		return bok && as == bs
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

func compare(op tokenKind, a, b any) (any, error) {
	if as, ok := a.(string); ok {
		if bs, bok := b.(string); bok {
			c := strings.Compare(as, bs)
			return orderResult(op, c), nil
		}
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if !aok || !bok {
		return nil, core.Validationf("cannot compare %s with %s", typeName(a), typeName(b))
	}
	switch {
	case af < bf:
		return orderResult(op, -1), nil
	case af > bf:
		return orderResult(op, 1), nil
	}
	return orderResult(op, 0), nil
}

func orderResult(op tokenKind, c int) bool {
	switch op {
	case tGT:
		return c > 0
	case tLT:
		return c < 0
	case tGTE:
		return c >= 0
	case tLTE:
		return c <= 0
	}
	return false
}

// add concatenates when either side is a string, otherwise adds
// numerically.
func add(a, b any) (any, error) {
	if _, ok := a.(string); ok {
		return Stringify(a) + Stringify(b), nil
	}
	if _, ok := b.(string); ok {
		return Stringify(a) + Stringify(b), nil
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if !aok || !bok {
		return nil, core.Validationf("cannot add %s and %s", typeName(a), typeName(b))
	}
	return af + bf, nil
}

func arith(op tokenKind, a, b any) (any, error) {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if !aok || !bok {
		return nil, core.Validationf("arithmetic on %s and %s", typeName(a), typeName(b))
	}
	switch op {
	case tMinus:
		return af - bf, nil
	case tStar:
		return af * bf, nil
	case tSlash:
		if bf == 0 {
			return nil, core.Executionf("division by zero")
		}
		return af / bf, nil
	case tPercent:
		if bf == 0 {
			return nil, core.Executionf("modulo by zero")
		}
		return math.Mod(af, bf), nil
	}
	return nil, core.Validationf("unknown arithmetic operator")
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).String()
}
