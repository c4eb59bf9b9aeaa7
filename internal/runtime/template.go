package runtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/refluxhq/reflux/internal/core"
)

// Template grammar: {{<prefix>.<dotted-path>}} where prefix is one of
// inputs, input, nodes, steps. Node paths address outputs only
// (nodes.<id>.output.<path>); each path segment may carry one bracket
// index (items[0].name). A string that is exactly one template keeps
// the resolved value's type; templates embedded in surrounding text
// stringify, with nil rendering as the empty string. Unresolved paths
// yield nil and never fail the resolution.

// templateContext is the read-only view a level resolves against. It
// is built once per level from the execution context accumulated so
// far, so siblings resolve against the same snapshot.
type templateContext struct {
	root map[string]any
}

func newTemplateContext(ec *core.ExecutionContext) *templateContext {
	inputs := make(map[string]any, len(ec.Inputs))
	for k, v := range ec.Inputs {
		inputs[k] = v
	}
	nodes := make(map[string]any, len(ec.Nodes))
	for id, state := range ec.Nodes {
		nodes[id] = map[string]any{"output": state.Output}
	}
	return &templateContext{root: map[string]any{
		"inputs": inputs,
		"input":  inputs,
		"nodes":  nodes,
		"steps":  nodes,
	}}
}

// resolveParams walks a node's params depth-first and resolves every
// string through the template grammar. The input tree is never
// mutated; runs sharing a spec each resolve their own copy.
func resolveParams(params map[string]any, tc *templateContext) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, tc)
	}
	return out
}

func resolveValue(v any, tc *templateContext) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, tc)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, tc)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, tc)
		}
		return out
	default:
		return v
	}
}

// resolveString applies the two-mode template rules: a full-string
// template preserves the value's type, inline templates concatenate
// their stringified values into the surrounding text.
func resolveString(s string, tc *templateContext) any {
	if !strings.Contains(s, "{{") {
		return s
	}
	if isFullTemplate(s) {
		return tc.lookup(strings.TrimSpace(s[2 : len(s)-2]))
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		expr := strings.TrimSpace(rest[start+2 : start+end])
		b.WriteString(stringify(tc.lookup(expr)))
		rest = rest[start+end+2:]
	}
	return b.String()
}

// isFullTemplate reports whether the string is exactly one template,
// i.e. the first closing braces are also the last characters.
func isFullTemplate(s string) bool {
	return strings.HasPrefix(s, "{{") && strings.Index(s, "}}") == len(s)-2
}

// lookup resolves a dotted path against the context root. Any miss
// (unknown prefix, absent key, index out of range, indexing a
// non-array) resolves to nil.
func (tc *templateContext) lookup(expr string) any {
	segments, ok := parsePath(expr)
	if !ok {
		return nil
	}
	var current any = tc.root
	for _, seg := range segments {
		obj, isMap := current.(map[string]any)
		if !isMap {
			return nil
		}
		current = obj[seg.name]
		if seg.hasIndex {
			arr, isArr := current.([]any)
			if !isArr || seg.index < 0 || seg.index >= len(arr) {
				return nil
			}
			current = arr[seg.index]
		}
	}
	return current
}

type pathSegment struct {
	name     string
	index    int
	hasIndex bool
}

// parsePath splits a dotted path into segments, each with at most one
// bracket index. A malformed path is reported as not-ok so the caller
// resolves it to nil rather than failing.
func parsePath(expr string) ([]pathSegment, bool) {
	if expr == "" {
		return nil, false
	}
	parts := strings.Split(expr, ".")
	segments := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, false
		}
		open := strings.Index(part, "[")
		if open < 0 {
			segments = append(segments, pathSegment{name: part})
			continue
		}
		if !strings.HasSuffix(part, "]") || open == 0 {
			return nil, false
		}
		idx, err := strconv.Atoi(part[open+1 : len(part)-1])
		if err != nil {
			return nil, false
		}
		segments = append(segments, pathSegment{name: part[:open], index: idx, hasIndex: true})
	}
	return segments, true
}

// stringify renders a resolved value for inline concatenation. nil
// renders empty; composites render as JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}
