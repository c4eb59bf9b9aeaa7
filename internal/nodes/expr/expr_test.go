package expr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEval(t *testing.T, src string, env map[string]any) any {
	t.Helper()
	e, err := Parse(src)
	require.NoError(t, err)
	v, err := e.Eval(env)
	require.NoError(t, err)
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	assert.Equal(t, float64(14), mustEval(t, "2 + 3 * 4", nil))
	assert.Equal(t, float64(20), mustEval(t, "(2 + 3) * 4", nil))
	assert.Equal(t, 2.5, mustEval(t, "10 / 4", nil))
	assert.Equal(t, float64(1), mustEval(t, "7 % 3", nil))
	assert.Equal(t, float64(-5), mustEval(t, "-5", nil))
	assert.Equal(t, float64(1), mustEval(t, "3 - 2", nil))
}

func TestComparisons(t *testing.T) {
	assert.Equal(t, true, mustEval(t, "3 > 2", nil))
	assert.Equal(t, false, mustEval(t, "2 > 3", nil))
	assert.Equal(t, true, mustEval(t, "2 >= 2", nil))
	assert.Equal(t, true, mustEval(t, "2 <= 3", nil))
	assert.Equal(t, true, mustEval(t, "'apple' < 'banana'", nil))
	assert.Equal(t, true, mustEval(t, "b.y > 4", map[string]any{
		"b": map[string]any{"y": float64(6)},
	}))
}

func TestEquality(t *testing.T) {
	assert.Equal(t, true, mustEval(t, "1 === 1", nil))
	assert.Equal(t, true, mustEval(t, "1 == 1", nil))
	assert.Equal(t, false, mustEval(t, "1 === 2", nil))
	assert.Equal(t, true, mustEval(t, "1 !== 2", nil))
	assert.Equal(t, true, mustEval(t, "1 != 2", nil))
	assert.Equal(t, true, mustEval(t, `"a" === "a"`, nil))
	assert.Equal(t, false, mustEval(t, `"1" === 1`, nil))
	assert.Equal(t, false, mustEval(t, "1 === true", nil))
	assert.Equal(t, true, mustEval(t, "null === null", nil))
	assert.Equal(t, false, mustEval(t, "null === 0", nil))
	assert.Equal(t, true, mustEval(t, "missing === null", map[string]any{}))
}

func TestBooleanOperators(t *testing.T) {
	assert.Equal(t, true, mustEval(t, "true && true", nil))
	assert.Equal(t, false, mustEval(t, "true && false", nil))
	assert.Equal(t, true, mustEval(t, "false || true", nil))
	assert.Equal(t, false, mustEval(t, "!1", nil))
	assert.Equal(t, true, mustEval(t, "!''", nil))

	// Non-boolean operands are reduced to booleans.
	assert.Equal(t, true, mustEval(t, "1 && 'x'", nil))
	assert.Equal(t, false, mustEval(t, "0 || ''", nil))
}

func TestShortCircuit(t *testing.T) {
	// The right side would divide by zero if evaluated.
	assert.Equal(t, false, mustEval(t, "false && 1 / 0 > 0", nil))
	assert.Equal(t, true, mustEval(t, "true || 1 / 0 > 0", nil))
}

func TestMemberAccess(t *testing.T) {
	env := map[string]any{
		"inputs": map[string]any{
			"a": map[string]any{
				"data": map[string]any{"n": float64(3)},
			},
		},
		"items": []any{"zero", "one", "two"},
	}
	assert.Equal(t, float64(3), mustEval(t, "inputs.a.data.n", env))
	assert.Equal(t, float64(6), mustEval(t, "inputs.a.data.n * 2", env))
	assert.Equal(t, "one", mustEval(t, "items[1]", env))
	assert.Equal(t, float64(3), mustEval(t, "inputs['a'].data.n", env))

	// Missing links along the path collapse to nil instead of failing.
	assert.Nil(t, mustEval(t, "inputs.zzz", env))
	assert.Nil(t, mustEval(t, "inputs.zzz.deep.deeper", env))
	assert.Nil(t, mustEval(t, "items[99]", env))
	assert.Nil(t, mustEval(t, "items[0 - 1]", env))
	assert.Nil(t, mustEval(t, "nothing.at.all", map[string]any{}))
}

func TestStringConcat(t *testing.T) {
	assert.Equal(t, "a1", mustEval(t, "'a' + 1", nil))
	assert.Equal(t, "1a", mustEval(t, "1 + 'a'", nil))
	assert.Equal(t, "ab", mustEval(t, "'a' + 'b'", nil))
	assert.Equal(t, "v=", mustEval(t, "'v=' + missing", map[string]any{}))
}

func TestDivisionByZero(t *testing.T) {
	e, err := Parse("1 / 0")
	require.NoError(t, err)
	_, err = e.Eval(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")

	e, err = Parse("1 % 0")
	require.NoError(t, err)
	_, err = e.Eval(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modulo by zero")
}

func TestTypeErrors(t *testing.T) {
	cases := []string{
		"null > 1",
		"null + 1",
		"-'abc'",
	}
	for _, src := range cases {
		e, err := Parse(src)
		require.NoError(t, err, src)
		_, err = e.Eval(nil)
		assert.Error(t, err, src)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"1 +",
		"(1 + 2",
		"a.",
		"a[1",
		"1 2",
		"'unterminated",
		"@",
		"a & b",
	}
	for _, src := range cases {
		_, err := Parse(src)
		assert.Error(t, err, src)
	}
}

func TestParseLimits(t *testing.T) {
	_, err := Parse(strings.Repeat(" ", maxSourceLen+1))
	require.Error(t, err)

	deep := strings.Repeat("(", maxDepth+1) + "1" + strings.Repeat(")", maxDepth+1)
	_, err = Parse(deep)
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(""))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy(float64(1)))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(map[string]any{}))
	assert.True(t, Truthy([]any{}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "3.5", Stringify(3.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "hi", Stringify("hi"))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": float64(1)}))
	assert.Equal(t, `[1,2]`, Stringify([]any{float64(1), float64(2)}))
}
