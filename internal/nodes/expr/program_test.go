package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramSingleAssignment(t *testing.T) {
	prog, err := ParseProgram("outputs.y = inputs.a.data.n * 2")
	require.NoError(t, err)

	out, err := prog.Run(map[string]any{
		"inputs": map[string]any{
			"a": map[string]any{
				"data": map[string]any{"n": float64(3)},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": float64(6)}, out)
}

func TestProgramMultipleStatements(t *testing.T) {
	src := "outputs.total = inputs.price * inputs.qty\noutputs.label = 'sum=' + outputs.total; outputs.ok = outputs.total > 10"
	prog, err := ParseProgram(src)
	require.NoError(t, err)

	out, err := prog.Run(map[string]any{
		"inputs": map[string]any{"price": float64(3), "qty": float64(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(12), out["total"])
	assert.Equal(t, "sum=12", out["label"])
	assert.Equal(t, true, out["ok"])
}

func TestProgramNestedTarget(t *testing.T) {
	prog, err := ParseProgram("outputs.user.name = 'ada'\noutputs.user.id = 7\noutputs['kebab-case'] = true")
	require.NoError(t, err)

	out, err := prog.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "id": float64(7)}, out["user"])
	assert.Equal(t, true, out["kebab-case"])
}

func TestProgramSkipsBlankLines(t *testing.T) {
	prog, err := ParseProgram("\n\noutputs.a = 1\n\n;\noutputs.b = 2\n")
	require.NoError(t, err)

	out, err := prog.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["a"])
	assert.Equal(t, float64(2), out["b"])
}

func TestProgramSeparatorInsideString(t *testing.T) {
	prog, err := ParseProgram(`outputs.a = 'x;y'`)
	require.NoError(t, err)

	out, err := prog.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, "x;y", out["a"])
}

func TestProgramRejectsBadTargets(t *testing.T) {
	cases := []string{
		"",
		"   \n  ",
		"y = 1",
		"outputs = 1",
		"inputs.a = 1",
		"outputs.a",
		"outputs[0] = 1",
	}
	for _, src := range cases {
		_, err := ParseProgram(src)
		assert.Error(t, err, "%q", src)
	}
}

func TestProgramEnvNotModified(t *testing.T) {
	env := map[string]any{"inputs": map[string]any{"n": float64(1)}}
	prog, err := ParseProgram("outputs.n = inputs.n + 1")
	require.NoError(t, err)

	_, err = prog.Run(env)
	require.NoError(t, err)
	assert.NotContains(t, env, "outputs")
}
