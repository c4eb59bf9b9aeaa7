package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"
)

func evaluate(t *testing.T, cond string, meta bus.Meta) bool {
	t.Helper()
	out, err := execute(context.Background(), map[string]any{"condition": cond}, meta)
	require.NoError(t, err)
	return out.(map[string]any)["result"].(bool)
}

func TestConditionOverNodeOutputs(t *testing.T) {
	meta := bus.Meta{
		Nodes: map[string]core.NodeState{
			"b": {Output: map[string]any{"y": float64(6)}},
		},
	}
	assert.True(t, evaluate(t, "b.y > 4", meta))
	assert.False(t, evaluate(t, "b.y > 10", meta))
	assert.True(t, evaluate(t, "b.y === 6 && b.y !== 7", meta))
}

func TestConditionOverRunInputs(t *testing.T) {
	meta := bus.Meta{Inputs: map[string]any{"mode": "fast"}}
	assert.True(t, evaluate(t, "inputs.mode === 'fast'", meta))
	assert.False(t, evaluate(t, "inputs.mode === 'slow'", meta))
}

func TestConditionTruthiness(t *testing.T) {
	meta := bus.Meta{
		Nodes: map[string]core.NodeState{
			"a": {Output: map[string]any{"name": ""}},
		},
	}
	assert.False(t, evaluate(t, "a.name", meta))
	assert.True(t, evaluate(t, "!a.name", meta))
	assert.False(t, evaluate(t, "a.missing", meta))
}

func TestConditionRequiresExpression(t *testing.T) {
	_, err := execute(context.Background(), map[string]any{}, bus.Meta{})
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
}

func TestConditionParseError(t *testing.T) {
	_, err := execute(context.Background(), map[string]any{"condition": "b.y >"}, bus.Meta{})
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
}
