package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/core"
)

func TestLocalDispatch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&HandlerDef{
		Name: "nodes.echo",
		Handler: func(_ context.Context, params map[string]any, meta Meta) (any, error) {
			return map[string]any{"params": params, "run": meta.RunID, "step": meta.StepID}, nil
		},
	}))

	local := NewLocal(reg)
	out, err := local.Dispatch(context.Background(), "nodes.echo", "1.0.0",
		map[string]any{"x": 1}, Meta{RunID: "r1", StepID: "n1"})
	require.NoError(t, err)

	result, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "r1", result["run"])
	assert.Equal(t, "n1", result["step"])
}

func TestLocalDispatchCarriesMetaUnchanged(t *testing.T) {
	reg := NewRegistry()
	var got Meta
	require.NoError(t, reg.Register(&HandlerDef{
		Name: "nodes.capture",
		Handler: func(_ context.Context, _ map[string]any, meta Meta) (any, error) {
			got = meta
			return nil, nil
		},
	}))

	meta := Meta{
		RunID:  "r1",
		StepID: "b",
		Inputs: map[string]any{"q": "hi"},
		Nodes: map[string]core.NodeState{
			"a": {Output: map[string]any{"n": float64(3)}},
		},
	}
	_, err := NewLocal(reg).Dispatch(context.Background(), "nodes.capture", "", nil, meta)
	require.NoError(t, err)
	assert.Equal(t, meta.Inputs, got.Inputs)
	assert.Equal(t, meta.Nodes["a"].Output, got.Nodes["a"].Output)
}

func TestLocalDispatchNotFound(t *testing.T) {
	local := NewLocal(NewRegistry())
	_, err := local.Dispatch(context.Background(), "nodes.ghost", "1.0.0", nil, Meta{})
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeNotFound, core.Classify(err))
}

func TestLocalDispatchTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&HandlerDef{
		Name: "nodes.slow",
		Handler: func(ctx context.Context, _ map[string]any, _ Meta) (any, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	local := NewLocal(reg, WithRequestTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := local.Dispatch(context.Background(), "nodes.slow", "", nil, Meta{})
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeTimeout, core.Classify(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocalDispatchRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&HandlerDef{
		Name: "nodes.panicky",
		Handler: func(_ context.Context, _ map[string]any, _ Meta) (any, error) {
			panic("boom")
		},
	}))

	_, err := NewLocal(reg).Dispatch(context.Background(), "nodes.panicky", "", nil, Meta{})
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeExecution, core.Classify(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestLocalDispatchHonoursCallerCancel(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&HandlerDef{
		Name: "nodes.block",
		Handler: func(ctx context.Context, _ map[string]any, _ Meta) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewLocal(reg).Dispatch(ctx, "nodes.block", "", nil, Meta{})
	require.Error(t, err)
}
