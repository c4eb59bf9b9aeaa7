// Package condition implements the nodes.condition.execute handler: a
// single boolean expression over upstream node outputs.
package condition

import (
	"context"

	"github.com/go-viper/mapstructure/v2"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/nodes/expr"
)

type conditionConfig struct {
	Condition string `mapstructure:"condition"`
}

// Definition returns the nodes.condition.execute handler.
func Definition() *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.condition.execute",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "condition", Type: "string", Required: true, Description: "Boolean expression over node outputs and inputs"},
		},
		Handler: execute,
	}
}

func execute(_ context.Context, params map[string]any, meta bus.Meta) (any, error) {
	var cfg conditionConfig
	if err := decodeConfig(params, &cfg); err != nil {
		return nil, core.Validationf("invalid condition.execute params: %v", err)
	}
	if cfg.Condition == "" {
		return nil, core.Validationf("condition.execute requires condition")
	}

	e, err := expr.Parse(cfg.Condition)
	if err != nil {
		return nil, err
	}
	v, err := e.Eval(environment(meta))
	if err != nil {
		return nil, core.Executionf("condition failed: %v", err)
	}
	return map[string]any{"result": expr.Truthy(v)}, nil
}

// environment exposes node outputs by id at the top level plus the run
// inputs under "inputs".
func environment(meta bus.Meta) map[string]any {
	env := make(map[string]any, len(meta.Nodes)+1)
	for id, state := range meta.Nodes {
		env[id] = state.Output
	}
	env["inputs"] = meta.Inputs
	return env
}

func decodeConfig(dat map[string]any, cfg *conditionConfig) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return md.Decode(dat)
}
