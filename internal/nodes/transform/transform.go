// Package transform implements the nodes.transform.execute handler.
// The code param is a program of "outputs.<path> = <expression>"
// statements; the jq param is an alternative gojq filter applied to the
// same input document.
package transform

import (
	"context"

	"github.com/go-viper/mapstructure/v2"
	"github.com/itchyny/gojq"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/nodes/expr"
)

type transformConfig struct {
	Code string `mapstructure:"code"`
	Jq   string `mapstructure:"jq"`
}

// Definition returns the nodes.transform.execute handler.
func Definition() *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.transform.execute",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "code", Type: "string", Description: "Assignments of the form outputs.<path> = <expression>"},
			{Name: "jq", Type: "string", Description: "gojq filter applied to the input document"},
		},
		Handler: execute,
	}
}

func execute(ctx context.Context, params map[string]any, meta bus.Meta) (any, error) {
	var cfg transformConfig
	if err := decodeConfig(params, &cfg); err != nil {
		return nil, core.Validationf("invalid transform.execute params: %v", err)
	}
	switch {
	case cfg.Code != "" && cfg.Jq != "":
		return nil, core.Validationf("transform.execute accepts code or jq, not both")
	case cfg.Code != "":
		return runProgram(cfg.Code, meta)
	case cfg.Jq != "":
		return runJq(ctx, cfg.Jq, meta)
	}
	return nil, core.Validationf("transform.execute requires code or jq")
}

func runProgram(code string, meta bus.Meta) (any, error) {
	prog, err := expr.ParseProgram(code)
	if err != nil {
		return nil, err
	}
	out, err := prog.Run(map[string]any{"inputs": inputDocument(meta)})
	if err != nil {
		return nil, core.Executionf("transform failed: %v", err)
	}
	return out, nil
}

func runJq(ctx context.Context, filter string, meta bus.Meta) (any, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, core.Validationf("invalid jq filter: %v", err)
	}
	iter := query.RunWithContext(ctx, inputDocument(meta))
	v, ok := iter.Next()
	if !ok {
		return map[string]any{}, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, core.Executionf("jq filter failed: %v", err)
	}
	if obj, isObj := v.(map[string]any); isObj {
		return obj, nil
	}
	return map[string]any{"result": v}, nil
}

// inputDocument overlays the run inputs with completed node outputs,
// keyed by node id. Node outputs win on key collision.
func inputDocument(meta bus.Meta) map[string]any {
	doc := make(map[string]any, len(meta.Inputs)+len(meta.Nodes))
	for k, v := range meta.Inputs {
		doc[k] = v
	}
	for id, state := range meta.Nodes {
		if state.Output != nil {
			doc[id] = state.Output
		}
	}
	return doc
}

func decodeConfig(dat map[string]any, cfg *transformConfig) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return md.Decode(dat)
}
