// Package webhook implements the nodes.webhook.trigger handler. The
// router has already matched the request and placed it in the run
// inputs; the handler passes the payload through so downstream nodes
// can address it like any other node output.
package webhook

import (
	"context"
	"time"

	"github.com/refluxhq/reflux/internal/bus"
)

// Definition returns the nodes.webhook.trigger handler.
func Definition() *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.webhook.trigger",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "path", Type: "string", Required: true, Description: "Webhook path to match"},
			{Name: "method", Type: "string", Description: "HTTP method to match; POST or empty matches any", Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
		},
		Handler: execute,
	}
}

func execute(_ context.Context, _ map[string]any, meta bus.Meta) (any, error) {
	out := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for _, key := range []string{"method", "path", "headers", "query", "body", "params"} {
		if v, ok := meta.Inputs[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}
