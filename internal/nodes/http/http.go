// Package http implements the nodes.http.request handler.
package http

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"
)

type requestConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Query   map[string]string `mapstructure:"query"`
	Body    any               `mapstructure:"body"`
	Timeout int               `mapstructure:"timeout"`
}

// Definition returns the nodes.http.request handler.
func Definition() *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.http.request",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "url", Type: "string", Required: true, Description: "Request URL"},
			{Name: "method", Type: "string", Default: "GET", Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}},
			{Name: "headers", Type: "object", Description: "Request headers"},
			{Name: "query", Type: "object", Description: "Query string parameters"},
			{Name: "body", Type: "any", Description: "Request body; objects are sent as JSON"},
			{Name: "timeout", Type: "number", Description: "Per-request timeout in seconds"},
		},
		Handler: execute,
	}
}

func execute(ctx context.Context, params map[string]any, _ bus.Meta) (any, error) {
	var cfg requestConfig
	if err := decodeConfig(params, &cfg); err != nil {
		return nil, core.Validationf("invalid http.request params: %v", err)
	}
	if cfg.URL == "" {
		return nil, core.Validationf("http.request requires url")
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = nethttp.MethodGet
	}

	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(time.Duration(cfg.Timeout) * time.Second)
	}
	req := client.R().SetContext(ctx)
	if len(cfg.Headers) > 0 {
		req = req.SetHeaders(cfg.Headers)
	}
	if len(cfg.Query) > 0 {
		req = req.SetQueryParams(cfg.Query)
	}
	if cfg.Body != nil {
		req = req.SetBody(cfg.Body)
		if _, ok := cfg.Body.(string); !ok && !hasContentType(cfg.Headers) {
			req = req.SetHeader("Content-Type", "application/json")
		}
	}

	resp, err := req.Execute(method, cfg.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.Timeoutf("request to %s timed out", cfg.URL)
		}
		return nil, core.Executionf("request to %s failed: %v", cfg.URL, err)
	}

	if resp.StatusCode() >= 400 {
		return nil, core.Executionf("request to %s returned status %d", cfg.URL, resp.StatusCode())
	}
	return map[string]any{
		"status":  resp.StatusCode(),
		"headers": flattenHeaders(resp.Header()),
		"data":    decodeBody(resp.Body()),
	}, nil
}

// decodeBody returns parsed JSON when the body is valid JSON, the raw
// string otherwise.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

// flattenHeaders keeps the first value per header, which is what
// downstream expressions index into.
func flattenHeaders(h nethttp.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	return out
}

func hasContentType(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return true
		}
	}
	return false
}

func decodeConfig(dat map[string]any, cfg *requestConfig) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return md.Decode(dat)
}
