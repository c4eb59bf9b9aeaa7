package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

const (
	// maxWebhookPayloadSize is the maximum accepted webhook body size (1MB)
	maxWebhookPayloadSize = 1 * 1024 * 1024

	defaultWebhookCacheSize = 256
	webhookCacheTTL         = 10 * time.Minute
)

// WebhookMatch is the flow and trigger node that accepted a request.
type WebhookMatch struct {
	Flow    *core.Flow
	Trigger core.WebhookTrigger
}

// WebhookRouter matches incoming requests against the webhook trigger
// nodes of active flows. Parsed specs are cached in an expiring LRU
// keyed by the flow row's updated_at, so a flow update naturally
// invalidates its entry.
type WebhookRouter struct {
	flows persistence.FlowStore
	specs *expirable.LRU[string, *core.FlowSpec]
}

// WebhookRouterOption configures the router.
type WebhookRouterOption func(*webhookRouterOptions)

type webhookRouterOptions struct {
	cacheSize int
}

// WithCacheSize overrides the parsed-spec cache capacity.
func WithCacheSize(n int) WebhookRouterOption {
	return func(o *webhookRouterOptions) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// NewWebhookRouter builds a router over the flow store.
func NewWebhookRouter(flows persistence.FlowStore, opts ...WebhookRouterOption) *WebhookRouter {
	o := &webhookRouterOptions{cacheSize: defaultWebhookCacheSize}
	for _, opt := range opts {
		opt(o)
	}
	return &WebhookRouter{
		flows: flows,
		specs: expirable.NewLRU[string, *core.FlowSpec](o.cacheSize, nil, webhookCacheTTL),
	}
}

// Match scans the active flows for a webhook trigger accepting the
// given method and path. The first match in listing order wins. A
// flow whose spec fails to parse is skipped with a warning rather
// than failing the whole lookup.
func (wr *WebhookRouter) Match(ctx context.Context, method, path string) (*WebhookMatch, error) {
	flows, err := wr.flows.ListActiveFlows(ctx)
	if err != nil {
		return nil, err
	}

	for _, flow := range flows {
		spec := wr.spec(ctx, flow)
		if spec == nil {
			continue
		}
		for _, trigger := range spec.WebhookTriggers() {
			if trigger.Matches(method, path) {
				return &WebhookMatch{Flow: flow, Trigger: trigger}, nil
			}
		}
	}
	return nil, core.NotFoundf("no webhook registered for %s %s", method, path)
}

// spec returns the parsed spec of a flow, consulting the cache first.
func (wr *WebhookRouter) spec(ctx context.Context, flow *core.Flow) *core.FlowSpec {
	key := flow.ID + "@" + strconv.FormatInt(flow.UpdatedAt.UnixNano(), 10)
	if cached, ok := wr.specs.Get(key); ok {
		return cached
	}
	spec, err := core.ParseSpec(flow.Spec)
	if err != nil {
		logger.Warn(ctx, "Skipping flow with unparsable spec",
			tag.FlowID(flow.ID), tag.Error(err))
		return nil
	}
	wr.specs.Add(key, spec)
	return spec
}

// handleWebhook resolves a dynamic webhook path to a flow and starts a
// run with the request materialized as workflow inputs. The caller gets
// 202 with the run id; execution proceeds in the background.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	match, err := a.webhooks.Match(r.Context(), r.Method, path)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body, err := readWebhookBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	inputs := map[string]any{
		"method":  r.Method,
		"path":    path,
		"headers": flattenValues(r.Header),
		"query":   flattenValues(r.URL.Query()),
		"body":    body,
		"params":  map[string]any{},
	}

	run, err := a.startRun(r, match.Flow, inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info(r.Context(), "Webhook accepted",
		tag.Method(r.Method), tag.Path(path),
		tag.Flow(match.Flow.Name), tag.RunID(run.ID))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  run.ID,
		"flow_id": match.Flow.ID,
		"status":  run.Status,
	})
}

// readWebhookBody reads a capped request body. JSON bodies are decoded
// so templates can address their fields; anything else passes through
// as a string.
func readWebhookBody(w http.ResponseWriter, r *http.Request) (any, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookPayloadSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, core.Validationf("webhook payload exceeds %d bytes", maxErr.Limit)
		}
		return nil, core.Validationf("failed to read webhook payload: %v", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw), nil
	}
	return decoded, nil
}

// flattenValues folds a multi-value map (headers, query) into single
// values the template resolver can address. Repeated values are joined
// with a comma; keys are lowercased.
func flattenValues[M ~map[string][]string](values M) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
