// Package api implements the REST and webhook handlers of the reflux
// frontend. Handlers are thin: they validate input, call the stores or
// services, and render the JSON envelope. The only routing logic of
// any depth is the dynamic webhook matcher.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/runtime"
	"github.com/refluxhq/reflux/internal/service/retention"
)

// Limits on list endpoints.
const (
	maxRunsLimit     = 1000
	defaultRunsLimit = 100
	maxLogsLimit     = 10_000
	defaultLogsLimit = 1000
	maxFlowsLimit    = 1000
	defaultFlows     = 100
	maxAuditsLimit   = 100
)

// API carries the handler dependencies.
type API struct {
	store      persistence.Stores
	engine     *runtime.Engine
	dispatcher bus.Bus
	retention  *retention.Service
	webhooks   *WebhookRouter
	registry   *prometheus.Registry
}

// Option configures the API.
type Option func(*API)

// WithMetricsRegistry exposes the registry at /api/metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(a *API) { a.registry = reg }
}

// WithWebhookCacheSize overrides the parsed-spec cache size.
func WithWebhookCacheSize(n int) Option {
	return func(a *API) { a.webhooks = NewWebhookRouter(a.store, WithCacheSize(n)) }
}

// New builds the API over the stores, engine and services.
func New(store persistence.Stores, engine *runtime.Engine, dispatcher bus.Bus, retentionSvc *retention.Service, opts ...Option) *API {
	a := &API{
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		retention:  retentionSvc,
	}
	a.webhooks = NewWebhookRouter(store)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ConfigureRoutes registers every route on the router.
func (a *API) ConfigureRoutes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.HandleFunc("/webhook/*", a.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		if a.registry != nil {
			r.Method("GET", "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		}

		r.Route("/flows", func(r chi.Router) {
			r.Post("/", a.handleCreateFlow)
			r.Get("/", a.handleListFlows)
			r.Route("/{flowID}", func(r chi.Router) {
				r.Get("/", a.handleGetFlow)
				r.Put("/", a.handleUpdateFlow)
				r.Delete("/", a.handleDeleteFlow)
				r.Get("/stats", a.handleFlowStats)
				r.Post("/execute", a.handleExecuteFlow)
				r.Route("/versions", func(r chi.Router) {
					r.Get("/", a.handleListFlowVersions)
					r.Get("/compare", a.handleCompareFlowVersions)
					r.Get("/{versionID}", a.handleGetFlowVersion)
					r.Post("/{versionID}/rollback", a.handleRollbackFlow)
				})
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", a.handleListRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", a.handleGetRun)
				r.Get("/logs", a.handleRunLogs)
				r.Get("/with-logs", a.handleRunWithLogs)
				r.Post("/cancel", a.handleCancelRun)
				r.Get("/artifacts", a.handleRunArtifacts)
			})
		})

		r.Get("/nodes", a.handleListNodes)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/system", a.handleSystem)
			r.Route("/retention", func(r chi.Router) {
				r.Get("/policy", a.handleRetentionPolicy)
				r.Get("/preview", a.handleRetentionPreview)
				r.Get("/history", a.handleRetentionHistory)
				r.Get("/latest", a.handleRetentionLatest)
				r.Get("/stats", a.handleRetentionStats)
				r.Post("/cleanup", a.handleRetentionCleanup)
			})
		})
	})
}
