package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/refluxhq/reflux/internal/build"
	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/cmn/telemetry"
	"github.com/refluxhq/reflux/internal/nodes"
	"github.com/refluxhq/reflux/internal/persistence/postgres"
	"github.com/refluxhq/reflux/internal/runlog"
	"github.com/refluxhq/reflux/internal/runtime"
	"github.com/refluxhq/reflux/internal/service/frontend"
	"github.com/refluxhq/reflux/internal/service/frontend/api"
	"github.com/refluxhq/reflux/internal/service/retention"
	"github.com/refluxhq/reflux/internal/storage"
)

// shutdownGrace bounds how long draining in-flight runs and flushing
// buffers may take once the serve loop has returned.
const shutdownGrace = 30 * time.Second

// Server bundles the HTTP surface with the background services it
// depends on. Start blocks until the context is cancelled and then
// releases everything in dependency order.
type Server struct {
	store     *postgres.Store
	transport *bus.Redis
	tracer    *telemetry.Tracer
	runLogger *runlog.Logger
	recorder  *runtime.Recorder
	engine    *runtime.Engine
	scheduler *retention.Scheduler
	frontend  *frontend.Server
}

// NewServer wires the full service stack from the loaded configuration.
func (c *Context) NewServer() (*Server, error) {
	cfg := c.Config

	store, err := c.OpenStore()
	if err != nil {
		return nil, err
	}

	blobs, err := storage.New(cfg.Artifacts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	registry := bus.NewRegistry()
	if err := nodes.RegisterBuiltin(registry, nodes.Deps{Config: cfg}); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register builtin nodes: %w", err)
	}

	dispatcher, transport, err := newDispatcher(cfg.Bus, registry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tracer, err := telemetry.NewTracer(c, cfg.Telemetry, build.Slug)
	if err != nil {
		if transport != nil {
			_ = transport.Close()
		}
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := runtime.NewMetrics(promRegistry)
	runLogger := runlog.New(store)
	recorder := runtime.NewRecorder(store)

	engine := runtime.NewEngine(store, dispatcher,
		runtime.WithRunLog(runLogger),
		runtime.WithRecorder(recorder),
		runtime.WithMetrics(metrics),
		runtime.WithTracer(tracer),
	)

	retentionSvc, err := newRetentionService(store, blobs, cfg)
	if err != nil {
		if transport != nil {
			_ = transport.Close()
		}
		_ = store.Close()
		return nil, err
	}

	var scheduler *retention.Scheduler
	if cfg.Retention.Enabled {
		scheduler = retention.NewScheduler(retentionSvc, cfg.Retention.Schedule)
	}

	handlers := api.New(store, engine, dispatcher, retentionSvc,
		api.WithMetricsRegistry(promRegistry))

	return &Server{
		store:     store,
		transport: transport,
		tracer:    tracer,
		runLogger: runLogger,
		recorder:  recorder,
		engine:    engine,
		scheduler: scheduler,
		frontend:  frontend.New(cfg, handlers),
	}, nil
}

// Start runs the background services and the HTTP server until ctx is
// cancelled, then shuts down in reverse dependency order.
func (s *Server) Start(ctx *Context) error {
	s.runLogger.Start(ctx)
	s.recorder.Start(ctx)

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start retention scheduler: %w", err)
		}
	}

	serveErr := s.frontend.Serve(ctx)

	// The serve loop has returned; give in-flight work a bounded
	// window to finish before closing the stores underneath it.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	if err := s.engine.Drain(shutdownCtx); err != nil {
		logger.Warn(ctx, "Engine drain incomplete", tag.Error(err))
	}
	if err := s.runLogger.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Run log flush incomplete", tag.Error(err))
	}
	s.recorder.Shutdown(shutdownCtx)
	if s.scheduler != nil {
		s.scheduler.Stop(shutdownCtx)
	}
	if err := s.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Tracer shutdown failed", tag.Error(err))
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			logger.Warn(ctx, "Bus transport close failed", tag.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		logger.Warn(ctx, "Database close failed", tag.Error(err))
	}

	return serveErr
}

// newDispatcher selects the bus transport from configuration. The
// returned Redis handle is nil for the in-process transport.
func newDispatcher(cfg config.Bus, registry *bus.Registry) (bus.Bus, *bus.Redis, error) {
	if cfg.IsLocal() {
		return bus.NewLocal(registry, bus.WithRequestTimeout(cfg.RequestTimeout)), nil, nil
	}
	transport, err := bus.NewRedis(cfg.Transporter, bus.WithRedisRequestTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect bus transport: %w", err)
	}
	return transport, transport, nil
}

// newRetentionService validates the configured policy and builds the
// cleanup service around it.
func newRetentionService(store *postgres.Store, blobs storage.Storage, cfg *config.Config) (*retention.Service, error) {
	policy := retention.FromConfig(cfg.Retention)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retention policy: %w", err)
	}
	return retention.NewService(store, store, blobs, policy,
		retention.WithBatchSize(cfg.Retention.BatchSize)), nil
}
