package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/nodes"
)

func Worker() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "worker [flags]",
			Short: "Start a node worker serving the builtin handlers",
			Long: `Launch a worker process that consumes node dispatches from the redis
bus transport and executes the builtin node handlers.

The worker publishes its handler addresses to the shared registry on
startup and withdraws them on shutdown. It requires TRANSPORTER to
point at a redis broker; the in-process transport has no separate
worker.

Example:
  TRANSPORTER=redis://localhost:6379 reflux worker

This process runs continuously in the foreground until terminated.
`,
		}, nil, runWorker,
	)
}

func runWorker(ctx *Context, _ []string) error {
	cfg := ctx.Config
	if cfg.Bus.IsLocal() {
		return fmt.Errorf("worker requires a redis bus transporter, got %q", cfg.Bus.Transporter)
	}

	registry := bus.NewRegistry()
	if err := nodes.RegisterBuiltin(registry, nodes.Deps{Config: cfg}); err != nil {
		return fmt.Errorf("failed to register builtin nodes: %w", err)
	}

	worker, err := bus.NewWorker(cfg.Bus.Transporter, registry,
		bus.WithWorkerPoolSize(cfg.Bus.WorkerPoolSize),
		bus.WithWorkerTimeout(cfg.Bus.RequestTimeout))
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	// Create a context that will be cancelled on interrupt signal
	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(signalCtx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	// Wait for context cancellation
	<-signalCtx.Done()
	logger.Info(ctx, "Worker shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	worker.Stop(stopCtx)

	return nil
}
