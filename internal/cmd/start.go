package cmd

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
)

func Start() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "start [flags]",
			Short: "Start the workflow API server and execution engine",
			Long: `Launch the Reflux server process.

The server exposes the flow and run management API, executes submitted
runs on the configured bus transport, and runs the retention scheduler
when retention is enabled.

Flags:
  --host string    Host address to bind the server to (default: 127.0.0.1)
  --port string    Port number to listen on (default: 8080)

Example:
  reflux start --host=0.0.0.0 --port=8080

This process runs continuously in the foreground until terminated.
`,
		}, startFlags, runStart,
	)
}

var startFlags = []commandLineFlag{hostFlag, portFlag}

func runStart(ctx *Context, _ []string) error {
	// Override config with command line flags if explicitly provided
	if ctx.Command.Flags().Changed("host") {
		if host, _ := ctx.Command.Flags().GetString("host"); host != "" {
			ctx.Config.Server.Host = host
		}
	}
	if ctx.Command.Flags().Changed("port") {
		if portStr, _ := ctx.Command.Flags().GetString("port"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", portStr, err)
			}
			ctx.Config.Server.Port = port
		}
	}

	transporter := "local"
	if !ctx.Config.Bus.IsLocal() {
		transporter = "redis"
	}
	logger.Info(ctx, "Server initialization",
		tag.Host(ctx.Config.Server.Host),
		tag.Port(ctx.Config.Server.Port),
		tag.Backend(transporter))

	server, err := ctx.NewServer()
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	// Create a context that will be cancelled on interrupt signal
	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serviceCtx := &Context{
		Context: signalCtx,
		Command: ctx.Command,
		Flags:   ctx.Flags,
		Config:  ctx.Config,
		Quiet:   ctx.Quiet,
	}

	if err := server.Start(serviceCtx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
