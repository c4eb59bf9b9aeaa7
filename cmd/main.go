package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/refluxhq/reflux/internal/build"
	"github.com/refluxhq/reflux/internal/cmd"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Reflux is a durable workflow automation engine",
	Long: `Reflux executes versioned node graphs.

Flows are stored as JSON specs, runs walk the graph in dependency
order with node dispatch over an in-process or redis-backed bus, and
every run keeps a queryable log and metric trail.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Start())
	rootCmd.AddCommand(cmd.Worker())
	rootCmd.AddCommand(cmd.Cleanup())
	rootCmd.AddCommand(cmd.Import())
	rootCmd.AddCommand(cmd.Version())
}
