package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/service/retention"
	"github.com/refluxhq/reflux/internal/storage"
)

// Cleanup creates and returns a cobra command for a one-shot retention run.
func Cleanup() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "cleanup [flags]",
			Short: "Remove runs, logs, and artifacts past their retention windows",
			Long: `Run one retention cleanup against the configured database.

The cleanup applies the configured retention policy: terminal runs, run
logs, artifacts, superseded flow versions, and metrics older than their
windows are deleted in batches. Artifact rows are removed together with
their blobs. Active flows and non-terminal runs are never touched.

Only one cleanup runs at a time; if the scheduler or another process
holds the cleanup lock the command reports it and exits cleanly.

Examples:
  reflux cleanup            # Delete everything past its window
  reflux cleanup --dry-run  # Preview what would be deleted
`,
		},
		cleanupFlags,
		runCleanup,
	)
}

var cleanupFlags = []commandLineFlag{dryRunFlag}

func runCleanup(ctx *Context, _ []string) error {
	dryRun, err := ctx.BoolParam("dry-run")
	if err != nil {
		return err
	}

	store, err := ctx.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	blobs, err := storage.New(ctx.Config.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	svc, err := newRetentionService(store, blobs, ctx.Config)
	if err != nil {
		return err
	}

	result, err := svc.Cleanup(ctx, retention.CleanupRequest{
		DryRun:      dryRun,
		TriggeredBy: core.CleanupManual,
	})
	if errors.Is(err, core.ErrCleanupInProgress) {
		fmt.Println(color.New(color.FgYellow).Sprint("Another cleanup is already running; try again later."))
		return nil
	}
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Println(renderCleanupReport(result))
	return nil
}

var cleanupHeader = table.Row{"Category", "Matched", "Deleted"}

func renderCleanupReport(result *retention.CleanupResult) string {
	reportTable := table.NewWriter()
	reportTable.AppendHeader(cleanupHeader)

	rows := []struct {
		name    string
		matched int64
		deleted int64
	}{
		{"Runs (successful)", result.Preview.Runs.Successful, result.Deleted.Runs.Successful},
		{"Runs (failed)", result.Preview.Runs.Failed, result.Deleted.Runs.Failed},
		{"Runs (cancelled)", result.Preview.Runs.Cancelled, result.Deleted.Runs.Cancelled},
		{"Logs (debug)", result.Preview.Logs.Debug, result.Deleted.Logs.Debug},
		{"Logs (info)", result.Preview.Logs.Info, result.Deleted.Logs.Info},
		{"Logs (warn)", result.Preview.Logs.Warn, result.Deleted.Logs.Warn},
		{"Logs (error)", result.Preview.Logs.Error, result.Deleted.Logs.Error},
		{"Artifacts", result.Preview.Artifacts, result.Deleted.Artifacts},
		{"Flow versions", result.Preview.FlowVersions, result.Deleted.FlowVersions},
		{"Metrics", result.Preview.Metrics, result.Deleted.Metrics},
	}
	for _, row := range rows {
		reportTable.AppendRow(table.Row{row.name, row.matched, row.deleted})
	}

	report := reportTable.Render() + "\n" + cleanupStatusLine(result)
	if result.BlobErrors > 0 {
		report += "\n" + color.New(color.FgYellow).Sprintf("%d artifact blob(s) could not be removed", result.BlobErrors)
	}
	for _, e := range result.Errors {
		report += "\n" + color.New(color.FgYellow).Sprint(e)
	}
	return report
}

func cleanupStatusLine(result *retention.CleanupResult) string {
	elapsed := time.Duration(result.DurationMS) * time.Millisecond
	if result.DryRun {
		return color.New(color.Faint).Sprintf("Dry run: %d row(s) match the retention policy (%s)",
			result.Preview.Total(), elapsed)
	}
	return color.New(color.FgHiGreen).Sprintf("Deleted %d row(s) in %s", result.Deleted.Total(), elapsed)
}
