package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/service/retention"
)

func TestRenderCleanupReport(t *testing.T) {
	t.Parallel()

	result := &retention.CleanupResult{
		TriggeredBy: core.CleanupManual,
		DurationMS:  120,
		Preview: retention.CleanupPreview{
			CategoryCounts: retention.CategoryCounts{
				Runs:      retention.RunCounts{Successful: 5, Failed: 2},
				Logs:      retention.LogCounts{Debug: 100},
				Artifacts: 3,
			},
		},
		Deleted: retention.CategoryCounts{
			Runs:      retention.RunCounts{Successful: 5, Failed: 2},
			Logs:      retention.LogCounts{Debug: 100},
			Artifacts: 3,
		},
	}

	report := renderCleanupReport(result)
	assert.Contains(t, report, "Runs (successful)")
	assert.Contains(t, report, "Logs (debug)")
	assert.Contains(t, report, "100")
	assert.Contains(t, report, "Deleted 110 row(s)")
	assert.NotContains(t, report, "Dry run")
}

func TestRenderCleanupReportDryRun(t *testing.T) {
	t.Parallel()

	result := &retention.CleanupResult{
		DryRun:      true,
		TriggeredBy: core.CleanupManual,
		Preview: retention.CleanupPreview{
			CategoryCounts: retention.CategoryCounts{
				Metrics: 42,
			},
		},
	}

	report := renderCleanupReport(result)
	assert.Contains(t, report, "Dry run: 42 row(s)")
}

func TestRenderCleanupReportSurfacesBlobErrors(t *testing.T) {
	t.Parallel()

	result := &retention.CleanupResult{
		TriggeredBy: core.CleanupScheduled,
		BlobErrors:  4,
		Errors:      []string{"runs: connection reset"},
	}

	report := renderCleanupReport(result)
	assert.Contains(t, report, "4 artifact blob(s) could not be removed")
	assert.Contains(t, report, "runs: connection reset")
}
