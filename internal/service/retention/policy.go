// Package retention garbage-collects expired runs, logs, artifacts,
// flow versions and metric rows under a validated policy. Cleanup is
// batched, serialized across instances by an advisory lock, and leaves
// an audit row behind for every attempt.
package retention

import (
	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/core"
)

// Policy is the per-category retention policy. Ages are in days; the
// flow-version group keeps a count of recent versions per flow
// regardless of age.
type Policy struct {
	Runs         RunsPolicy         `json:"runs"`
	Logs         LogsPolicy         `json:"logs"`
	Artifacts    ArtifactsPolicy    `json:"artifacts"`
	FlowVersions FlowVersionsPolicy `json:"flowVersions"`
	Metrics      MetricsPolicy      `json:"metrics"`
}

// RunsPolicy keeps terminal runs for a status-dependent number of days.
type RunsPolicy struct {
	SuccessfulDays int `json:"successful"`
	FailedDays     int `json:"failed"`
	CancelledDays  int `json:"cancelled"`
}

// LogsPolicy bounds residual log age per level, for entries whose run
// outlives them.
type LogsPolicy struct {
	DebugDays int `json:"debug"`
	InfoDays  int `json:"info"`
	WarnDays  int `json:"warn"`
	ErrorDays int `json:"error"`
}

// ArtifactsPolicy is the fallback age for artifacts without an
// explicit expiry.
type ArtifactsPolicy struct {
	DefaultDays int `json:"default"`
}

// FlowVersionsPolicy prunes version history: a version is deletable
// only when ranked beyond KeepRecent for its flow and older than
// MinAgeDays.
type FlowVersionsPolicy struct {
	KeepRecent int `json:"keepRecent"`
	MinAgeDays int `json:"minAge"`
}

// MetricsPolicy bounds the age of raw metric rows.
type MetricsPolicy struct {
	RawDays int `json:"raw"`
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Runs:         RunsPolicy{SuccessfulDays: 30, FailedDays: 90, CancelledDays: 14},
		Logs:         LogsPolicy{DebugDays: 7, InfoDays: 30, WarnDays: 60, ErrorDays: 90},
		Artifacts:    ArtifactsPolicy{DefaultDays: 30},
		FlowVersions: FlowVersionsPolicy{KeepRecent: 10, MinAgeDays: 7},
		Metrics:      MetricsPolicy{RawDays: 30},
	}
}

// FromConfig builds a policy from the defaults with any positive
// config overrides applied. The result still needs Validate.
func FromConfig(cfg config.Retention) Policy {
	p := DefaultPolicy()
	override(&p.Runs.SuccessfulDays, cfg.RunsSuccessfulDays)
	override(&p.Runs.FailedDays, cfg.RunsFailedDays)
	override(&p.Runs.CancelledDays, cfg.RunsCancelledDays)
	override(&p.Logs.DebugDays, cfg.LogsDebugDays)
	override(&p.Logs.InfoDays, cfg.LogsInfoDays)
	override(&p.Logs.WarnDays, cfg.LogsWarnDays)
	override(&p.Logs.ErrorDays, cfg.LogsErrorDays)
	override(&p.Artifacts.DefaultDays, cfg.ArtifactsDays)
	override(&p.FlowVersions.KeepRecent, cfg.VersionsKeepRecent)
	override(&p.FlowVersions.MinAgeDays, cfg.VersionsMinAgeDays)
	override(&p.Metrics.RawDays, cfg.MetricsDays)
	return p
}

func override(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Validate rejects any field outside its documented bounds.
func (p Policy) Validate() error {
	checks := []struct {
		field    string
		value    int
		min, max int
	}{
		{"runs.successful", p.Runs.SuccessfulDays, 1, 3650},
		{"runs.failed", p.Runs.FailedDays, 1, 3650},
		{"runs.cancelled", p.Runs.CancelledDays, 1, 3650},
		{"logs.debug", p.Logs.DebugDays, 1, 365},
		{"logs.info", p.Logs.InfoDays, 1, 365},
		{"logs.warn", p.Logs.WarnDays, 1, 365},
		{"logs.error", p.Logs.ErrorDays, 1, 365},
		{"artifacts.default", p.Artifacts.DefaultDays, 1, 3650},
		{"flowVersions.keepRecent", p.FlowVersions.KeepRecent, 1, 100},
		{"flowVersions.minAge", p.FlowVersions.MinAgeDays, 1, 365},
		{"metrics.raw", p.Metrics.RawDays, 1, 3650},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return core.Validationf("retention policy %s must be between %d and %d, got %d",
				c.field, c.min, c.max, c.value)
		}
	}
	return nil
}
