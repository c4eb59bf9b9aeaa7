// Package persistence defines the store interfaces the rest of reflux
// programs against. The postgres subpackage provides the production
// implementation; tests substitute in-memory fakes.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/refluxhq/reflux/internal/core"
)

// FlowStore manages flow definitions and their version history.
type FlowStore interface {
	// CreateFlow inserts a new flow. A duplicate (name, version) pair
	// returns core.ErrFlowExists.
	CreateFlow(ctx context.Context, flow *core.Flow) error
	// GetFlow returns the flow with the given id, or core.ErrFlowNotFound.
	GetFlow(ctx context.Context, id string) (*core.Flow, error)
	// ListFlows returns flows matching the given filters, newest first.
	ListFlows(ctx context.Context, opts ...ListFlowsOption) ([]*core.Flow, error)
	// ListActiveFlows returns every flow with is_active set. The webhook
	// router scans these for trigger nodes.
	ListActiveFlows(ctx context.Context) ([]*core.Flow, error)
	// UpdateFlow applies a partial update. When the update carries a new
	// spec the prior state is snapshotted into a FlowVersion in the same
	// transaction before the row is overwritten.
	UpdateFlow(ctx context.Context, id string, upd FlowUpdate) (*core.Flow, error)
	// DeleteFlow removes a flow and cascades to its versions and runs.
	DeleteFlow(ctx context.Context, id string) error
	// ListFlowVersions returns the version history of a flow, newest first.
	ListFlowVersions(ctx context.Context, flowID string) ([]*core.FlowVersion, error)
	// GetFlowVersion returns one version row of a flow.
	GetFlowVersion(ctx context.Context, flowID, versionID string) (*core.FlowVersion, error)
	// RollbackFlow restores the flow to the state captured by versionID.
	// Two version rows are written in the same transaction: one
	// snapshotting the pre-rollback state, one documenting the restore.
	RollbackFlow(ctx context.Context, flowID, versionID string) (*core.Flow, error)
}

// FlowUpdate is a partial update of a flow row. Nil fields are left
// untouched.
type FlowUpdate struct {
	Name        *string
	Version     *string
	Description *string
	Spec        json.RawMessage
	Tags        []string
	IsActive    *bool
	UpdatedBy   string
	Changelog   string
}

// ListFlowsOptions carries the filters for ListFlows.
type ListFlowsOptions struct {
	Name   string
	Tag    string
	Active *bool
	Limit  int
	Offset int
}

// ListFlowsOption configures ListFlowsOptions.
type ListFlowsOption func(*ListFlowsOptions)

// WithFlowName filters by exact flow name.
func WithFlowName(name string) ListFlowsOption {
	return func(o *ListFlowsOptions) { o.Name = name }
}

// WithFlowTag filters flows carrying the given tag.
func WithFlowTag(tag string) ListFlowsOption {
	return func(o *ListFlowsOptions) { o.Tag = tag }
}

// WithFlowActive filters by the is_active field.
func WithFlowActive(active bool) ListFlowsOption {
	return func(o *ListFlowsOptions) { o.Active = &active }
}

// WithFlowLimit bounds the result size.
func WithFlowLimit(limit int) ListFlowsOption {
	return func(o *ListFlowsOptions) { o.Limit = limit }
}

// WithFlowOffset skips the first offset rows.
func WithFlowOffset(offset int) ListFlowsOption {
	return func(o *ListFlowsOptions) { o.Offset = offset }
}

// RunStore manages run rows and their guarded status transitions.
type RunStore interface {
	// CreateRun inserts a run in its initial status.
	CreateRun(ctx context.Context, run *core.Run) error
	// GetRun returns the run with the given id, or core.ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*core.Run, error)
	// ListRuns returns runs matching the given filters, newest first.
	ListRuns(ctx context.Context, opts ...ListRunsOption) ([]*core.Run, error)
	// MarkRunning transitions a pending run to running and records the
	// engine handles. Returns false if the run was not pending.
	MarkRunning(ctx context.Context, id, engineWorkflowID, engineRunID string) (bool, error)
	// MarkCompleted writes the completed terminal state. The transition
	// is idempotent: a run already completed is left untouched and false
	// is returned. duration_ms is computed by the store from started_at.
	MarkCompleted(ctx context.Context, id string, outputs json.RawMessage) (bool, error)
	// MarkFailed writes the failed terminal state. Runs already completed
	// or failed are left untouched and false is returned.
	MarkFailed(ctx context.Context, id string, errMsg string) (bool, error)
	// MarkCancelled cancels a pending or running run. Terminal runs are
	// left untouched and false is returned.
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// ListRunsOptions carries the filters for ListRuns.
type ListRunsOptions struct {
	FlowID string
	Status core.Status
	Limit  int
	Offset int
}

// ListRunsOption configures ListRunsOptions.
type ListRunsOption func(*ListRunsOptions)

// WithRunFlowID filters runs of one flow.
func WithRunFlowID(flowID string) ListRunsOption {
	return func(o *ListRunsOptions) { o.FlowID = flowID }
}

// WithRunStatus filters by run status.
func WithRunStatus(status core.Status) ListRunsOption {
	return func(o *ListRunsOptions) { o.Status = status }
}

// WithRunLimit bounds the result size.
func WithRunLimit(limit int) ListRunsOption {
	return func(o *ListRunsOptions) { o.Limit = limit }
}

// WithRunOffset skips the first offset rows.
func WithRunOffset(offset int) ListRunsOption {
	return func(o *ListRunsOptions) { o.Offset = offset }
}

// RunLogStore persists run log entries.
type RunLogStore interface {
	// InsertLogBatch appends a batch of log entries. The batch either
	// fully succeeds or fully fails; the run logger retries or drops it.
	InsertLogBatch(ctx context.Context, entries []core.RunLog) error
	// ListRunLogs returns the log entries of a run in timestamp order.
	ListRunLogs(ctx context.Context, runID string, opts ...LogQueryOption) ([]*core.RunLog, error)
}

// LogQueryOptions carries the filters for ListRunLogs.
type LogQueryOptions struct {
	Level core.LogLevel
	Limit int
}

// LogQueryOption configures LogQueryOptions.
type LogQueryOption func(*LogQueryOptions)

// WithLogLevel filters entries of one severity.
func WithLogLevel(level core.LogLevel) LogQueryOption {
	return func(o *LogQueryOptions) { o.Level = level }
}

// WithLogLimit bounds the result size.
func WithLogLimit(limit int) LogQueryOption {
	return func(o *LogQueryOptions) { o.Limit = limit }
}

// ArtifactStore manages artifact metadata rows. Blobs live in the
// storage backend; only the index row is kept here.
type ArtifactStore interface {
	// CreateArtifact inserts an artifact metadata row.
	CreateArtifact(ctx context.Context, artifact *core.Artifact) error
	// GetArtifact returns one artifact row by id.
	GetArtifact(ctx context.Context, id string) (*core.Artifact, error)
	// ListRunArtifacts returns the artifacts recorded for a run.
	ListRunArtifacts(ctx context.Context, runID string) ([]*core.Artifact, error)
	// DeleteArtifact removes one artifact row.
	DeleteArtifact(ctx context.Context, id string) error
}

// MetricStore persists execution metric rows and serves analytics.
type MetricStore interface {
	// InsertMetrics appends metric rows in one batch.
	InsertMetrics(ctx context.Context, rows []core.Metric) error
	// FlowStats aggregates workflow-execution metrics of a flow over the
	// trailing window.
	FlowStats(ctx context.Context, flowID string, windowDays int) (*core.FlowStats, error)
}

// AuditStore persists cleanup audit rows.
type AuditStore interface {
	// InsertCleanupAudit writes the record of one retention run.
	InsertCleanupAudit(ctx context.Context, audit *core.CleanupAudit) error
	// ListCleanupAudits returns recent audits, newest first.
	ListCleanupAudits(ctx context.Context, limit int) ([]*core.CleanupAudit, error)
	// LatestCleanupAudit returns the most recent audit row, or nil when
	// no cleanup has run yet.
	LatestCleanupAudit(ctx context.Context) (*core.CleanupAudit, error)
}

// TableStats describes one table for the retention stats endpoint.
type TableStats struct {
	Table    string     `json:"table"`
	Rows     int64      `json:"rows"`
	OldestAt *time.Time `json:"oldest_at,omitempty"`
}

// RetentionStore exposes the counting and batched-delete primitives the
// retention service runs on. Deletes are bounded by batchSize per call;
// the service loops until a call reports no work left.
type RetentionStore interface {
	// CountExpiredRuns counts terminal runs of one status completed
	// before the cutoff.
	CountExpiredRuns(ctx context.Context, status core.Status, cutoff time.Time) (int64, error)
	// DeleteExpiredRuns deletes up to batchSize expired runs and returns
	// the number removed. Logs, artifacts, and metrics cascade.
	DeleteExpiredRuns(ctx context.Context, status core.Status, cutoff time.Time, batchSize int) (int64, error)

	// CountExpiredLogs counts log entries of one level older than the cutoff.
	CountExpiredLogs(ctx context.Context, level core.LogLevel, cutoff time.Time) (int64, error)
	// DeleteExpiredLogs deletes up to batchSize expired log entries.
	DeleteExpiredLogs(ctx context.Context, level core.LogLevel, cutoff time.Time, batchSize int) (int64, error)

	// CountExpiredArtifacts counts artifacts past their expiry. Rows with
	// expires_at use it; the rest fall back to created_at against cutoff.
	CountExpiredArtifacts(ctx context.Context, cutoff time.Time) (int64, error)
	// ListExpiredArtifacts returns up to batchSize expired artifact rows
	// so the service can delete their blobs first.
	ListExpiredArtifacts(ctx context.Context, cutoff time.Time, batchSize int) ([]*core.Artifact, error)
	// DeleteArtifactRows removes the given artifact rows by id.
	DeleteArtifactRows(ctx context.Context, ids []string) (int64, error)

	// CountPrunableFlowVersions counts version rows ranked beyond
	// keepRecent per flow and older than the cutoff.
	CountPrunableFlowVersions(ctx context.Context, keepRecent int, cutoff time.Time) (int64, error)
	// DeletePrunableFlowVersions deletes up to batchSize prunable
	// version rows.
	DeletePrunableFlowVersions(ctx context.Context, keepRecent int, cutoff time.Time, batchSize int) (int64, error)

	// CountExpiredMetrics counts metric rows older than the cutoff.
	CountExpiredMetrics(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteExpiredMetrics deletes up to batchSize expired metric rows.
	DeleteExpiredMetrics(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

	// RetentionTableStats reports per-table row counts and oldest rows
	// for the admin stats endpoint.
	RetentionTableStats(ctx context.Context) ([]TableStats, error)

	// AcquireCleanupLock takes the cross-instance cleanup advisory lock.
	// When another instance holds it, core.ErrCleanupInProgress is
	// returned. On success the release function must be called exactly
	// once, even when cleanup fails.
	AcquireCleanupLock(ctx context.Context) (release func(), err error)
}

// Stores bundles every store interface. The postgres implementation
// satisfies all of them with one handle.
type Stores interface {
	FlowStore
	RunStore
	RunLogStore
	ArtifactStore
	MetricStore
	AuditStore
	RetentionStore
}
