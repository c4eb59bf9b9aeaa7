package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/storage"
)

// DefaultBatchSize bounds one delete statement. Every category loops
// in batches of this size so no transaction spans the full backlog.
const DefaultBatchSize = 1000

// Rough per-row byte estimates for the preview. The preview reports an
// order of magnitude, not an exact reclaim.
const (
	estRunBytes      = 2048
	estLogBytes      = 512
	estArtifactBytes = 64 * 1024
	estVersionBytes  = 4096
	estMetricBytes   = 256
)

// RunCounts holds per-status run counts.
type RunCounts struct {
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// LogCounts holds per-level log counts.
type LogCounts struct {
	Debug int64 `json:"debug"`
	Info  int64 `json:"info"`
	Warn  int64 `json:"warn"`
	Error int64 `json:"error"`
}

// CategoryCounts is one set of per-category counts, used for both the
// preview and the deleted tally.
type CategoryCounts struct {
	Runs         RunCounts `json:"runs"`
	Logs         LogCounts `json:"logs"`
	Artifacts    int64     `json:"artifacts"`
	FlowVersions int64     `json:"flowVersions"`
	Metrics      int64     `json:"metrics"`
}

// Total sums every category.
func (c CategoryCounts) Total() int64 {
	return c.Runs.Successful + c.Runs.Failed + c.Runs.Cancelled +
		c.Logs.Debug + c.Logs.Info + c.Logs.Warn + c.Logs.Error +
		c.Artifacts + c.FlowVersions + c.Metrics
}

// CleanupPreview is the read-only counting result.
type CleanupPreview struct {
	CategoryCounts
	EstimatedBytes int64 `json:"estimatedBytes"`
}

// CleanupRequest parameterizes one cleanup invocation.
type CleanupRequest struct {
	DryRun      bool
	TriggeredBy core.CleanupTrigger
}

// CleanupResult is the outcome of one cleanup run. Per-category errors
// are collected rather than aborting; a category that failed reports
// what it managed before the failure.
type CleanupResult struct {
	DryRun      bool                `json:"dryRun"`
	TriggeredBy core.CleanupTrigger `json:"triggeredBy"`
	StartedAt   time.Time           `json:"startedAt"`
	DurationMS  int64               `json:"durationMs"`
	Preview     CleanupPreview      `json:"preview"`
	Deleted     CategoryCounts      `json:"deleted"`
	BlobErrors  int64               `json:"blobErrors,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
}

// Service runs retention cleanups against the store and blob backend.
type Service struct {
	store     persistence.RetentionStore
	audits    persistence.AuditStore
	blobs     storage.Storage
	policy    Policy
	batchSize int
}

// Option configures the service.
type Option func(*Service)

// WithBatchSize overrides the per-statement delete bound.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService builds a retention service. The policy must already be
// validated.
func NewService(store persistence.RetentionStore, audits persistence.AuditStore, blobs storage.Storage, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:     store,
		audits:    audits,
		blobs:     blobs,
		policy:    policy,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

// Preview runs the read-only counting queries without taking the
// cleanup lock.
func (s *Service) Preview(ctx context.Context) (*CleanupPreview, error) {
	now := time.Now().UTC()
	preview := &CleanupPreview{}

	counts := []struct {
		dst   *int64
		est   int64
		count func() (int64, error)
	}{
		{&preview.Runs.Successful, estRunBytes, func() (int64, error) {
			return s.store.CountExpiredRuns(ctx, core.StatusCompleted, cutoff(now, s.policy.Runs.SuccessfulDays))
		}},
		{&preview.Runs.Failed, estRunBytes, func() (int64, error) {
			return s.store.CountExpiredRuns(ctx, core.StatusFailed, cutoff(now, s.policy.Runs.FailedDays))
		}},
		{&preview.Runs.Cancelled, estRunBytes, func() (int64, error) {
			return s.store.CountExpiredRuns(ctx, core.StatusCancelled, cutoff(now, s.policy.Runs.CancelledDays))
		}},
		{&preview.Logs.Debug, estLogBytes, func() (int64, error) {
			return s.store.CountExpiredLogs(ctx, core.LogDebug, cutoff(now, s.policy.Logs.DebugDays))
		}},
		{&preview.Logs.Info, estLogBytes, func() (int64, error) {
			return s.store.CountExpiredLogs(ctx, core.LogInfo, cutoff(now, s.policy.Logs.InfoDays))
		}},
		{&preview.Logs.Warn, estLogBytes, func() (int64, error) {
			return s.store.CountExpiredLogs(ctx, core.LogWarn, cutoff(now, s.policy.Logs.WarnDays))
		}},
		{&preview.Logs.Error, estLogBytes, func() (int64, error) {
			return s.store.CountExpiredLogs(ctx, core.LogError, cutoff(now, s.policy.Logs.ErrorDays))
		}},
		{&preview.Artifacts, estArtifactBytes, func() (int64, error) {
			return s.store.CountExpiredArtifacts(ctx, cutoff(now, s.policy.Artifacts.DefaultDays))
		}},
		{&preview.FlowVersions, estVersionBytes, func() (int64, error) {
			return s.store.CountPrunableFlowVersions(ctx, s.policy.FlowVersions.KeepRecent, cutoff(now, s.policy.FlowVersions.MinAgeDays))
		}},
		{&preview.Metrics, estMetricBytes, func() (int64, error) {
			return s.store.CountExpiredMetrics(ctx, cutoff(now, s.policy.Metrics.RawDays))
		}},
	}
	for _, c := range counts {
		n, err := c.count()
		if err != nil {
			return nil, err
		}
		*c.dst = n
		preview.EstimatedBytes += n * c.est
	}
	return preview, nil
}

// Cleanup performs one retention pass: lock, preview, delete (unless
// dry-run), audit, release. Lock contention returns
// core.ErrCleanupInProgress and writes no audit row. Category failures
// are collected into the result instead of aborting the pass.
func (s *Service) Cleanup(ctx context.Context, req CleanupRequest) (*CleanupResult, error) {
	release, err := s.store.AcquireCleanupLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if req.TriggeredBy == "" {
		req.TriggeredBy = core.CleanupManual
	}
	started := time.Now().UTC()
	res := &CleanupResult{
		DryRun:      req.DryRun,
		TriggeredBy: req.TriggeredBy,
		StartedAt:   started,
	}
	logger.Info(ctx, "Retention cleanup started",
		tag.TriggeredBy(string(req.TriggeredBy)), tag.DryRun(req.DryRun))

	preview, err := s.Preview(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("preview: %v", err))
	} else {
		res.Preview = *preview
	}

	if !req.DryRun && err == nil {
		s.deleteExpired(ctx, res)
	}

	res.DurationMS = time.Since(started).Milliseconds()
	s.writeAudit(ctx, res)

	logger.Info(ctx, "Retention cleanup finished",
		tag.TriggeredBy(string(req.TriggeredBy)), tag.DryRun(req.DryRun),
		tag.Deleted(res.Deleted.Total()), tag.Duration(time.Since(started)),
		tag.Count(len(res.Errors)))
	return res, nil
}

// deleteExpired walks every category in batches. An error in one
// category is recorded and the pass moves to the next category.
func (s *Service) deleteExpired(ctx context.Context, res *CleanupResult) {
	now := time.Now().UTC()

	runGroups := []struct {
		dst    *int64
		status core.Status
		days   int
	}{
		{&res.Deleted.Runs.Successful, core.StatusCompleted, s.policy.Runs.SuccessfulDays},
		{&res.Deleted.Runs.Failed, core.StatusFailed, s.policy.Runs.FailedDays},
		{&res.Deleted.Runs.Cancelled, core.StatusCancelled, s.policy.Runs.CancelledDays},
	}
	for _, g := range runGroups {
		n, err := s.deleteLoop(ctx, func(batch int) (int64, error) {
			return s.store.DeleteExpiredRuns(ctx, g.status, cutoff(now, g.days), batch)
		})
		*g.dst = n
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("runs.%s: %v", g.status, err))
		}
	}

	logGroups := []struct {
		dst   *int64
		level core.LogLevel
		days  int
	}{
		{&res.Deleted.Logs.Debug, core.LogDebug, s.policy.Logs.DebugDays},
		{&res.Deleted.Logs.Info, core.LogInfo, s.policy.Logs.InfoDays},
		{&res.Deleted.Logs.Warn, core.LogWarn, s.policy.Logs.WarnDays},
		{&res.Deleted.Logs.Error, core.LogError, s.policy.Logs.ErrorDays},
	}
	for _, g := range logGroups {
		n, err := s.deleteLoop(ctx, func(batch int) (int64, error) {
			return s.store.DeleteExpiredLogs(ctx, g.level, cutoff(now, g.days), batch)
		})
		*g.dst = n
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("logs.%s: %v", g.level, err))
		}
	}

	deleted, blobErrs, err := s.deleteArtifacts(ctx, cutoff(now, s.policy.Artifacts.DefaultDays))
	res.Deleted.Artifacts = deleted
	res.BlobErrors = blobErrs
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("artifacts: %v", err))
	}

	n, err := s.deleteLoop(ctx, func(batch int) (int64, error) {
		return s.store.DeletePrunableFlowVersions(ctx, s.policy.FlowVersions.KeepRecent,
			cutoff(now, s.policy.FlowVersions.MinAgeDays), batch)
	})
	res.Deleted.FlowVersions = n
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("flowVersions: %v", err))
	}

	n, err = s.deleteLoop(ctx, func(batch int) (int64, error) {
		return s.store.DeleteExpiredMetrics(ctx, cutoff(now, s.policy.Metrics.RawDays), batch)
	})
	res.Deleted.Metrics = n
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("metrics: %v", err))
	}
}

// deleteLoop repeats one batched delete until it reports no work left.
func (s *Service) deleteLoop(ctx context.Context, del func(batch int) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := del(s.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// deleteArtifacts deletes expired artifacts blob-first. A blob that
// cannot be deleted is logged and counted; its row is removed anyway,
// tolerating an orphaned blob over a row pointing at reclaimed storage
// budget.
func (s *Service) deleteArtifacts(ctx context.Context, cut time.Time) (deleted, blobErrs int64, err error) {
	for {
		rows, listErr := s.store.ListExpiredArtifacts(ctx, cut, s.batchSize)
		if listErr != nil {
			return deleted, blobErrs, listErr
		}
		if len(rows) == 0 {
			return deleted, blobErrs, nil
		}

		ids := make([]string, 0, len(rows))
		for _, a := range rows {
			if s.blobs != nil {
				if delErr := s.blobs.Delete(ctx, a.Key); delErr != nil {
					blobErrs++
					logger.Warn(ctx, "Failed to delete artifact blob",
						tag.Key(a.Key), tag.Error(delErr))
				}
			}
			ids = append(ids, a.ID)
		}

		n, delErr := s.store.DeleteArtifactRows(ctx, ids)
		deleted += n
		if delErr != nil {
			return deleted, blobErrs, delErr
		}
		if len(rows) < s.batchSize {
			return deleted, blobErrs, nil
		}
	}
}

// writeAudit records the cleanup outcome. Failures to write the audit
// are logged and never propagate.
func (s *Service) writeAudit(ctx context.Context, res *CleanupResult) {
	completed := res.StartedAt.Add(time.Duration(res.DurationMS) * time.Millisecond)
	audit := &core.CleanupAudit{
		ID:          uuid.NewString(),
		StartedAt:   res.StartedAt,
		CompletedAt: &completed,
		DurationMS:  &res.DurationMS,
		Success:     len(res.Errors) == 0,
		DryRun:      res.DryRun,
		Errors:      res.Errors,
		TriggeredBy: res.TriggeredBy,
	}
	audit.RetentionPolicy = marshalAudit(ctx, "policy", s.policy)
	audit.Preview = marshalAudit(ctx, "preview", res.Preview)
	audit.Deleted = marshalAudit(ctx, "deleted", res.Deleted)

	if err := s.audits.InsertCleanupAudit(context.WithoutCancel(ctx), audit); err != nil {
		logger.Error(ctx, "Failed to write cleanup audit", tag.Error(err))
	}
}

func marshalAudit(ctx context.Context, field string, v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error(ctx, "Failed to marshal audit details", tag.Name(field), tag.Error(err))
		return nil
	}
	return data
}

func cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
