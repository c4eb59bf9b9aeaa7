package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/storage"
)

// fakeRetentionStore simulates per-category backlogs and records every
// batch size it was asked to delete.
type fakeRetentionStore struct {
	mu sync.Mutex

	expiredRuns map[core.Status]int64
	expiredLogs map[core.LogLevel]int64
	artifacts   []*core.Artifact
	versions    int64
	metrics     int64

	runBatches []int
	locked     bool
	releases   int

	failRunDeletes bool
}

func newFakeRetentionStore() *fakeRetentionStore {
	return &fakeRetentionStore{
		expiredRuns: map[core.Status]int64{},
		expiredLogs: map[core.LogLevel]int64{},
	}
}

func (s *fakeRetentionStore) CountExpiredRuns(_ context.Context, status core.Status, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredRuns[status], nil
}

func (s *fakeRetentionStore) DeleteExpiredRuns(_ context.Context, status core.Status, _ time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRunDeletes {
		return 0, errors.New("relation is busy")
	}
	n := min(int64(batchSize), s.expiredRuns[status])
	s.expiredRuns[status] -= n
	if n > 0 {
		s.runBatches = append(s.runBatches, int(n))
	}
	return n, nil
}

func (s *fakeRetentionStore) CountExpiredLogs(_ context.Context, level core.LogLevel, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLogs[level], nil
}

func (s *fakeRetentionStore) DeleteExpiredLogs(_ context.Context, level core.LogLevel, _ time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(int64(batchSize), s.expiredLogs[level])
	s.expiredLogs[level] -= n
	return n, nil
}

func (s *fakeRetentionStore) CountExpiredArtifacts(_ context.Context, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.artifacts)), nil
}

func (s *fakeRetentionStore) ListExpiredArtifacts(_ context.Context, _ time.Time, batchSize int) ([]*core.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(batchSize, len(s.artifacts))
	out := make([]*core.Artifact, n)
	copy(out, s.artifacts[:n])
	return out, nil
}

func (s *fakeRetentionStore) DeleteArtifactRows(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := map[string]struct{}{}
	for _, id := range ids {
		byID[id] = struct{}{}
	}
	kept := s.artifacts[:0]
	var deleted int64
	for _, a := range s.artifacts {
		if _, hit := byID[a.ID]; hit {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.artifacts = kept
	return deleted, nil
}

func (s *fakeRetentionStore) CountPrunableFlowVersions(_ context.Context, _ int, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions, nil
}

func (s *fakeRetentionStore) DeletePrunableFlowVersions(_ context.Context, _ int, _ time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(int64(batchSize), s.versions)
	s.versions -= n
	return n, nil
}

func (s *fakeRetentionStore) CountExpiredMetrics(_ context.Context, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics, nil
}

func (s *fakeRetentionStore) DeleteExpiredMetrics(_ context.Context, _ time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(int64(batchSize), s.metrics)
	s.metrics -= n
	return n, nil
}

func (s *fakeRetentionStore) RetentionTableStats(_ context.Context) ([]persistence.TableStats, error) {
	return nil, nil
}

func (s *fakeRetentionStore) AcquireCleanupLock(_ context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, core.ErrCleanupInProgress
	}
	s.locked = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.locked = false
		s.releases++
	}, nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	audits []*core.CleanupAudit
	fail   bool
}

func (s *fakeAuditStore) InsertCleanupAudit(_ context.Context, audit *core.CleanupAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("audit table unavailable")
	}
	s.audits = append(s.audits, audit)
	return nil
}

func (s *fakeAuditStore) ListCleanupAudits(_ context.Context, _ int) ([]*core.CleanupAudit, error) {
	return s.audits, nil
}

func (s *fakeAuditStore) LatestCleanupAudit(_ context.Context) (*core.CleanupAudit, error) {
	if len(s.audits) == 0 {
		return nil, nil
	}
	return s.audits[len(s.audits)-1], nil
}

// fakeBlobStore records deletes and can fail specific keys.
type fakeBlobStore struct {
	mu       sync.Mutex
	deleted  []string
	failKeys map[string]bool
}

func (s *fakeBlobStore) Put(_ context.Context, _ string, _ io.Reader, _ int64, _ string) (*storage.PutResult, error) {
	panic("not used")
}

func (s *fakeBlobStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	panic("not used")
}

func (s *fakeBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[key] {
		return errors.New("bucket unreachable")
	}
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeBlobStore) Backend() string { return "fake" }

func TestCleanupDryRunCountsWithoutDeleting(t *testing.T) {
	store := newFakeRetentionStore()
	store.expiredRuns[core.StatusCompleted] = 5
	audits := &fakeAuditStore{}
	svc := NewService(store, audits, nil, DefaultPolicy())

	res, err := svc.Cleanup(context.Background(), CleanupRequest{DryRun: true, TriggeredBy: core.CleanupManual})
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Preview.Runs.Successful)
	assert.Zero(t, res.Deleted.Total())
	assert.Equal(t, int64(5), store.expiredRuns[core.StatusCompleted], "dry run must not delete")

	require.Len(t, audits.audits, 1)
	assert.True(t, audits.audits[0].DryRun)
	assert.True(t, audits.audits[0].Success)
	assert.Equal(t, core.CleanupManual, audits.audits[0].TriggeredBy)
}

func TestCleanupDeletesExpiredRows(t *testing.T) {
	store := newFakeRetentionStore()
	store.expiredRuns[core.StatusCompleted] = 5
	store.expiredRuns[core.StatusFailed] = 2
	store.expiredLogs[core.LogDebug] = 7
	store.versions = 3
	store.metrics = 11
	audits := &fakeAuditStore{}
	svc := NewService(store, audits, nil, DefaultPolicy())

	res, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Deleted.Runs.Successful)
	assert.Equal(t, int64(2), res.Deleted.Runs.Failed)
	assert.Equal(t, int64(7), res.Deleted.Logs.Debug)
	assert.Equal(t, int64(3), res.Deleted.FlowVersions)
	assert.Equal(t, int64(11), res.Deleted.Metrics)
	assert.Equal(t, int64(28), res.Deleted.Total())
	assert.Empty(t, res.Errors)
	assert.Equal(t, core.CleanupManual, res.TriggeredBy, "empty trigger defaults to manual")

	require.Len(t, audits.audits, 1)
	assert.False(t, audits.audits[0].DryRun)
	assert.Contains(t, string(audits.audits[0].Deleted), `"successful":5`)
	assert.Equal(t, 1, store.releases, "lock released exactly once")
}

func TestCleanupBatchesLargeBacklogs(t *testing.T) {
	store := newFakeRetentionStore()
	store.expiredRuns[core.StatusCompleted] = 2500
	svc := NewService(store, &fakeAuditStore{}, nil, DefaultPolicy(), WithBatchSize(1000))

	res, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(2500), res.Deleted.Runs.Successful)
	assert.Equal(t, []int{1000, 1000, 500}, store.runBatches)
}

func TestCleanupLockContention(t *testing.T) {
	store := newFakeRetentionStore()
	store.locked = true
	audits := &fakeAuditStore{}
	svc := NewService(store, audits, nil, DefaultPolicy())

	_, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.ErrorIs(t, err, core.ErrCleanupInProgress)
	assert.Empty(t, audits.audits, "contended cleanup writes no audit row")
}

func TestCleanupDeletesArtifactBlobsFirst(t *testing.T) {
	store := newFakeRetentionStore()
	store.artifacts = []*core.Artifact{
		{ID: "a1", Key: "runs/r1/out.json"},
		{ID: "a2", Key: "runs/r2/out.json"},
	}
	blobs := &fakeBlobStore{}
	svc := NewService(store, &fakeAuditStore{}, blobs, DefaultPolicy())

	res, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Deleted.Artifacts)
	assert.ElementsMatch(t, []string{"runs/r1/out.json", "runs/r2/out.json"}, blobs.deleted)
	assert.Empty(t, store.artifacts)
}

func TestCleanupToleratesBlobDeleteFailure(t *testing.T) {
	store := newFakeRetentionStore()
	store.artifacts = []*core.Artifact{
		{ID: "a1", Key: "runs/r1/out.json"},
		{ID: "a2", Key: "runs/r2/out.json"},
	}
	blobs := &fakeBlobStore{failKeys: map[string]bool{"runs/r1/out.json": true}}
	svc := NewService(store, &fakeAuditStore{}, blobs, DefaultPolicy())

	res, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Deleted.Artifacts, "rows deleted despite blob failure")
	assert.Equal(t, int64(1), res.BlobErrors)
	assert.Empty(t, res.Errors)
	assert.Empty(t, store.artifacts)
}

func TestCleanupCollectsCategoryErrorsAndContinues(t *testing.T) {
	store := newFakeRetentionStore()
	store.failRunDeletes = true
	store.metrics = 4
	audits := &fakeAuditStore{}
	svc := NewService(store, audits, nil, DefaultPolicy())

	res, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.NoError(t, err)

	require.NotEmpty(t, res.Errors)
	assert.Contains(t, fmt.Sprint(res.Errors), "runs.completed")
	assert.Equal(t, int64(4), res.Deleted.Metrics, "later categories still run")

	require.Len(t, audits.audits, 1)
	assert.False(t, audits.audits[0].Success)
	assert.NotEmpty(t, audits.audits[0].Errors)
	assert.Equal(t, 1, store.releases)
}

func TestCleanupSurvivesAuditWriteFailure(t *testing.T) {
	store := newFakeRetentionStore()
	store.expiredRuns[core.StatusCompleted] = 1
	svc := NewService(store, &fakeAuditStore{fail: true}, nil, DefaultPolicy())

	res, err := svc.Cleanup(context.Background(), CleanupRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted.Runs.Successful)
}

func TestPreviewEstimatesBytes(t *testing.T) {
	store := newFakeRetentionStore()
	store.expiredRuns[core.StatusCompleted] = 2
	store.expiredLogs[core.LogInfo] = 10
	svc := NewService(store, &fakeAuditStore{}, nil, DefaultPolicy())

	preview, err := svc.Preview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), preview.Runs.Successful)
	assert.Equal(t, int64(10), preview.Logs.Info)
	assert.Equal(t, int64(2*estRunBytes+10*estLogBytes), preview.EstimatedBytes)
}
