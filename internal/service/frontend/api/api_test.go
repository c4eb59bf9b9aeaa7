package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/runtime"
	"github.com/refluxhq/reflux/internal/service/retention"
	"github.com/refluxhq/reflux/internal/storage"
)

// fakeStores is an in-memory persistence.Stores good enough for
// handler tests: it mirrors the guarded transitions and the
// version-snapshot behavior of the postgres store.
type fakeStores struct {
	mu        sync.Mutex
	flows     map[string]*core.Flow
	flowOrder []string
	versions  map[string][]*core.FlowVersion
	runs      map[string]*core.Run
	runOrder  []string
	logs      map[string][]*core.RunLog
	artifacts map[string][]*core.Artifact
	audits    []*core.CleanupAudit
	stats     map[string]*core.FlowStats
	lockHeld  bool
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		flows:     map[string]*core.Flow{},
		versions:  map[string][]*core.FlowVersion{},
		runs:      map[string]*core.Run{},
		logs:      map[string][]*core.RunLog{},
		artifacts: map[string][]*core.Artifact{},
		stats:     map[string]*core.FlowStats{},
	}
}

var _ persistence.Stores = (*fakeStores)(nil)

func (s *fakeStores) CreateFlow(_ context.Context, flow *core.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.flows {
		if f.Name == flow.Name && f.Version == flow.Version {
			return core.ErrFlowExists
		}
	}
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	if flow.UpdatedAt.IsZero() {
		flow.UpdatedAt = now
	}
	cp := *flow
	s.flows[flow.ID] = &cp
	s.flowOrder = append(s.flowOrder, flow.ID)
	return nil
}

func (s *fakeStores) GetFlow(_ context.Context, id string) (*core.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, core.ErrFlowNotFound
	}
	cp := *flow
	return &cp, nil
}

func (s *fakeStores) ListFlows(_ context.Context, opts ...persistence.ListFlowsOption) ([]*core.Flow, error) {
	var o persistence.ListFlowsOptions
	for _, opt := range opts {
		opt(&o)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.Flow
	for i := len(s.flowOrder) - 1; i >= 0; i-- {
		f := s.flows[s.flowOrder[i]]
		if o.Name != "" && f.Name != o.Name {
			continue
		}
		if o.Active != nil && f.IsActive != *o.Active {
			continue
		}
		if o.Tag != "" {
			found := false
			for _, t := range f.Tags {
				if t == o.Tag {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		cp := *f
		out = append(out, &cp)
	}
	if o.Offset > 0 {
		if o.Offset >= len(out) {
			return nil, nil
		}
		out = out[o.Offset:]
	}
	if o.Limit > 0 && len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out, nil
}

func (s *fakeStores) ListActiveFlows(ctx context.Context) ([]*core.Flow, error) {
	return s.ListFlows(ctx, persistence.WithFlowActive(true))
}

func (s *fakeStores) UpdateFlow(_ context.Context, id string, upd persistence.FlowUpdate) (*core.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, core.ErrFlowNotFound
	}
	if len(upd.Spec) > 0 {
		s.versions[id] = append(s.versions[id], &core.FlowVersion{
			ID:        uuid.NewString(),
			FlowID:    id,
			Version:   flow.Version,
			Spec:      flow.Spec,
			CreatedAt: time.Now().UTC(),
			CreatedBy: upd.UpdatedBy,
			Changelog: upd.Changelog,
		})
		flow.Spec = upd.Spec
	}
	if upd.Name != nil {
		flow.Name = *upd.Name
	}
	if upd.Version != nil {
		flow.Version = *upd.Version
	}
	if upd.Description != nil {
		flow.Description = *upd.Description
	}
	if upd.Tags != nil {
		flow.Tags = upd.Tags
	}
	if upd.IsActive != nil {
		flow.IsActive = *upd.IsActive
	}
	flow.UpdatedAt = time.Now().UTC().Add(time.Microsecond)
	cp := *flow
	return &cp, nil
}

func (s *fakeStores) DeleteFlow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return core.ErrFlowNotFound
	}
	delete(s.flows, id)
	delete(s.versions, id)
	return nil
}

func (s *fakeStores) ListFlowVersions(_ context.Context, flowID string) ([]*core.FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flowID]; !ok {
		return nil, core.ErrFlowNotFound
	}
	versions := append([]*core.FlowVersion(nil), s.versions[flowID]...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].CreatedAt.After(versions[j].CreatedAt) })
	return versions, nil
}

func (s *fakeStores) GetFlowVersion(_ context.Context, flowID, versionID string) (*core.FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[flowID] {
		if v.ID == versionID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, core.ErrFlowVersionNotFound
}

func (s *fakeStores) RollbackFlow(ctx context.Context, flowID, versionID string) (*core.Flow, error) {
	version, err := s.GetFlowVersion(ctx, flowID, versionID)
	if err != nil {
		return nil, err
	}
	return s.UpdateFlow(ctx, flowID, persistence.FlowUpdate{
		Spec:      version.Spec,
		Changelog: "rollback to " + version.Version,
	})
}

func (s *fakeStores) CreateRun(_ context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *fakeStores) GetRun(_ context.Context, id string) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *fakeStores) ListRuns(_ context.Context, opts ...persistence.ListRunsOption) ([]*core.Run, error) {
	var o persistence.ListRunsOptions
	for _, opt := range opts {
		opt(&o)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		r := s.runs[s.runOrder[i]]
		if o.FlowID != "" && r.FlowID != o.FlowID {
			continue
		}
		if o.Status != "" && r.Status != o.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	if o.Limit > 0 && len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out, nil
}

func (s *fakeStores) MarkRunning(_ context.Context, id, wfID, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != core.StatusPending {
		return false, nil
	}
	run.Status = core.StatusRunning
	run.EngineWorkflowID = wfID
	run.EngineRunID = runID
	return true, nil
}

func (s *fakeStores) MarkCompleted(_ context.Context, id string, outputs json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status == core.StatusCompleted {
		return false, nil
	}
	run.Status = core.StatusCompleted
	run.Outputs = outputs
	return true, nil
}

func (s *fakeStores) MarkFailed(_ context.Context, id string, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status == core.StatusCompleted || run.Status == core.StatusFailed {
		return false, nil
	}
	run.Status = core.StatusFailed
	run.Error = errMsg
	return true, nil
}

func (s *fakeStores) MarkCancelled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status.IsTerminal() {
		return false, nil
	}
	run.Status = core.StatusCancelled
	return true, nil
}

func (s *fakeStores) InsertLogBatch(_ context.Context, entries []core.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cp := e
		s.logs[e.RunID] = append(s.logs[e.RunID], &cp)
	}
	return nil
}

func (s *fakeStores) ListRunLogs(_ context.Context, runID string, opts ...persistence.LogQueryOption) ([]*core.RunLog, error) {
	var o persistence.LogQueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.RunLog
	for _, l := range s.logs[runID] {
		if o.Level != "" && l.Level != o.Level {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	if o.Limit > 0 && len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out, nil
}

func (s *fakeStores) CreateArtifact(_ context.Context, artifact *core.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *artifact
	s.artifacts[artifact.RunID] = append(s.artifacts[artifact.RunID], &cp)
	return nil
}

func (s *fakeStores) GetArtifact(_ context.Context, id string) (*core.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, arts := range s.artifacts {
		for _, a := range arts {
			if a.ID == id {
				cp := *a
				return &cp, nil
			}
		}
	}
	return nil, core.NotFoundf("artifact not found")
}

func (s *fakeStores) ListRunArtifacts(_ context.Context, runID string) ([]*core.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Artifact, 0, len(s.artifacts[runID]))
	for _, a := range s.artifacts[runID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStores) DeleteArtifact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID, arts := range s.artifacts {
		for i, a := range arts {
			if a.ID == id {
				s.artifacts[runID] = append(arts[:i], arts[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *fakeStores) InsertMetrics(_ context.Context, _ []core.Metric) error { return nil }

func (s *fakeStores) FlowStats(_ context.Context, flowID string, windowDays int) (*core.FlowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[flowID]; ok {
		cp := *st
		cp.WindowDays = windowDays
		return &cp, nil
	}
	return &core.FlowStats{FlowID: flowID, WindowDays: windowDays}, nil
}

func (s *fakeStores) InsertCleanupAudit(_ context.Context, audit *core.CleanupAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *audit
	s.audits = append(s.audits, &cp)
	return nil
}

func (s *fakeStores) ListCleanupAudits(_ context.Context, limit int) ([]*core.CleanupAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.CleanupAudit, 0, len(s.audits))
	for i := len(s.audits) - 1; i >= 0; i-- {
		cp := *s.audits[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStores) LatestCleanupAudit(_ context.Context) (*core.CleanupAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audits) == 0 {
		return nil, nil
	}
	cp := *s.audits[len(s.audits)-1]
	return &cp, nil
}

func (s *fakeStores) CountExpiredRuns(_ context.Context, _ core.Status, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStores) DeleteExpiredRuns(_ context.Context, _ core.Status, _ time.Time, _ int) (int64, error) {
	return 0, nil
}

func (s *fakeStores) CountExpiredLogs(_ context.Context, _ core.LogLevel, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStores) DeleteExpiredLogs(_ context.Context, _ core.LogLevel, _ time.Time, _ int) (int64, error) {
	return 0, nil
}

func (s *fakeStores) CountExpiredArtifacts(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStores) ListExpiredArtifacts(_ context.Context, _ time.Time, _ int) ([]*core.Artifact, error) {
	return nil, nil
}

func (s *fakeStores) DeleteArtifactRows(_ context.Context, _ []string) (int64, error) {
	return 0, nil
}

func (s *fakeStores) CountPrunableFlowVersions(_ context.Context, _ int, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStores) DeletePrunableFlowVersions(_ context.Context, _ int, _ time.Time, _ int) (int64, error) {
	return 0, nil
}

func (s *fakeStores) CountExpiredMetrics(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStores) DeleteExpiredMetrics(_ context.Context, _ time.Time, _ int) (int64, error) {
	return 0, nil
}

func (s *fakeStores) RetentionTableStats(_ context.Context) ([]persistence.TableStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []persistence.TableStats{
		{Table: "flows", Rows: int64(len(s.flows))},
		{Table: "runs", Rows: int64(len(s.runs))},
	}, nil
}

func (s *fakeStores) AcquireCleanupLock(_ context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHeld {
		return nil, core.ErrCleanupInProgress
	}
	s.lockHeld = true
	return func() {
		s.mu.Lock()
		s.lockHeld = false
		s.mu.Unlock()
	}, nil
}

// memStorage satisfies storage.Storage for retention wiring; the
// handler tests never touch blobs.
type memStorage struct{}

func (memStorage) Put(context.Context, string, io.Reader, int64, string) (*storage.PutResult, error) {
	return &storage.PutResult{}, nil
}

func (memStorage) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, core.NotFoundf("no blob")
}

func (memStorage) Delete(context.Context, string) error { return nil }

func (memStorage) Backend() string { return "memory" }

// testEnv bundles the router and its fakes for one test.
type testEnv struct {
	router *chi.Mux
	stores *fakeStores
	engine *runtime.Engine
}

// newTestEnv wires the API over in-memory fakes with a local bus. The
// passthrough handler set covers the node types the fixtures use.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := bus.NewRegistry()
	for _, name := range []string{"nodes.webhook.trigger", "nodes.noop"} {
		def := &bus.HandlerDef{Name: name, Handler: func(_ context.Context, params map[string]any, _ bus.Meta) (any, error) {
			return map[string]any{"ok": true}, nil
		}}
		require.NoError(t, reg.Register(def))
	}

	stores := newFakeStores()
	dispatcher := bus.NewLocal(reg)
	engine := runtime.NewEngine(stores, dispatcher)
	retentionSvc := retention.NewService(stores, stores, memStorage{}, retention.DefaultPolicy())

	a := New(stores, engine, dispatcher, retentionSvc)
	router := chi.NewRouter()
	a.ConfigureRoutes(router)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Drain(ctx)
	})
	return &testEnv{router: router, stores: stores, engine: engine}
}

// do issues a request against the router and decodes the JSON body
// into out when it is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
			"response body: %s", rec.Body.String())
	}
	return rec
}

// drain waits for background runs to settle.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.engine.Drain(ctx))
}

// specJSON is a minimal valid one-node spec.
const specJSON = `{"nodes":[{"id":"a","type":"nodes.noop","params":{}}],"edges":[]}`

// webhookSpecJSON declares a webhook trigger feeding a noop node.
const webhookSpecJSON = `{
  "nodes": [
    {"id": "hook", "type": "nodes.webhook.trigger", "params": {"path": "/github", "method": "POST"}},
    {"id": "work", "type": "nodes.noop", "params": {}}
  ],
  "edges": [{"from": "hook", "to": "work"}]
}`

func createFlow(t *testing.T, env *testEnv, name, spec string, active bool) *core.Flow {
	t.Helper()
	var flow core.Flow
	rec := env.do(t, http.MethodPost, "/api/flows", map[string]any{
		"name":      name,
		"spec":      json.RawMessage(spec),
		"is_active": active,
	}, &flow)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &flow
}
