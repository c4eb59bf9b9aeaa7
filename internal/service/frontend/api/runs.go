package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := []persistence.ListRunsOption{
		persistence.WithRunLimit(boundedLimit(q.Get("limit"), defaultRunsLimit, maxRunsLimit)),
		persistence.WithRunOffset(parseOffset(q.Get("offset"))),
	}
	if flowID := q.Get("flow_id"); flowID != "" {
		opts = append(opts, persistence.WithRunFlowID(flowID))
	}
	if status := q.Get("status"); status != "" {
		s := core.Status(status)
		if !s.Valid() {
			writeError(w, r, core.Validationf("invalid status filter %q", status))
			return
		}
		opts = append(opts, persistence.WithRunStatus(s))
	}

	runs, err := a.store.ListRuns(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := a.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, r, err)
		return
	}

	logs, err := a.listLogs(r, runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleRunWithLogs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := a.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logs, err := a.listLogs(r, runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "logs": logs})
}

func (a *API) listLogs(r *http.Request, runID string) ([]*core.RunLog, error) {
	q := r.URL.Query()
	opts := []persistence.LogQueryOption{
		persistence.WithLogLimit(boundedLimit(q.Get("limit"), defaultLogsLimit, maxLogsLimit)),
	}
	if level := q.Get("level"); level != "" {
		l := core.LogLevel(level)
		if !l.Valid() {
			return nil, core.Validationf("invalid log level %q", level)
		}
		opts = append(opts, persistence.WithLogLevel(l))
	}
	return a.store.ListRunLogs(r.Context(), runID, opts...)
}

// handleCancelRun marks a pending or running run cancelled. The engine
// observes the transition at its next level boundary; a terminal run
// is rejected.
func (a *API) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := a.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, r, err)
		return
	}

	ok, err := a.store.MarkCancelled(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, core.Validationf("run is already in a terminal state"))
		return
	}

	run, err := a.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := a.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, r, err)
		return
	}

	artifacts, err := a.store.ListRunArtifacts(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}
