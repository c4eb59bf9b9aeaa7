package api

import (
	"net/http"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/service/retention"
)

func (a *API) handleRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.retention.Policy())
}

func (a *API) handleRetentionPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := a.retention.Preview(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleRetentionHistory(w http.ResponseWriter, r *http.Request) {
	limit := boundedLimit(r.URL.Query().Get("limit"), 20, maxAuditsLimit)
	audits, err := a.store.ListCleanupAudits(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, audits)
}

func (a *API) handleRetentionLatest(w http.ResponseWriter, r *http.Request) {
	audit, err := a.store.LatestCleanupAudit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if audit == nil {
		writeError(w, r, core.NotFoundf("no cleanup has run yet"))
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

func (a *API) handleRetentionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.RetentionTableStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type cleanupRequest struct {
	DryRun bool `json:"dry_run"`
}

// handleRetentionCleanup triggers a manual cleanup. Concurrent requests
// lose the advisory lock and surface as 409.
func (a *API) handleRetentionCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	result, err := a.retention.Cleanup(r.Context(), retention.CleanupRequest{
		DryRun:      req.DryRun,
		TriggeredBy: core.CleanupManual,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
