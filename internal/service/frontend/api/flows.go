package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/runtime"
)

type createFlowRequest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Spec        json.RawMessage `json:"spec"`
	Tags        []string        `json:"tags"`
	IsActive    *bool           `json:"is_active"`
}

func (a *API) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req createFlowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, core.Validationf("flow name is required"))
		return
	}
	if len(req.Spec) == 0 {
		writeError(w, r, core.Validationf("flow spec is required"))
		return
	}
	if _, err := core.ParseSpec(req.Spec); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	flow := &core.Flow{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		Spec:        req.Spec,
		Tags:        req.Tags,
		IsActive:    active,
	}
	if err := a.store.CreateFlow(r.Context(), flow); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, flow)
}

func (a *API) handleListFlows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := []persistence.ListFlowsOption{
		persistence.WithFlowLimit(boundedLimit(q.Get("limit"), defaultFlows, maxFlowsLimit)),
		persistence.WithFlowOffset(parseOffset(q.Get("offset"))),
	}
	if name := q.Get("name"); name != "" {
		opts = append(opts, persistence.WithFlowName(name))
	}
	if tag := q.Get("tag"); tag != "" {
		opts = append(opts, persistence.WithFlowTag(tag))
	}
	if active := q.Get("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			writeError(w, r, core.Validationf("invalid active filter %q", active))
			return
		}
		opts = append(opts, persistence.WithFlowActive(v))
	}

	flows, err := a.store.ListFlows(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (a *API) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := a.store.GetFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

type updateFlowRequest struct {
	Name        *string         `json:"name"`
	Version     *string         `json:"version"`
	Description *string         `json:"description"`
	Spec        json.RawMessage `json:"spec"`
	Tags        []string        `json:"tags"`
	IsActive    *bool           `json:"is_active"`
	UpdatedBy   string          `json:"updated_by"`
	Changelog   string          `json:"changelog"`
}

func (a *API) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	var req updateFlowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Spec) > 0 {
		if _, err := core.ParseSpec(req.Spec); err != nil {
			writeError(w, r, err)
			return
		}
	}

	flow, err := a.store.UpdateFlow(r.Context(), chi.URLParam(r, "flowID"), persistence.FlowUpdate{
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		Spec:        req.Spec,
		Tags:        req.Tags,
		IsActive:    req.IsActive,
		UpdatedBy:   req.UpdatedBy,
		Changelog:   req.Changelog,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (a *API) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteFlow(r.Context(), chi.URLParam(r, "flowID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListFlowVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := a.store.ListFlowVersions(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (a *API) handleGetFlowVersion(w http.ResponseWriter, r *http.Request) {
	version, err := a.store.GetFlowVersion(r.Context(),
		chi.URLParam(r, "flowID"), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// specDiff summarizes what changed between two spec snapshots.
type specDiff struct {
	NodesAdded   []string `json:"nodes_added"`
	NodesRemoved []string `json:"nodes_removed"`
	NodesChanged []string `json:"nodes_changed"`
	EdgesAdded   int      `json:"edges_added"`
	EdgesRemoved int      `json:"edges_removed"`
}

func (a *API) handleCompareFlowVersions(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	q := r.URL.Query()
	v1ID, v2ID := q.Get("version1"), q.Get("version2")
	if v1ID == "" || v2ID == "" {
		writeError(w, r, core.Validationf("version1 and version2 are required"))
		return
	}

	v1, err := a.store.GetFlowVersion(r.Context(), flowID, v1ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v2, err := a.store.GetFlowVersion(r.Context(), flowID, v2ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	diff, err := diffSpecs(v1.Spec, v2.Spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version1": v1,
		"version2": v2,
		"diff":     diff,
	})
}

// diffSpecs compares two spec snapshots node-by-node. A node counts as
// changed when its type, version or params differ between snapshots.
func diffSpecs(from, to json.RawMessage) (*specDiff, error) {
	specFrom, err := core.ParseSpec(from)
	if err != nil {
		return nil, err
	}
	specTo, err := core.ParseSpec(to)
	if err != nil {
		return nil, err
	}

	fromIDs := lo.Map(specFrom.Nodes, func(n core.SpecNode, _ int) string { return n.ID })
	toIDs := lo.Map(specTo.Nodes, func(n core.SpecNode, _ int) string { return n.ID })

	diff := &specDiff{
		NodesAdded:   lo.Without(toIDs, fromIDs...),
		NodesRemoved: lo.Without(fromIDs, toIDs...),
	}
	for _, id := range lo.Intersect(fromIDs, toIDs) {
		if !sameNode(*specFrom.Node(id), *specTo.Node(id)) {
			diff.NodesChanged = append(diff.NodesChanged, id)
		}
	}

	fromEdges := lo.Map(specFrom.Edges, func(e core.SpecEdge, _ int) string { return e.From + ">" + e.To })
	toEdges := lo.Map(specTo.Edges, func(e core.SpecEdge, _ int) string { return e.From + ">" + e.To })
	diff.EdgesAdded = len(lo.Without(toEdges, fromEdges...))
	diff.EdgesRemoved = len(lo.Without(fromEdges, toEdges...))
	return diff, nil
}

func sameNode(a, b core.SpecNode) bool {
	if a.Type != b.Type || a.Version != b.Version {
		return false
	}
	ap, _ := json.Marshal(a.Params)
	bp, _ := json.Marshal(b.Params)
	return string(ap) == string(bp)
}

func (a *API) handleRollbackFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := a.store.RollbackFlow(r.Context(),
		chi.URLParam(r, "flowID"), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

type executeFlowRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// handleExecuteFlow creates a pending run and hands it to the engine.
// The response returns immediately with the run row; execution
// proceeds in the background against the spec snapshot read here.
func (a *API) handleExecuteFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := a.store.GetFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req executeFlowRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	run, err := a.startRun(r, flow, req.Inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// startRun validates the spec, persists the pending run and submits it.
func (a *API) startRun(r *http.Request, flow *core.Flow, inputs map[string]any) (*core.Run, error) {
	spec, err := core.ParseSpec(flow.Spec)
	if err != nil {
		return nil, err
	}
	if err := spec.ValidateGraph(); err != nil {
		return nil, err
	}

	var inputsJSON json.RawMessage
	if inputs != nil {
		if inputsJSON, err = json.Marshal(inputs); err != nil {
			return nil, core.Validationf("invalid inputs: %v", err)
		}
	}

	run := &core.Run{
		ID:          uuid.Must(uuid.NewV7()).String(),
		FlowID:      flow.ID,
		FlowVersion: flow.Version,
		Status:      core.StatusPending,
		Inputs:      inputsJSON,
		StartedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateRun(r.Context(), run); err != nil {
		return nil, err
	}

	a.engine.Submit(r.Context(), runtime.ExecuteRequest{
		RunID:    run.ID,
		FlowID:   flow.ID,
		FlowName: flow.Name,
		Spec:     spec,
		Inputs:   inputs,
	})
	return run, nil
}

func (a *API) handleFlowStats(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	if _, err := a.store.GetFlow(r.Context(), flowID); err != nil {
		writeError(w, r, err)
		return
	}

	window := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 365 {
			writeError(w, r, core.Validationf("days must be between 1 and 365"))
			return
		}
		window = v
	}

	stats, err := a.store.FlowStats(r.Context(), flowID, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// boundedLimit parses a limit parameter with a default and a hard cap.
func boundedLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func parseOffset(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
