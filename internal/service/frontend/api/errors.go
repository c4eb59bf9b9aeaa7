package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
)

// errorResponse is the wire envelope for every error.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusOf maps an error to its HTTP status. Lock contention is
// checked before classification because its message does not carry a
// classifiable marker.
func statusOf(err error) int {
	if errors.Is(err, core.ErrCleanupInProgress) {
		return http.StatusConflict
	}
	switch core.Classify(err) {
	case core.ErrTypeValidation:
		return http.StatusBadRequest
	case core.ErrTypeNotFound:
		return http.StatusNotFound
	case core.ErrTypeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the error envelope. Storage outages carry a
// Retry-After hint; server-side failures are logged with the request
// path.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)

	resp := errorResponse{Error: err.Error()}
	var typed *core.Error
	if errors.As(err, &typed) && typed.Message != "" && typed.Err != nil {
		resp.Error = typed.Message
		resp.Details = typed.Err.Error()
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "Request failed",
			tag.Method(r.Method), tag.Path(r.URL.Path), tag.Error(err))
	}

	writeJSON(w, status, resp)
}

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(context.Background(), "Failed to encode response", tag.Error(err))
	}
}

// decodeJSON decodes the request body into v. Malformed bodies are
// validation errors.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Validationf("invalid request body: %v", err)
	}
	return nil
}
