package core

import "time"

// Artifact is the metadata index row for a blob stored out-of-band.
// The key addresses the blob in the configured storage backend.
type Artifact struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	StepID         string     `json:"step_id,omitempty"`
	Key            string     `json:"key"`
	SizeBytes      int64      `json:"size_bytes"`
	ContentType    string     `json:"content_type,omitempty"`
	StorageBackend string     `json:"storage_backend"`
	ETag           string     `json:"etag,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}
