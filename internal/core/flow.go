// Package core defines the reflux domain model: flows, runs, logs,
// artifacts, metrics, cleanup audits, and the error taxonomy shared by
// every component.
package core

import (
	"encoding/json"
	"time"
)

// Flow is a named, versioned workflow definition. The (name, version)
// pair is unique; spec mutation goes through the versioning path so the
// prior state is always snapshotted into a FlowVersion first.
type Flow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Spec        json.RawMessage `json:"spec"`
	Tags        []string        `json:"tags"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FlowVersion is an immutable snapshot of a flow's spec at some version.
type FlowVersion struct {
	ID        string          `json:"id"`
	FlowID    string          `json:"flow_id"`
	Version   string          `json:"version"`
	Spec      json.RawMessage `json:"spec"`
	CreatedAt time.Time       `json:"created_at"`
	CreatedBy string          `json:"created_by,omitempty"`
	Changelog string          `json:"changelog,omitempty"`
}
