package core

import (
	"encoding/json"
	"time"
)

// CleanupTrigger records what initiated a cleanup.
type CleanupTrigger string

const (
	CleanupScheduled CleanupTrigger = "scheduled"
	CleanupManual    CleanupTrigger = "manual"
)

// CleanupAudit is the durable record of one retention run: the policy
// it executed under, what it counted, and what it deleted.
type CleanupAudit struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationMS      *int64          `json:"duration_ms,omitempty"`
	Success         bool            `json:"success"`
	DryRun          bool            `json:"dry_run"`
	RetentionPolicy json.RawMessage `json:"retention_policy,omitempty"`
	Preview         json.RawMessage `json:"preview,omitempty"`
	Deleted         json.RawMessage `json:"deleted,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	TriggeredBy     CleanupTrigger  `json:"triggered_by"`
}
