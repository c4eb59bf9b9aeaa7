package core

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run is one execution of a flow. The spec is pinned at trigger time:
// the run executes FlowVersion's snapshot regardless of later updates
// or rollbacks of the flow.
type Run struct {
	ID               string          `json:"id"`
	FlowID           string          `json:"flow_id"`
	FlowVersion      string          `json:"flow_version"`
	Status           Status          `json:"status"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	Outputs          json.RawMessage `json:"outputs,omitempty"`
	Error            string          `json:"error,omitempty"`
	EngineWorkflowID string          `json:"engine_workflow_id,omitempty"`
	EngineRunID      string          `json:"engine_run_id,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	DurationMS       *int64          `json:"duration_ms,omitempty"`
}

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Valid reports whether l is one of the known log levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// RunLog is one append-only log entry emitted during a run.
type RunLog struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Level     LogLevel        `json:"level"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}
