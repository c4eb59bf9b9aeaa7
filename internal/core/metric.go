package core

import (
	"encoding/json"
	"time"
)

// MetricType distinguishes the two metric row kinds the engine emits.
type MetricType string

const (
	MetricWorkflowExecution MetricType = "workflow_execution"
	MetricNodeExecution     MetricType = "node_execution"
)

// MetricStatus is the outcome recorded on a metric row.
type MetricStatus string

const (
	MetricSuccess MetricStatus = "success"
	MetricFailure MetricStatus = "failure"
)

// Metric is one analytics row, emitted per workflow execution and per
// node execution. The Prometheus registry mirrors some of these as
// counters but the table is the authoritative record.
type Metric struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	MetricType MetricType      `json:"metric_type"`
	FlowID     string          `json:"flow_id,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	NodeID     string          `json:"node_id,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Status     MetricStatus    `json:"status"`
	ErrorType  string          `json:"error_type,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// FlowStats aggregates metric rows for one flow over a window.
type FlowStats struct {
	FlowID        string  `json:"flow_id"`
	WindowDays    int     `json:"window_days"`
	TotalRuns     int64   `json:"total_runs"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	P95DurationMS float64 `json:"p95_duration_ms"`
}
