// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Core identification tags

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Flow creates a tag for flow names.
func Flow(name string) slog.Attr {
	return slog.String("flow", name)
}

// FlowID creates a tag for flow IDs.
func FlowID(id string) slog.Attr {
	return slog.String("flow-id", id)
}

// RunID creates a tag for run execution IDs.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// NodeID creates a tag for node IDs within a flow spec.
func NodeID(id string) slog.Attr {
	return slog.String("node-id", id)
}

// StepID creates a tag for step IDs in run logs.
func StepID(id string) slog.Attr {
	return slog.String("step-id", id)
}

// NodeType creates a tag for dotted node type names.
func NodeType(t string) slog.Attr {
	return slog.String("node-type", t)
}

// Address creates a tag for dispatch bus addresses.
func Address(addr string) slog.Attr {
	return slog.String("address", addr)
}

// RequestID creates a tag for request IDs (for API/external calls).
func RequestID(id string) slog.Attr {
	return slog.String("request-id", id)
}

// WorkerID creates a tag for worker instance IDs.
func WorkerID(id string) slog.Attr {
	return slog.String("worker-id", id)
}

// Execution context tags

// Status creates a tag for execution status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Level creates a tag for run log or schedule levels.
func Level(level string) slog.Attr {
	return slog.String("level", level)
}

// ErrorType creates a tag for classified error types.
func ErrorType(t string) slog.Attr {
	return slog.String("error-type", t)
}

// Timeout creates a tag for timeout duration values.
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration("timeout", d)
}

// Count creates a tag for numeric counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Dropped creates a tag for counts of dropped entries.
func Dropped(n int) slog.Attr {
	return slog.Int("dropped", n)
}

// Batch creates a tag for batch sizes.
func Batch(n int) slog.Attr {
	return slog.Int("batch", n)
}

// Path and file tags

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Dir creates a tag for directory paths.
func Dir(path string) slog.Attr {
	return slog.String("dir", path)
}

// Path creates a tag for generic paths (prefer File or Dir when specific).
func Path(path string) slog.Attr {
	return slog.String("path", path)
}

// Network and service tags

// Host creates a tag for host addresses.
func Host(host string) slog.Attr {
	return slog.String("host", host)
}

// Port creates a tag for port numbers.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// URL creates a tag for URL values.
func URL(url string) slog.Attr {
	return slog.String("url", url)
}

// Method creates a tag for HTTP methods.
func Method(m string) slog.Attr {
	return slog.String("method", m)
}

// Service creates a tag for service names.
func Service(name string) slog.Attr {
	return slog.String("service", name)
}

// Endpoint creates a tag for API endpoints.
func Endpoint(ep string) slog.Attr {
	return slog.String("endpoint", ep)
}

// Queue creates a tag for queue names.
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// Time-related tags

// Interval creates a tag for time intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Duration creates a tag for time durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Timestamp creates a tag for generic timestamps.
func Timestamp(t time.Time) slog.Attr {
	return slog.Time("timestamp", t)
}

// Schedule creates a tag for cron schedules.
func Schedule(s string) slog.Attr {
	return slog.String("schedule", s)
}

// Size and capacity tags

// Size creates a tag for size values.
func Size(n int) slog.Attr {
	return slog.Int("size", n)
}

// Bytes creates a tag for byte counts.
func Bytes(n int64) slog.Attr {
	return slog.Int64("bytes", n)
}

// Limit creates a tag for generic limits.
func Limit(n int) slog.Attr {
	return slog.Int("limit", n)
}

// Type and metadata tags

// Type creates a tag for type values.
func Type(t string) slog.Attr {
	return slog.String("type", t)
}

// Name creates a tag for generic names (prefer specific tags like Flow).
func Name(name string) slog.Attr {
	return slog.String("name", name)
}

// ID creates a tag for generic IDs (prefer specific tags like RunID).
func ID(id string) slog.Attr {
	return slog.String("id", id)
}

// Version creates a tag for version values.
func Version(v string) slog.Attr {
	return slog.String("version", v)
}

// Reason creates a tag for reason for an action or state.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// Key creates a tag for key names.
func Key(k string) slog.Attr {
	return slog.String("key", k)
}

// Value creates a tag for generic values.
func Value(v any) slog.Attr {
	return slog.Any("value", v)
}

// Storage tags

// Backend creates a tag for storage backend names.
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Bucket creates a tag for object store bucket names.
func Bucket(name string) slog.Attr {
	return slog.String("bucket", name)
}

// Table creates a tag for database table names.
func Table(name string) slog.Attr {
	return slog.String("table", name)
}

// Retention tags

// DryRun creates a tag for dry-run flags.
func DryRun(v bool) slog.Attr {
	return slog.Bool("dry-run", v)
}

// TriggeredBy creates a tag recording what initiated an operation.
func TriggeredBy(s string) slog.Attr {
	return slog.String("triggered-by", s)
}

// Deleted creates a tag for deleted row counts.
func Deleted(n int64) slog.Attr {
	return slog.Int64("deleted", n)
}

// Email tags

// Subject creates a tag for email subjects.
func Subject(s string) slog.Attr {
	return slog.String("subject", s)
}

// To creates a tag for email recipients.
func To(addr string) slog.Attr {
	return slog.String("to", addr)
}

// From creates a tag for email senders.
func From(addr string) slog.Attr {
	return slog.String("from", addr)
}
