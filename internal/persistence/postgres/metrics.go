package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/refluxhq/reflux/internal/core"
)

// InsertMetrics appends metric rows in one batched round trip.
func (s *Store) InsertMetrics(ctx context.Context, rows []core.Metric) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range rows {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(`
			INSERT INTO metrics (timestamp, metric_type, flow_id, run_id, node_id,
			                     duration_ms, status, error_type, tags, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			ts, string(m.MetricType), nullableText(m.FlowID), nullableText(m.RunID),
			nullableText(m.NodeID), m.DurationMS, string(m.Status),
			nullableText(m.ErrorType), tags, nullableJSON(m.Metadata),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return core.StorageErr("insert metrics", err)
		}
	}
	return nil
}

// FlowStats aggregates workflow-execution metrics over the trailing
// window.
func (s *Store) FlowStats(ctx context.Context, flowID string, windowDays int) (*core.FlowStats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	stats := &core.FlowStats{FlowID: flowID, WindowDays: windowDays}
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'success'),
		       count(*) FILTER (WHERE status = 'failure'),
		       COALESCE(avg(duration_ms), 0),
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM metrics
		WHERE metric_type = $1 AND flow_id = $2 AND timestamp >= $3`,
		string(core.MetricWorkflowExecution), flowID, since,
	).Scan(&stats.TotalRuns, &stats.Succeeded, &stats.Failed,
		&stats.AvgDurationMS, &stats.P95DurationMS)
	if err != nil {
		return nil, core.StorageErr("aggregate flow stats", err)
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalRuns)
	}
	return stats, nil
}

// nullableText maps the empty string to SQL NULL for optional columns.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
