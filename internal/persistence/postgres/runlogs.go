package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

// InsertLogBatch appends log entries using a single batched round trip.
func (s *Store) InsertLogBatch(ctx context.Context, entries []core.RunLog) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO run_logs (run_id, step_id, timestamp, level, message, data)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.RunID, e.StepID, ts, string(e.Level), e.Message, nullableJSON(e.Data),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return core.StorageErr("insert log batch", err)
		}
	}
	return nil
}

// ListRunLogs returns the log entries of a run in timestamp order.
func (s *Store) ListRunLogs(ctx context.Context, runID string, opts ...persistence.LogQueryOption) ([]*core.RunLog, error) {
	var o persistence.LogQueryOptions
	for _, opt := range opts {
		opt(&o)
	}

	query := `SELECT id, run_id, step_id, timestamp, level, message, data
		FROM run_logs WHERE run_id = $1`
	args := []any{runID}
	if o.Level != "" {
		args = append(args, string(o.Level))
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}
	query += " ORDER BY timestamp, id"
	if o.Limit > 0 {
		args = append(args, o.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.StorageErr("list run logs", err)
	}
	defer rows.Close()

	var logs []*core.RunLog
	for rows.Next() {
		var entry core.RunLog
		var level string
		var data []byte
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.StepID, &entry.Timestamp,
			&level, &entry.Message, &data); err != nil {
			return nil, core.StorageErr("scan run log", err)
		}
		entry.Level = core.LogLevel(level)
		entry.Data = data
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list run logs", err)
	}
	return logs, nil
}
