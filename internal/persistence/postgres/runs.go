package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

const runColumns = "id, flow_id, flow_version, status, inputs, outputs, error, " +
	"engine_workflow_id, engine_run_id, started_at, completed_at, duration_ms"

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, run *core.Run) error {
	if run.ID == "" {
		run.ID = newID()
	}
	if run.Status == "" {
		run.Status = core.StatusPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, flow_id, flow_version, status, inputs, error,
		                  engine_workflow_id, engine_run_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.FlowID, run.FlowVersion, string(run.Status), nullableJSON(run.Inputs),
		run.Error, run.EngineWorkflowID, run.EngineRunID, run.StartedAt,
	)
	if err != nil {
		return core.StorageErr("insert run", err)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, core.StorageErr("select run", err)
	}
	return run, nil
}

// ListRuns returns runs matching the filters, newest first.
func (s *Store) ListRuns(ctx context.Context, opts ...persistence.ListRunsOption) ([]*core.Run, error) {
	var o persistence.ListRunsOptions
	for _, opt := range opts {
		opt(&o)
	}

	var conds []string
	var args []any
	if o.FlowID != "" {
		args = append(args, o.FlowID)
		conds = append(conds, fmt.Sprintf("flow_id = $%d", len(args)))
	}
	if o.Status != "" {
		args = append(args, string(o.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if o.Limit > 0 {
		args = append(args, o.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if o.Offset > 0 {
		args = append(args, o.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.StorageErr("list runs", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, core.StorageErr("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list runs", err)
	}
	return runs, nil
}

// MarkRunning transitions pending to running and records the engine
// handles.
func (s *Store) MarkRunning(ctx context.Context, id, engineWorkflowID, engineRunID string) (bool, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = 'running', engine_workflow_id = $2, engine_run_id = $3
		WHERE id = $1 AND status = 'pending'`,
		id, engineWorkflowID, engineRunID,
	)
	if err != nil {
		return false, core.StorageErr("mark run running", err)
	}
	return s.transitioned(ctx, id, res.RowsAffected())
}

// MarkCompleted writes the completed terminal state. duration_ms is
// computed against started_at inside the statement so retries cannot
// double-count.
func (s *Store) MarkCompleted(ctx context.Context, id string, outputs json.RawMessage) (bool, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = 'completed', outputs = $2, error = '',
		    completed_at = now(),
		    duration_ms = (extract(epoch from (now() - started_at)) * 1000)::bigint
		WHERE id = $1 AND status != 'completed'`,
		id, nullableJSON(outputs),
	)
	if err != nil {
		return false, core.StorageErr("mark run completed", err)
	}
	return s.transitioned(ctx, id, res.RowsAffected())
}

// MarkFailed writes the failed terminal state unless the run already
// finished.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string) (bool, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = 'failed', error = $2,
		    completed_at = now(),
		    duration_ms = (extract(epoch from (now() - started_at)) * 1000)::bigint
		WHERE id = $1 AND status != 'failed' AND status != 'completed'`,
		id, errMsg,
	)
	if err != nil {
		return false, core.StorageErr("mark run failed", err)
	}
	return s.transitioned(ctx, id, res.RowsAffected())
}

// MarkCancelled cancels a run that has not reached a terminal state.
func (s *Store) MarkCancelled(ctx context.Context, id string) (bool, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = 'cancelled',
		    completed_at = now(),
		    duration_ms = (extract(epoch from (now() - started_at)) * 1000)::bigint
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id,
	)
	if err != nil {
		return false, core.StorageErr("mark run cancelled", err)
	}
	return s.transitioned(ctx, id, res.RowsAffected())
}

// transitioned distinguishes a guarded no-op from a missing run.
func (s *Store) transitioned(ctx context.Context, id string, affected int64) (bool, error) {
	if affected > 0 {
		return true, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, core.StorageErr("check run", err)
	}
	if !exists {
		return false, core.ErrRunNotFound
	}
	return false, nil
}

func scanRun(row pgx.Row) (*core.Run, error) {
	var run core.Run
	var status string
	var inputs, outputs []byte
	err := row.Scan(&run.ID, &run.FlowID, &run.FlowVersion, &status, &inputs, &outputs,
		&run.Error, &run.EngineWorkflowID, &run.EngineRunID,
		&run.StartedAt, &run.CompletedAt, &run.DurationMS)
	if err != nil {
		return nil, err
	}
	run.Status = core.Status(status)
	run.Inputs = inputs
	run.Outputs = outputs
	return &run, nil
}

// nullableJSON maps an empty payload to SQL NULL instead of the empty
// string, which JSONB rejects.
func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
