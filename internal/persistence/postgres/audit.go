package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/refluxhq/reflux/internal/core"
)

const auditColumns = "id, started_at, completed_at, duration_ms, success, dry_run, " +
	"retention_policy, preview, deleted, errors, triggered_by"

// InsertCleanupAudit writes the record of one retention run.
func (s *Store) InsertCleanupAudit(ctx context.Context, audit *core.CleanupAudit) error {
	if audit.ID == "" {
		audit.ID = newID()
	}
	if audit.StartedAt.IsZero() {
		audit.StartedAt = time.Now().UTC()
	}
	errs := audit.Errors
	if errs == nil {
		errs = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cleanup_audit (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		audit.ID, audit.StartedAt, audit.CompletedAt, audit.DurationMS,
		audit.Success, audit.DryRun, nullableJSON(audit.RetentionPolicy),
		nullableJSON(audit.Preview), nullableJSON(audit.Deleted),
		errs, string(audit.TriggeredBy),
	)
	if err != nil {
		return core.StorageErr("insert cleanup audit", err)
	}
	return nil
}

// ListCleanupAudits returns recent audits, newest first.
func (s *Store) ListCleanupAudits(ctx context.Context, limit int) ([]*core.CleanupAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM cleanup_audit
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, core.StorageErr("list cleanup audits", err)
	}
	defer rows.Close()

	var audits []*core.CleanupAudit
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, core.StorageErr("scan cleanup audit", err)
		}
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list cleanup audits", err)
	}
	return audits, nil
}

// LatestCleanupAudit returns the most recent audit, or nil when none
// exists.
func (s *Store) LatestCleanupAudit(ctx context.Context) (*core.CleanupAudit, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ` + auditColumns + ` FROM cleanup_audit
		ORDER BY started_at DESC
		LIMIT 1`)
	audit, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.StorageErr("select latest cleanup audit", err)
	}
	return audit, nil
}

func scanAudit(row pgx.Row) (*core.CleanupAudit, error) {
	var a core.CleanupAudit
	var triggeredBy string
	var policy, preview, deleted []byte
	err := row.Scan(&a.ID, &a.StartedAt, &a.CompletedAt, &a.DurationMS, &a.Success,
		&a.DryRun, &policy, &preview, &deleted, &a.Errors, &triggeredBy)
	if err != nil {
		return nil, err
	}
	a.RetentionPolicy = policy
	a.Preview = preview
	a.Deleted = deleted
	a.TriggeredBy = core.CleanupTrigger(triggeredBy)
	return &a, nil
}
