package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

// CountExpiredRuns counts terminal runs of one status completed before
// the cutoff.
func (s *Store) CountExpiredRuns(ctx context.Context, status core.Status, cutoff time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM runs
		WHERE status = $1 AND completed_at IS NOT NULL AND completed_at < $2`,
		string(status), cutoff,
	).Scan(&n)
	if err != nil {
		return 0, core.StorageErr("count expired runs", err)
	}
	return n, nil
}

// DeleteExpiredRuns deletes one batch of expired runs. Logs, artifact
// rows, and metrics cascade with the run.
func (s *Store) DeleteExpiredRuns(ctx context.Context, status core.Status, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		DELETE FROM runs WHERE id IN (
			SELECT id FROM runs
			WHERE status = $1 AND completed_at IS NOT NULL AND completed_at < $2
			ORDER BY completed_at
			LIMIT $3
		)`,
		string(status), cutoff, batchSize,
	)
	if err != nil {
		return 0, core.StorageErr("delete expired runs", err)
	}
	return res.RowsAffected(), nil
}

// CountExpiredLogs counts log entries of one level older than the
// cutoff.
func (s *Store) CountExpiredLogs(ctx context.Context, level core.LogLevel, cutoff time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM run_logs WHERE level = $1 AND timestamp < $2`,
		string(level), cutoff,
	).Scan(&n)
	if err != nil {
		return 0, core.StorageErr("count expired logs", err)
	}
	return n, nil
}

// DeleteExpiredLogs deletes one batch of expired log entries.
func (s *Store) DeleteExpiredLogs(ctx context.Context, level core.LogLevel, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		DELETE FROM run_logs WHERE id IN (
			SELECT id FROM run_logs
			WHERE level = $1 AND timestamp < $2
			ORDER BY timestamp
			LIMIT $3
		)`,
		string(level), cutoff, batchSize,
	)
	if err != nil {
		return 0, core.StorageErr("delete expired logs", err)
	}
	return res.RowsAffected(), nil
}

// Artifacts with a per-row expires_at use it; the rest age out against
// the policy cutoff.
const expiredArtifactsPred = `(
	(expires_at IS NOT NULL AND expires_at < now())
	OR (expires_at IS NULL AND created_at < $1)
)`

// CountExpiredArtifacts counts artifacts past their expiry.
func (s *Store) CountExpiredArtifacts(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM artifacts WHERE `+expiredArtifactsPred, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, core.StorageErr("count expired artifacts", err)
	}
	return n, nil
}

// ListExpiredArtifacts returns one batch of expired artifact rows so
// the caller can delete their blobs before removing the rows.
func (s *Store) ListExpiredArtifacts(ctx context.Context, cutoff time.Time, batchSize int) ([]*core.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE `+expiredArtifactsPred+`
		ORDER BY created_at
		LIMIT $2`, cutoff, batchSize)
	if err != nil {
		return nil, core.StorageErr("list expired artifacts", err)
	}
	defer rows.Close()

	var artifacts []*core.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, core.StorageErr("scan expired artifact", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list expired artifacts", err)
	}
	return artifacts, nil
}

// DeleteArtifactRows removes artifact rows by id.
func (s *Store) DeleteArtifactRows(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, core.StorageErr("delete artifact rows", err)
	}
	return res.RowsAffected(), nil
}

// Version rows ranked beyond keepRecent per flow and older than the
// cutoff are prunable. The newest keepRecent rows per flow always stay.
const prunableVersionsQuery = `
	SELECT id FROM (
		SELECT id, created_at,
		       ROW_NUMBER() OVER (PARTITION BY flow_id ORDER BY created_at DESC) AS rank
		FROM flow_versions
	) ranked
	WHERE rank > $1 AND created_at < $2`

// CountPrunableFlowVersions counts version rows eligible for pruning.
func (s *Store) CountPrunableFlowVersions(ctx context.Context, keepRecent int, cutoff time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM (`+prunableVersionsQuery+`) prunable`,
		keepRecent, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, core.StorageErr("count prunable flow versions", err)
	}
	return n, nil
}

// DeletePrunableFlowVersions deletes one batch of prunable version rows.
func (s *Store) DeletePrunableFlowVersions(ctx context.Context, keepRecent int, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.pool.Exec(ctx,
		`DELETE FROM flow_versions WHERE id IN (`+prunableVersionsQuery+` LIMIT $3)`,
		keepRecent, cutoff, batchSize,
	)
	if err != nil {
		return 0, core.StorageErr("delete prunable flow versions", err)
	}
	return res.RowsAffected(), nil
}

// CountExpiredMetrics counts metric rows older than the cutoff.
func (s *Store) CountExpiredMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM metrics WHERE timestamp < $1`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, core.StorageErr("count expired metrics", err)
	}
	return n, nil
}

// DeleteExpiredMetrics deletes one batch of expired metric rows.
func (s *Store) DeleteExpiredMetrics(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		DELETE FROM metrics WHERE id IN (
			SELECT id FROM metrics
			WHERE timestamp < $1
			ORDER BY timestamp
			LIMIT $2
		)`, cutoff, batchSize)
	if err != nil {
		return 0, core.StorageErr("delete expired metrics", err)
	}
	return res.RowsAffected(), nil
}

// RetentionTableStats reports row counts and oldest rows per table.
func (s *Store) RetentionTableStats(ctx context.Context) ([]persistence.TableStats, error) {
	tables := []struct {
		name    string
		ordered string
	}{
		{"flows", "created_at"},
		{"flow_versions", "created_at"},
		{"runs", "started_at"},
		{"run_logs", "timestamp"},
		{"artifacts", "created_at"},
		{"metrics", "timestamp"},
		{"cleanup_audit", "started_at"},
	}

	stats := make([]persistence.TableStats, 0, len(tables))
	for _, t := range tables {
		st := persistence.TableStats{Table: t.name}
		query := fmt.Sprintf(`SELECT count(*), min(%s) FROM %s`, t.ordered, t.name)
		if err := s.pool.QueryRow(ctx, query).Scan(&st.Rows, &st.OldestAt); err != nil {
			return nil, core.StorageErr("collect table stats", err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}
