package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/refluxhq/reflux/internal/core"
)

const artifactColumns = "id, run_id, step_id, key, size_bytes, content_type, " +
	"storage_backend, etag, created_at, expires_at"

// CreateArtifact inserts an artifact metadata row.
func (s *Store) CreateArtifact(ctx context.Context, artifact *core.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = newID()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		artifact.ID, artifact.RunID, artifact.StepID, artifact.Key, artifact.SizeBytes,
		artifact.ContentType, artifact.StorageBackend, artifact.ETag,
		artifact.CreatedAt, artifact.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return core.Validationf("artifact key %q already exists", artifact.Key)
	}
	if err != nil {
		return core.StorageErr("insert artifact", err)
	}
	return nil
}

// GetArtifact returns one artifact row by id.
func (s *Store) GetArtifact(ctx context.Context, id string) (*core.Artifact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	artifact, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NotFoundf("artifact not found")
	}
	if err != nil {
		return nil, core.StorageErr("select artifact", err)
	}
	return artifact, nil
}

// ListRunArtifacts returns the artifacts recorded for a run.
func (s *Store) ListRunArtifacts(ctx context.Context, runID string) ([]*core.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE run_id = $1
		ORDER BY created_at`, runID)
	if err != nil {
		return nil, core.StorageErr("list artifacts", err)
	}
	defer rows.Close()

	var artifacts []*core.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, core.StorageErr("scan artifact", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list artifacts", err)
	}
	return artifacts, nil
}

// DeleteArtifact removes one artifact row.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	res, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return core.StorageErr("delete artifact", err)
	}
	if res.RowsAffected() == 0 {
		return core.NotFoundf("artifact not found")
	}
	return nil
}

func scanArtifact(row pgx.Row) (*core.Artifact, error) {
	var a core.Artifact
	err := row.Scan(&a.ID, &a.RunID, &a.StepID, &a.Key, &a.SizeBytes, &a.ContentType,
		&a.StorageBackend, &a.ETag, &a.CreatedAt, &a.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
