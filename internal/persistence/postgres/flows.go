package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

const flowColumns = "id, name, version, description, spec, tags, is_active, created_at, updated_at"

// CreateFlow inserts a new flow row.
func (s *Store) CreateFlow(ctx context.Context, flow *core.Flow) error {
	if flow.ID == "" {
		flow.ID = newID()
	}
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = flow.CreatedAt
	if flow.Tags == nil {
		flow.Tags = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO flows (`+flowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		flow.ID, flow.Name, flow.Version, flow.Description, []byte(flow.Spec),
		flow.Tags, flow.IsActive, flow.CreatedAt, flow.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return core.ErrFlowExists
	}
	if err != nil {
		return core.StorageErr("insert flow", err)
	}
	return nil
}

// GetFlow returns one flow by id.
func (s *Store) GetFlow(ctx context.Context, id string) (*core.Flow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id)
	flow, err := scanFlow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrFlowNotFound
	}
	if err != nil {
		return nil, core.StorageErr("select flow", err)
	}
	return flow, nil
}

// ListFlows returns flows matching the filters, newest first.
func (s *Store) ListFlows(ctx context.Context, opts ...persistence.ListFlowsOption) ([]*core.Flow, error) {
	var o persistence.ListFlowsOptions
	for _, opt := range opts {
		opt(&o)
	}

	var conds []string
	var args []any
	if o.Name != "" {
		args = append(args, o.Name)
		conds = append(conds, fmt.Sprintf("name = $%d", len(args)))
	}
	if o.Tag != "" {
		args = append(args, o.Tag)
		conds = append(conds, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	if o.Active != nil {
		args = append(args, *o.Active)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}

	query := `SELECT ` + flowColumns + ` FROM flows`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
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
		return nil, core.StorageErr("list flows", err)
	}
	defer rows.Close()

	var flows []*core.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, core.StorageErr("scan flow", err)
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list flows", err)
	}
	return flows, nil
}

// ListActiveFlows returns every active flow for webhook matching.
func (s *Store) ListActiveFlows(ctx context.Context) ([]*core.Flow, error) {
	return s.ListFlows(ctx, persistence.WithFlowActive(true))
}

// UpdateFlow applies a partial update, snapshotting the prior state into
// flow_versions when the spec changes.
func (s *Store) UpdateFlow(ctx context.Context, id string, upd persistence.FlowUpdate) (*core.Flow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, core.StorageErr("begin update", err)
	}
	defer rollback(ctx, tx)

	row := tx.QueryRow(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1 FOR UPDATE`, id)
	cur, err := scanFlow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrFlowNotFound
	}
	if err != nil {
		return nil, core.StorageErr("select flow for update", err)
	}

	if upd.Spec != nil {
		if err := insertFlowVersion(ctx, tx, &core.FlowVersion{
			FlowID:    cur.ID,
			Version:   cur.Version,
			Spec:      cur.Spec,
			CreatedBy: upd.UpdatedBy,
			Changelog: upd.Changelog,
		}); err != nil {
			return nil, err
		}
	}

	next := *cur
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Version != nil {
		next.Version = *upd.Version
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Spec != nil {
		next.Spec = upd.Spec
	}
	if upd.Tags != nil {
		next.Tags = upd.Tags
	}
	if upd.IsActive != nil {
		next.IsActive = *upd.IsActive
	}
	next.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE flows
		SET name = $2, version = $3, description = $4, spec = $5, tags = $6,
		    is_active = $7, updated_at = $8
		WHERE id = $1`,
		next.ID, next.Name, next.Version, next.Description, []byte(next.Spec),
		next.Tags, next.IsActive, next.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, core.ErrFlowExists
	}
	if err != nil {
		return nil, core.StorageErr("update flow", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, core.StorageErr("commit update", err)
	}
	return &next, nil
}

// DeleteFlow removes the flow; versions and runs cascade.
func (s *Store) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return core.StorageErr("delete flow", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrFlowNotFound
	}
	return nil
}

const versionColumns = "id, flow_id, version, spec, created_at, created_by, changelog"

// ListFlowVersions returns the version history of a flow, newest first.
func (s *Store) ListFlowVersions(ctx context.Context, flowID string) ([]*core.FlowVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+versionColumns+` FROM flow_versions
		WHERE flow_id = $1
		ORDER BY created_at DESC`, flowID)
	if err != nil {
		return nil, core.StorageErr("list flow versions", err)
	}
	defer rows.Close()

	var versions []*core.FlowVersion
	for rows.Next() {
		v, err := scanFlowVersion(rows)
		if err != nil {
			return nil, core.StorageErr("scan flow version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageErr("list flow versions", err)
	}
	return versions, nil
}

// GetFlowVersion returns one version row of a flow.
func (s *Store) GetFlowVersion(ctx context.Context, flowID, versionID string) (*core.FlowVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM flow_versions
		WHERE id = $1 AND flow_id = $2`, versionID, flowID)
	v, err := scanFlowVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrFlowVersionNotFound
	}
	if err != nil {
		return nil, core.StorageErr("select flow version", err)
	}
	return v, nil
}

// RollbackFlow restores a flow to the state captured by versionID. The
// pre-rollback state is snapshotted first, then the restore itself is
// documented, so the history reads forward without gaps.
func (s *Store) RollbackFlow(ctx context.Context, flowID, versionID string) (*core.Flow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, core.StorageErr("begin rollback", err)
	}
	defer rollback(ctx, tx)

	row := tx.QueryRow(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1 FOR UPDATE`, flowID)
	cur, err := scanFlow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrFlowNotFound
	}
	if err != nil {
		return nil, core.StorageErr("select flow for rollback", err)
	}

	row = tx.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM flow_versions
		WHERE id = $1 AND flow_id = $2`, versionID, flowID)
	target, err := scanFlowVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrFlowVersionNotFound
	}
	if err != nil {
		return nil, core.StorageErr("select rollback target", err)
	}

	if err := insertFlowVersion(ctx, tx, &core.FlowVersion{
		FlowID:    cur.ID,
		Version:   cur.Version,
		Spec:      cur.Spec,
		Changelog: fmt.Sprintf("state before rollback to version %s", target.Version),
	}); err != nil {
		return nil, err
	}
	if err := insertFlowVersion(ctx, tx, &core.FlowVersion{
		FlowID:    cur.ID,
		Version:   target.Version,
		Spec:      target.Spec,
		Changelog: fmt.Sprintf("rolled back to version %s", target.Version),
	}); err != nil {
		return nil, err
	}

	next := *cur
	next.Version = target.Version
	next.Spec = target.Spec
	next.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE flows SET version = $2, spec = $3, updated_at = $4 WHERE id = $1`,
		next.ID, next.Version, []byte(next.Spec), next.UpdatedAt,
	)
	if err != nil {
		return nil, core.StorageErr("restore flow", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, core.StorageErr("commit rollback", err)
	}
	return &next, nil
}

func insertFlowVersion(ctx context.Context, tx pgx.Tx, v *core.FlowVersion) error {
	if v.ID == "" {
		v.ID = newID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO flow_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.FlowID, v.Version, []byte(v.Spec), v.CreatedAt, v.CreatedBy, v.Changelog,
	)
	if err != nil {
		return core.StorageErr("insert flow version", err)
	}
	return nil
}

func scanFlow(row pgx.Row) (*core.Flow, error) {
	var flow core.Flow
	var spec []byte
	err := row.Scan(&flow.ID, &flow.Name, &flow.Version, &flow.Description, &spec,
		&flow.Tags, &flow.IsActive, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return nil, err
	}
	flow.Spec = spec
	return &flow, nil
}

func scanFlowVersion(row pgx.Row) (*core.FlowVersion, error) {
	var v core.FlowVersion
	var spec []byte
	err := row.Scan(&v.ID, &v.FlowID, &v.Version, &spec, &v.CreatedAt, &v.CreatedBy, &v.Changelog)
	if err != nil {
		return nil, err
	}
	v.Spec = spec
	return &v, nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// rollback is safe to defer past a successful commit; pgx reports the
// closed transaction and nothing else happens.
func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
