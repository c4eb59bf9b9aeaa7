package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/core"
)

func TestDriverFor(t *testing.T) {
	driver, dsn := driverFor("postgres://u:p@localhost/db")
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgres://u:p@localhost/db", dsn)

	driver, dsn = driverFor("postgresql://localhost/db")
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgresql://localhost/db", dsn)

	driver, dsn = driverFor("sqlite:///tmp/x.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/tmp/x.db", dsn)

	driver, dsn = driverFor("/tmp/plain.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/tmp/plain.db", dsn)
}

func TestQueryAgainstSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "node.db")
	ctx := context.Background()

	out, err := execute(ctx, map[string]any{
		"connectionString": dsn,
		"query":            "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)",
	}, "")
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, []any{}, result["rows"])

	out, err = execute(ctx, map[string]any{
		"connectionString": dsn,
		"query":            "INSERT INTO users (name) VALUES (?), (?)",
		"params":           []any{"ada", "grace"},
	}, "")
	require.NoError(t, err)
	result = out.(map[string]any)
	assert.Equal(t, int64(2), result["rowCount"])

	out, err = execute(ctx, map[string]any{
		"connectionString": dsn,
		"query":            "SELECT id, name FROM users ORDER BY id",
	}, "")
	require.NoError(t, err)
	result = out.(map[string]any)
	assert.Equal(t, int64(2), result["rowCount"])
	assert.Equal(t, []any{"id", "name"}, result["fields"])

	rows := result["rows"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.Equal(t, "ada", first["name"])
}

func TestQueryUsesDefaultDSN(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "default.db")

	_, err := execute(context.Background(), map[string]any{
		"query": "CREATE TABLE t (n INTEGER)",
	}, dsn)
	require.NoError(t, err)

	out, err := execute(context.Background(), map[string]any{
		"query": "SELECT n FROM t",
	}, dsn)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.(map[string]any)["rowCount"])
}

func TestQueryValidation(t *testing.T) {
	_, err := execute(context.Background(), map[string]any{}, "")
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))

	_, err = execute(context.Background(), map[string]any{"query": "SELECT 1"}, "")
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
}

func TestQuerySyntaxError(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bad.db")
	_, err := execute(context.Background(), map[string]any{
		"connectionString": dsn,
		"query":            "SELEKT nope",
	}, "")
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeExecution, core.Classify(err))
}
