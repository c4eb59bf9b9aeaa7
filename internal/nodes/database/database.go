// Package database implements the nodes.database.query handler for
// PostgreSQL and SQLite connection strings.
package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type queryConfig struct {
	ConnectionString string `mapstructure:"connectionString"`
	Query            string `mapstructure:"query"`
	Params           []any  `mapstructure:"params"`
}

// Definition returns the nodes.database.query handler. defaultDSN is
// used when the step omits connectionString.
func Definition(defaultDSN string) *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.database.query",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "connectionString", Type: "string", Description: "postgres:// or sqlite file DSN; defaults to the platform database"},
			{Name: "query", Type: "string", Required: true, Description: "SQL statement with positional placeholders"},
			{Name: "params", Type: "array", Description: "Positional query parameters"},
		},
		Handler: func(ctx context.Context, params map[string]any, meta bus.Meta) (any, error) {
			return execute(ctx, params, defaultDSN)
		},
	}
}

func execute(ctx context.Context, params map[string]any, defaultDSN string) (any, error) {
	var cfg queryConfig
	if err := decodeConfig(params, &cfg); err != nil {
		return nil, core.Validationf("invalid database.query params: %v", err)
	}
	if cfg.Query == "" {
		return nil, core.Validationf("database.query requires query")
	}
	dsn := cfg.ConnectionString
	if dsn == "" {
		dsn = defaultDSN
	}
	if dsn == "" {
		return nil, core.Validationf("database.query requires connectionString")
	}

	driver, dsn := driverFor(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, core.Executionf("open %s connection: %v", driver, err)
	}
	defer func() { _ = db.Close() }()

	if isSelectQuery(cfg.Query) {
		return runQuery(ctx, db, cfg.Query, cfg.Params)
	}
	return runExec(ctx, db, cfg.Query, cfg.Params)
}

// driverFor routes a DSN to a registered driver. Anything that is not
// postgres is treated as a SQLite path.
func driverFor(dsn string) (string, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	}
	return "sqlite", dsn
}

func runQuery(ctx context.Context, db *sql.DB, query string, params []any) (any, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, core.Executionf("query failed: %v", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, core.Executionf("read columns: %v", err)
	}

	results := []any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.Executionf("scan row: %v", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Executionf("row iteration: %v", err)
	}

	fields := make([]any, len(columns))
	for i, c := range columns {
		fields[i] = c
	}
	return map[string]any{
		"rows":     results,
		"rowCount": int64(len(results)),
		"fields":   fields,
	}, nil
}

func runExec(ctx context.Context, db *sql.DB, query string, params []any) (any, error) {
	res, err := db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, core.Executionf("exec failed: %v", err)
	}
	affected, _ := res.RowsAffected()
	return map[string]any{
		"rows":     []any{},
		"rowCount": affected,
		"fields":   []any{},
	}, nil
}

// normalize converts driver values into JSON-friendly shapes.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return v
}

func isSelectQuery(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(trimmed, "SELECT") ||
		strings.HasPrefix(trimmed, "WITH") ||
		strings.HasPrefix(trimmed, "TABLE") ||
		strings.HasPrefix(trimmed, "VALUES") ||
		strings.HasPrefix(trimmed, "PRAGMA")
}

func decodeConfig(dat map[string]any, cfg *queryConfig) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return md.Decode(dat)
}
