package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schema
}

// Migrate creates the tables and indexes if they do not exist.
// It is idempotent and safe to run on every deploy.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ProbeSchema checks that the tables the engine needs exist.
// It returns sql.ErrNoRows when the schema has not been applied.
func ProbeSchema(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx, queryProbeSchema).Scan(&n); err != nil {
		return err
	}
	if n < 3 {
		return sql.ErrNoRows
	}
	return nil
}
