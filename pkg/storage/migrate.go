package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Schema versions.
const (
	// SchemaVersion1 is the key/value table.
	SchemaVersion1 = 1
	// SchemaVersion2 adds kv.updated_at.
	SchemaVersion2 = 2

	CurrentSchemaVersion = SchemaVersion2
)

// ErrSchemaTooNew is returned when the database was written by a newer build.
var ErrSchemaTooNew = errors.New("storage: database schema is newer than this build")

var migrations = []struct {
	version int
	stmts   []string
}{
	{SchemaVersion1, []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
	}},
	{SchemaVersion2, []string{
		`ALTER TABLE kv ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
	}},
}

// SchemaVersion returns the applied schema version, 0 for a new database.
func SchemaVersion(ctx context.Context, q DBTX) (int, error) {
	var name string
	err := q.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_version'
	`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: failed to check schema_version table: %w", err)
	}

	var version int
	err = q.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to get schema version: %w", err)
	}
	return version, nil
}

// migrate applies every pending migration, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("storage: failed to create schema_version table: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, current, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m.version, m.stmts); err != nil {
			return fmt.Errorf("storage: migration to v%d failed: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}
