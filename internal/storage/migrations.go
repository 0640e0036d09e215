package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// SQLiteMigrations contains the SQLite schema migrations in order
var SQLiteMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      sqliteV1Up,
		Down:    sqliteV1Down,
	},
	{
		Version: "1.1.0",
		Up:      sqliteV11Up,
		Down:    `DROP TABLE IF EXISTS refresh_runs;`,
	},
}

const sqliteV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- One row per documentation page; list columns hold JSON arrays
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    concept TEXT NOT NULL DEFAULT '',
    related_concepts TEXT NOT NULL DEFAULT '[]',
    code_examples TEXT NOT NULL DEFAULT '[]',
    difficulty TEXT NOT NULL DEFAULT 'intermediate',
    tags TEXT NOT NULL DEFAULT '[]',
    embedding BLOB,
    last_updated TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_concept ON documents(concept);
CREATE INDEX IF NOT EXISTS idx_documents_difficulty ON documents(difficulty);

-- One row per fenced code block
CREATE TABLE IF NOT EXISTS code_metadata (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    category TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    runes TEXT NOT NULL DEFAULT '[]',
    functions TEXT NOT NULL DEFAULT '[]',
    components TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_code_metadata_document ON code_metadata(document_id);
CREATE INDEX IF NOT EXISTS idx_code_metadata_category ON code_metadata(category);
`

const sqliteV1Down = `
DROP TABLE IF EXISTS code_metadata;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS schema_version;
`

const sqliteV11Up = `
CREATE TABLE IF NOT EXISTS refresh_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    fetched INTEGER NOT NULL DEFAULT 0,
    indexed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0
);
`

// pendingMigrations returns the migrations newer than current, in order
func pendingMigrations(current string, all []Migration) ([]Migration, error) {
	currentVersion := semver.MustParse("0.0.0")
	if current != "" {
		v, err := semver.NewVersion(current)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", current, err)
		}
		currentVersion = v
	}

	var pending []Migration
	for _, migration := range all {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if currentVersion.LessThan(migrationVersion) {
			pending = append(pending, migration)
			currentVersion = migrationVersion
		}
	}
	return pending, nil
}

// schemaVersion reads the newest applied version, or "" on a fresh database
func schemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var newest *semver.Version
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if newest == nil || v.GreaterThan(newest) {
			newest = v
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if newest == nil {
		return "", nil
	}
	return newest.Original(), nil
}

// ApplyMigrations runs all pending SQLite migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(current, SQLiteMigrations)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the most recent SQLite migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current == "" {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range SQLiteMigrations {
		if SQLiteMigrations[i].Version == current {
			migration = &SQLiteMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", current, err)
	}

	// The first migration drops schema_version itself
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", current); err != nil && migration.Version != SQLiteMigrations[0].Version {
		return fmt.Errorf("failed to remove migration record %s: %w", current, err)
	}

	return nil
}
