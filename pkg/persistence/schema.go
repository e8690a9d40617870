package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build writes and expects.
const CurrentSchemaVersion = 1

// migrateSchema brings the database schema to the current version.
func migrateSchema(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if version == 0 {
		return createSchema(db)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, CurrentSchemaVersion)
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", v, err)
		}
		if err := setSchemaVersion(db, v); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", v, err)
		}
	}
	return nil
}

// runMigration applies one version step. New versions add cases here.
func runMigration(_ *sql.DB, version int) error {
	switch version {
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// createSchema creates all tables and indices for a fresh database.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Archived session documents, one JSON blob per session.
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			archived_at DATETIME NOT NULL,
			document TEXT NOT NULL
		)`,

		// Completed plan records.
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			summary TEXT,
			document TEXT NOT NULL
		)`,
	}
	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived_at)",
		"CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_plans_created ON plans(created_at)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// schemaVersion returns the highest applied schema version, 0 for a fresh
// database.
func schemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
