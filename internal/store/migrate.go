package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "processed_records",
		SQL: `
		CREATE TABLE IF NOT EXISTS processed_records (
			announcement_id TEXT PRIMARY KEY,
			title           TEXT NOT NULL DEFAULT '',
			url             TEXT NOT NULL DEFAULT '',
			first_seen_at   TEXT NOT NULL,
			completed_at    TEXT,
			status          TEXT,
			outcome         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_records_completed ON processed_records(completed_at);
		`,
	},
	{
		Version:     2,
		Description: "publish_results per platform",
		SQL: `
		CREATE TABLE IF NOT EXISTS publish_results (
			announcement_id TEXT NOT NULL REFERENCES processed_records(announcement_id) ON DELETE CASCADE,
			platform        TEXT NOT NULL,
			status          TEXT NOT NULL,
			failure_kind    TEXT NOT NULL DEFAULT '',
			post_id         TEXT NOT NULL DEFAULT '',
			post_url        TEXT NOT NULL DEFAULT '',
			error           TEXT NOT NULL DEFAULT '',
			attempts        INTEGER NOT NULL DEFAULT 0,
			elapsed_ms      INTEGER NOT NULL DEFAULT 0,
			position        INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (announcement_id, platform)
		);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d statement failed: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}

		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func splitSQL(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetSchemaVersion returns the current schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err != nil {
		return 0, nil
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
