package store

import (
	"database/sql"
	"fmt"
	"time"
)

const schemaVersion = 1

// migrate applies pending schema migrations, tracked by a numbered,
// idempotent function against schema_meta, in the style of the teacher's
// numbered migration files: each creates its tables and indexes with
// IF NOT EXISTS, so re-running a migration against an already-migrated
// database is a no-op.
func migrate(db *sql.DB) error {
	if err := migrateSchemaMetaTable(db); err != nil {
		return err
	}

	current, err := currentSchemaVersion(db)
	if err != nil {
		return err
	}

	if current < 1 {
		if err := migrateInitialSchema(db); err != nil {
			return err
		}
		if err := recordSchemaVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

func migrateSchemaMetaTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_meta table: %w", err)
	}
	return nil
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_meta`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(version.Int64), nil
}

func recordSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO schema_meta (version, applied_at) VALUES (?, ?)`,
		version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// migrateInitialSchema creates snapshots, alert_state, and deliveries, each
// with IF NOT EXISTS so it is safe to re-run.
func migrateInitialSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_name TEXT NOT NULL,
			collected_at TEXT NOT NULL,
			collect_status TEXT NOT NULL,
			row_count INTEGER,
			latest_timestamp TEXT,
			metrics_json TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			duration_ms INTEGER,
			error_code TEXT,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_source_time ON snapshots(source_name, collected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_source_status_time ON snapshots(source_name, collect_status, collected_at DESC)`,
		`CREATE TABLE IF NOT EXISTS alert_state (
			source_name TEXT NOT NULL,
			target_name TEXT NOT NULL,
			notified_status TEXT NOT NULL,
			notified_reason_hash TEXT NOT NULL,
			last_change_at TEXT NOT NULL,
			last_sent_at TEXT,
			cooldown_until TEXT,
			PRIMARY KEY (source_name, target_name)
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_name TEXT NOT NULL,
			target_name TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			success INTEGER NOT NULL,
			status_code INTEGER,
			latency_ms INTEGER,
			error_message TEXT,
			attempts INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_source_time ON deliveries(source_name, sent_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying initial schema: %w", err)
		}
	}
	return nil
}
