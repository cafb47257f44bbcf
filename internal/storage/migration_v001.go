package storage

import "database/sql"

// migrateV001 creates records and their ordered markers. Every statement
// uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			sample_rate  REAL NOT NULL CHECK (sample_rate > 0),
			sample_count INTEGER NOT NULL,
			samples      BLOB NOT NULL,
			cf           BLOB,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS markers (
			id         TEXT PRIMARY KEY,
			record_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			position   INTEGER NOT NULL,
			time_index INTEGER NOT NULL CHECK (time_index >= 0),
			cf_value   REAL NOT NULL DEFAULT 0,
			mode       TEXT NOT NULL CHECK (mode IN ('manual', 'automatic')),
			method     TEXT NOT NULL CHECK (method IN ('stalta', 'ampa', 'takanami', 'other')),
			label      TEXT NOT NULL DEFAULT '',
			comment    TEXT NOT NULL DEFAULT '',
			UNIQUE(record_id, position)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_records_name      ON records(name)`,
		`CREATE INDEX IF NOT EXISTS idx_records_created   ON records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_markers_record    ON markers(record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_markers_time      ON markers(record_id, time_index)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
