package storage

import "database/sql"

// migrateV002 adds the detection run audit table.
func migrateV002(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detection_runs (
			id           TEXT PRIMARY KEY,
			record_id    TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			kind         TEXT NOT NULL CHECK (kind IN ('detection', 'refinement')),
			status       TEXT NOT NULL CHECK (status IN ('committed', 'failed', 'cancelled')),
			marker_count INTEGER NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			detail       TEXT NOT NULL DEFAULT '',
			started_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_record ON detection_runs(record_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON detection_runs(status)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
