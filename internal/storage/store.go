package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/onset/internal/record"
)

// ErrNotFound is returned when a record or run does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for onset data operations.
type Store interface {
	SaveRecord(ctx context.Context, rec *record.Record) error
	LoadRecord(ctx context.Context, id string) (*record.Record, error)
	ResolveRecord(ctx context.Context, ref string) (string, error)
	ListRecords(ctx context.Context, limit, offset int) ([]RecordSummary, error)
	DeleteRecord(ctx context.Context, id string) error
	RecordRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, recordID string, limit int) ([]Run, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	getRecord    *sql.Stmt
	getMarkers   *sql.Stmt
	deleteRecord *sql.Stmt
	insertRun    *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getRecord, err = s.db.Prepare(`
		SELECT id, name, sample_rate, samples, cf, created_at, updated_at
		FROM records WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.getMarkers, err = s.db.Prepare(`
		SELECT id, time_index, cf_value, mode, method, label, comment
		FROM markers WHERE record_id = ? ORDER BY position
	`)
	if err != nil {
		return err
	}

	s.deleteRecord, err = s.db.Prepare(`DELETE FROM records WHERE id = ?`)
	if err != nil {
		return err
	}

	s.insertRun, err = s.db.Prepare(`
		INSERT INTO detection_runs (id, record_id, kind, status, marker_count, duration_ms, detail, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// timestampLayout has fixed-width fractions so stored values sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// SaveRecord writes the record and replaces its marker sequence in a single
// transaction. Marker order is kept in the position column.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *record.Record) error {
	if err := rec.Signal.Validate(); err != nil {
		return err
	}
	samples, err := encodeVector(rec.Signal.Samples)
	if err != nil {
		return err
	}
	cf, err := encodeVector(rec.CF)
	if err != nil {
		return err
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, name, sample_rate, sample_count, samples, cf, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sample_rate = excluded.sample_rate,
			sample_count = excluded.sample_count,
			samples = excluded.samples,
			cf = excluded.cf,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Name, rec.Signal.SampleRate, rec.Signal.Len(), samples, cf,
		formatTimestamp(rec.CreatedAt), formatTimestamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM markers WHERE record_id = ?", rec.ID); err != nil {
		return fmt.Errorf("clear markers: %w", err)
	}

	for i, m := range rec.Markers {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO markers (id, record_id, position, time_index, cf_value, mode, method, label, comment)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, rec.ID, i, m.Time, m.CFValue, string(m.Mode), string(m.Method), m.Label, m.Comment,
		)
		if err != nil {
			return fmt.Errorf("insert marker %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// LoadRecord retrieves a record with its signal, CF and ordered markers.
func (s *SQLiteStore) LoadRecord(ctx context.Context, id string) (*record.Record, error) {
	var (
		rec                    record.Record
		samples, cf            []byte
		createdStr, updatedStr string
	)
	err := s.getRecord.QueryRowContext(ctx, id).Scan(
		&rec.ID, &rec.Name, &rec.Signal.SampleRate, &samples, &cf, &createdStr, &updatedStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	if rec.Signal.Samples, err = decodeVector(samples); err != nil {
		return nil, fmt.Errorf("record %s samples: %w", id, err)
	}
	if rec.CF, err = decodeVector(cf); err != nil {
		return nil, fmt.Errorf("record %s cf: %w", id, err)
	}
	rec.CreatedAt, _ = parseTimestamp(createdStr)
	rec.UpdatedAt, _ = parseTimestamp(updatedStr)

	rows, err := s.getMarkers.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("query markers: %w", err)
	}
	defer rows.Close()

	rec.Markers = []*record.Marker{}
	for rows.Next() {
		var (
			m            record.Marker
			mode, method string
		)
		if err := rows.Scan(&m.ID, &m.Time, &m.CFValue, &mode, &method, &m.Label, &m.Comment); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		m.Mode, m.Method = record.Mode(mode), record.Method(method)
		rec.Markers = append(rec.Markers, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &rec, nil
}

// ResolveRecord maps a record ID, unique ID prefix or exact name to an ID.
// Names that match several records resolve to the most recent one.
func (s *SQLiteStore) ResolveRecord(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty record reference: %w", ErrNotFound)
	}

	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM records WHERE id = ?", ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve record: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM records WHERE name = ? ORDER BY created_at DESC LIMIT 1", ref,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve record: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM records WHERE id LIKE ? || '%' LIMIT 2", ref)
	if err != nil {
		return "", fmt.Errorf("resolve record: %w", err)
	}
	defer rows.Close()
	var matches []string
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan record id: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("record %q: %w", ref, ErrNotFound)
	default:
		return "", fmt.Errorf("record prefix %q is ambiguous", ref)
	}
}

// ListRecords returns record summaries, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, limit, offset int) ([]RecordSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.sample_rate, r.sample_count, r.cf IS NOT NULL,
		       r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM markers m WHERE m.record_id = r.id)
		FROM records r
		ORDER BY r.created_at DESC, r.id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	summaries := []RecordSummary{}
	for rows.Next() {
		var (
			r                      RecordSummary
			createdStr, updatedStr string
		)
		if err := rows.Scan(
			&r.ID, &r.Name, &r.SampleRate, &r.SampleCount, &r.HasCF,
			&createdStr, &updatedStr, &r.MarkerCount,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.CreatedAt, _ = parseTimestamp(createdStr)
		r.UpdatedAt, _ = parseTimestamp(updatedStr)
		summaries = append(summaries, r)
	}

	return summaries, rows.Err()
}

// DeleteRecord removes a record by ID. Markers and runs are cascade-deleted
// by the schema.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.deleteRecord.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	return nil
}

// RecordRun appends an entry to the run audit. ID and StartedAt are filled
// in when empty.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := s.insertRun.ExecContext(ctx,
		run.ID, run.RecordID, run.Kind, run.Status, run.MarkerCount,
		run.Duration.Milliseconds(), run.Detail, formatTimestamp(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs of a record, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, recordID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, kind, status, marker_count, duration_ms, detail, started_at
		FROM detection_runs
		WHERE record_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r          Run
			durationMS int64
			startedStr string
		)
		if err := rows.Scan(
			&r.ID, &r.RecordID, &r.Kind, &r.Status, &r.MarkerCount,
			&durationMS, &r.Detail, &startedStr,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.StartedAt, _ = parseTimestamp(startedStr)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// PurgeAll deletes all records, markers and runs.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM detection_runs",
		"DELETE FROM markers",
		"DELETE FROM records",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM records", &stats.TotalRecords},
		{"SELECT COUNT(*) FROM markers", &stats.TotalMarkers},
		{"SELECT COUNT(*) FROM detection_runs", &stats.TotalRuns},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count (%s): %w", c.query, err)
		}
	}

	// Oldest and newest (handle empty DB)
	if stats.TotalRecords > 0 {
		var oldestStr, newestStr string
		err := s.db.QueryRowContext(ctx, "SELECT MIN(created_at), MAX(created_at) FROM records").Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("record time range: %w", err)
		}
		stats.OldestRecord, _ = parseTimestamp(oldestStr)
		stats.NewestRecord, _ = parseTimestamp(newestStr)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	stats.DatabaseSizeBytes = pageCount * pageSize

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) AS cnt FROM detection_runs GROUP BY status ORDER BY cnt DESC, status",
	)
	if err != nil {
		return nil, fmt.Errorf("runs by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		stats.RunsByStatus = append(stats.RunsByStatus, sc)
	}

	return stats, rows.Err()
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.getRecord, s.getMarkers, s.deleteRecord, s.insertRun,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
