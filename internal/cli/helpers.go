package cli

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/onset/internal/arpick"
	"github.com/runnerr0/onset/internal/config"
	"github.com/runnerr0/onset/internal/ledger"
	"github.com/runnerr0/onset/internal/logging"
	"github.com/runnerr0/onset/internal/metrics"
	"github.com/runnerr0/onset/internal/record"
	"github.com/runnerr0/onset/internal/storage"
	"github.com/runnerr0/onset/internal/task"
)

// app is everything a command needs once flags are parsed.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.SQLiteStore
	db     *sql.DB
	dbPath string

	closers []func()
}

// Close stops the metrics server and releases the store, db and log file.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openApp loads config, builds the logger, opens the store and starts the
// optional metrics endpoint.
func openApp(globals *GlobalFlags) (*app, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(cfg.Logging, globals.Verbose)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { logCloser.Close() })

	a.dbPath, err = resolveDBPath(globals, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, a.db, err = openStore(a.dbPath, cfg.Storage.SQLiteJournalMode)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		a.store.Close()
		a.db.Close()
	})

	addr := cfg.Metrics.Addr
	if globals.MetricsAddr != "" {
		addr = globals.MetricsAddr
	}
	if addr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Warn("metrics server stopped", slog.Any("error", err))
			}
		}()
		a.closers = append(a.closers, cancel)
	}

	return a, nil
}

// loadConfig reads --config when given, else the default config file,
// falling back to defaults when the default file cannot be created.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals.Config != "" {
		cfg, err := config.Load(globals.Config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadOrCreate()
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return nil, err
		}
		return config.DefaultConfig(), nil
	}
	return cfg, nil
}

// resolveDBPath determines the SQLite database file path.
// Priority: --db flag > config file > default config.
func resolveDBPath(globals *GlobalFlags, cfg *config.Config) (string, error) {
	if globals.DBPath != "" {
		return config.ExpandPath(globals.DBPath)
	}
	return cfg.DBPath()
}

// openStore opens the database at dbPath, runs migrations, and returns a
// ready-to-use store and the underlying *sql.DB.
func openStore(dbPath, journalMode string) (*storage.SQLiteStore, *sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db, journalMode)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	return store, db, nil
}

// readSignal parses samples from text: numbers separated by whitespace or
// commas, with # starting a comment that runs to the end of the line.
func readSignal(r io.Reader) ([]float64, error) {
	var samples []float64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		})
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid sample %q", line, f)
			}
			samples = append(samples, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read signal: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", record.ErrInvalidSignal)
	}
	return samples, nil
}

// requireRecordArg returns the single record reference in args.
func requireRecordArg(args []string, command string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s requires exactly one record ID or name", command)
	}
	return args[0], nil
}

// loadHistory resolves ref and opens a ledger history over the stored
// record, configured from cfg.
func (a *app) loadHistory(ctx context.Context, ref string) (*ledger.History, error) {
	id, err := a.store.ResolveRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	rec, err := a.store.LoadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	l := ledger.New(rec, a.logger)
	return ledger.NewHistory(l,
		ledger.WithCapacity(a.cfg.History.Capacity),
		ledger.WithLogger(a.logger),
	), nil
}

// save persists a snapshot of the ledger's record.
func (a *app) save(ctx context.Context, h *ledger.History) error {
	if err := a.store.SaveRecord(ctx, h.Ledger().Snapshot()); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// recordRun writes the audit row for a finished task. Failures are logged,
// never returned; the ledger outcome is what matters to the caller.
func (a *app) recordRun(ctx context.Context, recordID, kind string, o task.Outcome, markers int) {
	run := &storage.Run{
		RecordID:    recordID,
		Kind:        kind,
		Status:      runStatus(o.Err),
		MarkerCount: markers,
		Duration:    o.Elapsed,
		StartedAt:   time.Now().Add(-o.Elapsed),
	}
	if o.Err != nil {
		run.Detail = o.Err.Error()
	}
	if err := a.store.RecordRun(ctx, run); err != nil {
		a.logger.Warn("could not record run", slog.String("record", recordID), slog.Any("error", err))
	}
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return storage.RunCommitted
	case errors.Is(err, task.ErrCancelled):
		return storage.RunCancelled
	default:
		return storage.RunFailed
	}
}

// runTask starts compute and waits for its outcome. When ctx ends first
// the task is cancelled and the cancellation outcome is returned.
func runTask(ctx context.Context, r *task.Runner, compute task.Compute) (task.Outcome, error) {
	outcomes := make(chan task.Outcome, 1)
	if _, err := r.Start(ctx, compute, func(o task.Outcome) { outcomes <- o }); err != nil {
		return task.Outcome{}, err
	}
	select {
	case o := <-outcomes:
		return o, nil
	case <-ctx.Done():
		r.Cancel()
		return <-outcomes, nil
	}
}

// pickingOptions merges command-line overrides into the configured
// estimator options.
func pickingOptions(cfg *config.Config, f PickingFlags) arpick.Options {
	opts := arpick.Options{
		Order:  cfg.Picking.AROrder,
		Step:   cfg.Picking.Step,
		Margin: cfg.Picking.MarginSeconds,
	}
	if f.Order > 0 {
		opts.Order = f.Order
	}
	if f.Step > 0 {
		opts.Step = f.Step
	}
	if f.Margin > 0 {
		opts.Margin = f.Margin
	}
	return opts
}

// findMarker resolves a marker by ID, unique ID prefix or 1-based position.
func findMarker(l *ledger.Ledger, ref string) (*record.Marker, int, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		m, ok := l.At(n - 1)
		if !ok {
			return nil, 0, fmt.Errorf("no marker at position %d (have %d)", n, l.Len())
		}
		return m, n - 1, nil
	}
	if m, i := l.Find(ref); m != nil {
		return m, i, nil
	}
	var (
		found *record.Marker
		at    int
	)
	for i, m := range l.Markers() {
		if strings.HasPrefix(m.ID, ref) {
			if found != nil {
				return nil, 0, fmt.Errorf("marker prefix %q is ambiguous", ref)
			}
			found, at = m, i
		}
	}
	if found == nil {
		return nil, 0, fmt.Errorf("marker %q not found", ref)
	}
	return found, at, nil
}

// markerJSON is the JSON shape of a marker.
type markerJSON struct {
	Position int     `json:"position"`
	ID       string  `json:"id"`
	Index    int     `json:"index"`
	Seconds  float64 `json:"seconds"`
	CFValue  float64 `json:"cf_value"`
	Mode     string  `json:"mode"`
	Method   string  `json:"method"`
	Label    string  `json:"label,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

func toMarkerJSON(markers []*record.Marker, sig record.Signal) []markerJSON {
	out := make([]markerJSON, len(markers))
	for i, m := range markers {
		out[i] = markerJSON{
			Position: i + 1,
			ID:       m.ID,
			Index:    m.Time,
			Seconds:  sig.Seconds(m.Time),
			CFValue:  m.CFValue,
			Mode:     string(m.Mode),
			Method:   string(m.Method),
			Label:    m.Label,
			Comment:  m.Comment,
		}
	}
	return out
}

// printMarkers writes a marker table to w.
func printMarkers(w io.Writer, markers []*record.Marker, sig record.Signal) {
	if len(markers) == 0 {
		fmt.Fprintln(w, "No markers.")
		return
	}
	fmt.Fprintf(w, "%-4s %-8s %10s %10s %-9s %-8s %s\n", "#", "ID", "INDEX", "SECONDS", "MODE", "METHOD", "LABEL")
	for i, m := range markers {
		label := m.Label
		if m.Comment != "" {
			label += " (" + m.Comment + ")"
		}
		fmt.Fprintf(w, "%-4d %-8s %10d %10.3f %-9s %-8s %s\n",
			i+1, shortID(m.ID), m.Time, sig.Seconds(m.Time), m.Mode, m.Method, label)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
