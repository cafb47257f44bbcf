package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/onset/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string            `json:"version"`
	DatabasePath      string            `json:"database_path"`
	DatabaseSizeBytes int64             `json:"database_size_bytes"`
	SchemaVersion     int               `json:"schema_version"`
	TotalRecords      int64             `json:"total_records"`
	TotalMarkers      int64             `json:"total_markers"`
	TotalRuns         int64             `json:"total_runs"`
	OldestRecord      string            `json:"oldest_record,omitempty"`
	NewestRecord      string            `json:"newest_record,omitempty"`
	RunsByStatus      []statusCountJSON `json:"runs_by_status"`
	Picking           pickingJSON       `json:"picking"`
	HistoryCapacity   int               `json:"history_capacity"`
}

type statusCountJSON struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type pickingJSON struct {
	Order  int     `json:"ar_order"`
	Step   int     `json:"step"`
	Margin float64 `json:"margin_seconds"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.executeWithStore(context.Background(), a)
}

// executeWithStore runs status against a provided app (for testing).
func (c *StatusCommand) executeWithStore(ctx context.Context, a *app) error {
	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	schema, err := storage.NewMigrationRunner(a.db, a.cfg.Storage.SQLiteJournalMode).Version()
	if err != nil {
		return err
	}

	dbSize := getDatabaseSize(a.dbPath, stats)

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(a, stats, dbSize, schema)
	}
	return c.printStatusHuman(a, stats, dbSize, schema)
}

func (c *StatusCommand) printStatusHuman(a *app, stats *storage.Stats, dbSize int64, schema int) error {
	fmt.Println("Onset Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s, schema v%d)\n", a.dbPath, formatBytes(dbSize), schema)
	fmt.Printf("Records:       %s\n", formatNumber(stats.TotalRecords))
	fmt.Printf("Markers:       %s\n", formatNumber(stats.TotalMarkers))
	fmt.Printf("Runs:          %s\n", formatNumber(stats.TotalRuns))

	// Time range
	if stats.TotalRecords > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestRecord.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestRecord.Local().Format("2006-01-02"))
	}

	if len(stats.RunsByStatus) > 0 {
		fmt.Println()
		fmt.Println("Runs by Status:")
		for _, s := range stats.RunsByStatus {
			fmt.Printf("  %-12s %s\n", s.Status, formatNumber(s.Count))
		}
	}

	fmt.Println()
	fmt.Printf("Picking:       AR order %d, step %d, margin %gs\n",
		a.cfg.Picking.AROrder, a.cfg.Picking.Step, a.cfg.Picking.MarginSeconds)
	fmt.Printf("Detection:     STA %gs / LTA %gs, threshold %g\n",
		a.cfg.Detection.STASeconds, a.cfg.Detection.LTASeconds, a.cfg.Detection.Threshold)
	if a.cfg.History.Capacity > 0 {
		fmt.Printf("Undo history:  %d commands\n", a.cfg.History.Capacity)
	} else {
		fmt.Println("Undo history:  unbounded")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(a *app, stats *storage.Stats, dbSize int64, schema int) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      a.dbPath,
		DatabaseSizeBytes: dbSize,
		SchemaVersion:     schema,
		TotalRecords:      stats.TotalRecords,
		TotalMarkers:      stats.TotalMarkers,
		TotalRuns:         stats.TotalRuns,
		RunsByStatus:      make([]statusCountJSON, len(stats.RunsByStatus)),
		Picking: pickingJSON{
			Order:  a.cfg.Picking.AROrder,
			Step:   a.cfg.Picking.Step,
			Margin: a.cfg.Picking.MarginSeconds,
		},
		HistoryCapacity: a.cfg.History.Capacity,
	}

	if stats.TotalRecords > 0 {
		out.OldestRecord = stats.OldestRecord.UTC().Format(time.RFC3339)
		out.NewestRecord = stats.NewestRecord.UTC().Format(time.RFC3339)
	}

	for i, s := range stats.RunsByStatus {
		out.RunsByStatus[i] = statusCountJSON{Status: s.Status, Count: s.Count}
	}

	return printJSON(os.Stdout, out)
}

// getDatabaseSize returns the database file size in bytes. For in-memory
// databases it falls back to the page count reported by SQLite.
func getDatabaseSize(dbPath string, stats *storage.Stats) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}
	return stats.DatabaseSizeBytes
}
