package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/runnerr0/onset/internal/record"
)

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("import requires exactly one file (or - for stdin)")
	}

	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.executeWithStore(context.Background(), a, args[0])
}

// executeWithStore runs the import against a provided app (used by tests).
func (c *ImportCommand) executeWithStore(ctx context.Context, a *app, path string) error {
	var r io.Reader
	name := c.Name
	if path == "-" {
		r = c.in
		if r == nil {
			r = os.Stdin
		}
		if name == "" {
			name = "stdin"
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open signal: %w", err)
		}
		defer f.Close()
		r = f
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}

	samples, err := readSignal(r)
	if err != nil {
		return err
	}
	rec, err := record.New(name, record.Signal{Samples: samples, SampleRate: c.Rate})
	if err != nil {
		return err
	}
	if err := a.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	a.logger.Info("record imported", slog.String("record", rec.ID), slog.Int("samples", len(samples)))

	if c.globals.JSON {
		return printJSON(os.Stdout, map[string]any{
			"id":          rec.ID,
			"name":        rec.Name,
			"samples":     rec.Signal.Len(),
			"sample_rate": rec.Signal.SampleRate,
			"duration":    rec.Signal.Duration(),
		})
	}

	fmt.Printf("Imported record %s\n", rec.ID)
	fmt.Printf("  Name: %s\n", rec.Name)
	fmt.Printf("  Samples: %s at %g Hz (%.2f s)\n",
		formatNumber(int64(rec.Signal.Len())), rec.Signal.SampleRate, rec.Signal.Duration())
	return nil
}
