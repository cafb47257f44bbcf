package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/onset/internal/storage"
)

type recordJSON struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SampleRate float64 `json:"sample_rate"`
	Samples    int     `json:"samples"`
	Duration   float64 `json:"duration"`
	Markers    int     `json:"markers"`
	HasCF      bool    `json:"has_cf"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// Execute implements the go-flags Commander interface for ListCommand.
func (c *ListCommand) Execute(args []string) error {
	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.executeWithStore(context.Background(), a)
}

// executeWithStore lists records from a provided app (used by tests).
func (c *ListCommand) executeWithStore(ctx context.Context, a *app) error {
	records, err := a.store.ListRecords(ctx, c.Limit, c.Offset)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	if c.globals.JSON {
		return printJSON(os.Stdout, toRecordJSON(records))
	}

	if len(records) == 0 {
		fmt.Println("No records. Use 'onset import' to add one.")
		return nil
	}
	fmt.Printf("%-8s %-20s %10s %9s %7s %-3s %s\n", "ID", "NAME", "SAMPLES", "SECONDS", "MARKERS", "CF", "CREATED")
	for _, r := range records {
		cf := "no"
		if r.HasCF {
			cf = "yes"
		}
		fmt.Printf("%-8s %-20s %10s %9.2f %7d %-3s %s\n",
			shortID(r.ID), r.Name, formatNumber(int64(r.SampleCount)), r.Duration(),
			r.MarkerCount, cf, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func toRecordJSON(records []storage.RecordSummary) []recordJSON {
	out := make([]recordJSON, len(records))
	for i, r := range records {
		out[i] = recordJSON{
			ID:         r.ID,
			Name:       r.Name,
			SampleRate: r.SampleRate,
			Samples:    r.SampleCount,
			Duration:   r.Duration(),
			Markers:    r.MarkerCount,
			HasCF:      r.HasCF,
			CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}
