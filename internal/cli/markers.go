package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/runnerr0/onset/internal/record"
	"github.com/runnerr0/onset/internal/storage"
)

type runJSON struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	MarkerCount int    `json:"marker_count"`
	DurationMS  int64  `json:"duration_ms"`
	Detail      string `json:"detail,omitempty"`
	StartedAt   string `json:"started_at"`
}

// Execute implements the go-flags Commander interface for MarkersCommand.
func (c *MarkersCommand) Execute(args []string) error {
	ref, err := requireRecordArg(args, "markers")
	if err != nil {
		return err
	}

	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.executeWithStore(context.Background(), a, ref)
}

// executeWithStore prints markers of ref from a provided app (used by tests).
func (c *MarkersCommand) executeWithStore(ctx context.Context, a *app, ref string) error {
	id, err := a.store.ResolveRecord(ctx, ref)
	if err != nil {
		return err
	}
	rec, err := a.store.LoadRecord(ctx, id)
	if err != nil {
		return err
	}

	markers := rec.Markers
	if c.Sort != "" {
		field, err := record.ParseField(c.Sort)
		if err != nil {
			return err
		}
		markers = slices.Clone(markers)
		slices.SortStableFunc(markers, func(x, y *record.Marker) int {
			if c.Desc {
				return record.Compare(y, x, field)
			}
			return record.Compare(x, y, field)
		})
	}

	var runs []storage.Run
	if c.Runs {
		if runs, err = a.store.ListRuns(ctx, rec.ID, 10); err != nil {
			return err
		}
	}

	if c.globals.JSON {
		out := map[string]any{
			"record":  rec.ID,
			"name":    rec.Name,
			"markers": toMarkerJSON(markers, rec.Signal),
		}
		if c.Runs {
			out["runs"] = toRunJSON(runs)
		}
		return printJSON(os.Stdout, out)
	}

	fmt.Printf("%s (%s)\n", rec.Name, rec.ID)
	printMarkers(os.Stdout, markers, rec.Signal)
	if c.Runs {
		fmt.Println()
		if len(runs) == 0 {
			fmt.Println("No runs.")
		}
		for _, r := range runs {
			fmt.Printf("%s  %-10s %-9s %3d markers  %s",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.MarkerCount, r.Duration)
			if r.Detail != "" {
				fmt.Printf("  %s", r.Detail)
			}
			fmt.Println()
		}
	}
	return nil
}

func toRunJSON(runs []storage.Run) []runJSON {
	out := make([]runJSON, len(runs))
	for i, r := range runs {
		out[i] = runJSON{
			ID:          r.ID,
			Kind:        r.Kind,
			Status:      r.Status,
			MarkerCount: r.MarkerCount,
			DurationMS:  r.Duration.Milliseconds(),
			Detail:      r.Detail,
			StartedAt:   r.StartedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}
