package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/runnerr0/onset/internal/task"
)

// Execute implements the go-flags Commander interface for RefineAllCommand.
func (c *RefineAllCommand) Execute(args []string) error {
	ref, err := requireRecordArg(args, "refine-all")
	if err != nil {
		return err
	}

	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return c.executeWithStore(ctx, a, ref)
}

// executeWithStore refines every marker of ref using a provided app (used
// by tests). Estimates run in parallel inside one runner task; edits are
// committed one at a time in marker order, so each one is undoable on its
// own.
func (c *RefineAllCommand) executeWithStore(ctx context.Context, a *app, ref string) error {
	h, err := a.loadHistory(ctx, ref)
	if err != nil {
		return err
	}
	l := h.Ledger()
	sig := l.Signal()
	snap := l.Snapshot()
	opts := pickingOptions(a.cfg, c.PickingFlags)

	runner := task.New(h, task.WithLogger(a.logger))
	outcome, err := runTask(ctx, runner, task.RefineAll(sig, snap.CF, l.Markers(), opts, c.Jobs))
	if err != nil {
		return err
	}

	bg := context.WithoutCancel(ctx)
	var batch *task.Batch
	if outcome.Committed() {
		batch = outcome.Result.(*task.Batch)
		if batch.Edited > 0 {
			if err := a.save(bg, h); err != nil {
				return err
			}
		}
		a.recordRun(bg, l.RecordID(), "refinement", outcome, batch.Edited)
	} else {
		a.recordRun(bg, l.RecordID(), "refinement", outcome, 0)
		return outcome.Err
	}

	if c.globals.JSON {
		rows := make([]map[string]any, len(batch.Items))
		for i, it := range batch.Items {
			row := map[string]any{"position": i + 1, "marker": it.Marker.ID, "before": it.Before, "after": it.After}
			if it.Err != nil {
				row["skipped"] = it.Err.Error()
			}
			rows[i] = row
		}
		return printJSON(os.Stdout, map[string]any{"record": l.RecordID(), "edited": batch.Edited, "markers": rows})
	}

	for i, it := range batch.Items {
		if it.Err != nil {
			fmt.Printf("%-4d %-8s %10d  skipped: %v\n", i+1, shortID(it.Marker.ID), it.Before, it.Err)
			continue
		}
		fmt.Printf("%-4d %-8s %10d -> %-10d (%.3f s)\n", i+1, shortID(it.Marker.ID), it.Before, it.After, sig.Seconds(it.After))
	}
	fmt.Printf("Refined %d of %d marker(s) in %s\n", batch.Edited, len(batch.Items), outcome.Elapsed.Round(time.Millisecond))
	return nil
}
