package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/runnerr0/onset/internal/arpick"
	"github.com/runnerr0/onset/internal/detect"
	"github.com/runnerr0/onset/internal/ledger"
	"github.com/runnerr0/onset/internal/task"
)

// Execute implements the go-flags Commander interface for DetectCommand.
func (c *DetectCommand) Execute(args []string) error {
	ref, err := requireRecordArg(args, "detect")
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

// detector builds the STA/LTA detector from config plus flag overrides.
func (c *DetectCommand) detector(a *app) detect.STALTA {
	d := detect.STALTA{
		STA:       a.cfg.Detection.STASeconds,
		LTA:       a.cfg.Detection.LTASeconds,
		Threshold: a.cfg.Detection.Threshold,
		MinGap:    a.cfg.Detection.MinGapSeconds,
	}
	if c.STA > 0 {
		d.STA = c.STA
	}
	if c.LTA > 0 {
		d.LTA = c.LTA
	}
	if c.Thresh > 0 {
		d.Threshold = c.Thresh
	}
	if c.MinGap > 0 {
		d.MinGap = c.MinGap
	}
	return d
}

// executeWithStore detects on ref using a provided app (used by tests).
// ctx cancellation cancels the detection and leaves the record untouched.
func (c *DetectCommand) executeWithStore(ctx context.Context, a *app, ref string) error {
	h, err := a.loadHistory(ctx, ref)
	if err != nil {
		return err
	}
	runner := task.New(h, task.WithLogger(a.logger))
	outcome, err := detectOnce(ctx, a, runner, h, c.detector(a), !c.NoRefine && a.cfg.Detection.Refine, true)
	if err != nil {
		return err
	}
	if !outcome.Committed() {
		return outcome.Err
	}

	l := h.Ledger()
	if c.globals.JSON {
		return printJSON(os.Stdout, map[string]any{
			"record":     l.RecordID(),
			"elapsed_ms": outcome.Elapsed.Milliseconds(),
			"markers":    toMarkerJSON(l.Markers(), l.Signal()),
		})
	}
	fmt.Printf("Detected %d onset(s) in %s\n", l.Len(), outcome.Elapsed.Round(time.Millisecond))
	printMarkers(os.Stdout, l.Markers(), l.Signal())
	return nil
}

// detectOnce runs one detection task over h and records the run. With
// persist set a committed result is saved right away.
func detectOnce(ctx context.Context, a *app, runner *task.Runner, h *ledger.History, d detect.Detector, refine, persist bool) (task.Outcome, error) {
	l := h.Ledger()
	var opts *arpick.Options
	if refine {
		o := pickingOptions(a.cfg, PickingFlags{})
		opts = &o
	}

	outcome, err := runTask(ctx, runner, task.Detect(l.Signal(), d, opts))
	if err != nil {
		return task.Outcome{}, err
	}

	// Persist with a fresh context: an interrupt must not lose a commit.
	bg := context.WithoutCancel(ctx)
	count := 0
	if outcome.Committed() {
		if persist {
			if err := a.save(bg, h); err != nil {
				return outcome, err
			}
		}
		count = l.Len()
	} else if !errors.Is(outcome.Err, task.ErrCancelled) {
		a.logger.Warn("detection failed", slog.String("record", l.RecordID()), slog.Any("error", outcome.Err))
	}
	a.recordRun(bg, l.RecordID(), "detection", outcome, count)
	return outcome, nil
}
