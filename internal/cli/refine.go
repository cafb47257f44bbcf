package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/runnerr0/onset/internal/arpick"
	"github.com/runnerr0/onset/internal/ledger"
	"github.com/runnerr0/onset/internal/record"
	"github.com/runnerr0/onset/internal/task"
)

// Execute implements the go-flags Commander interface for RefineCommand.
func (c *RefineCommand) Execute(args []string) error {
	ref, err := requireRecordArg(args, "refine")
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

// executeWithStore refines on ref using a provided app (used by tests).
func (c *RefineCommand) executeWithStore(ctx context.Context, a *app, ref string) error {
	if (c.Marker == "") == (c.Time < 0) {
		return fmt.Errorf("refine requires exactly one of --marker or --time")
	}
	if c.Add && c.Marker != "" {
		return fmt.Errorf("--add only applies to --time")
	}

	h, err := a.loadHistory(ctx, ref)
	if err != nil {
		return err
	}
	opts := pickingOptions(a.cfg, c.PickingFlags)

	if c.Marker != "" {
		return c.refineMarker(ctx, a, h, opts)
	}
	return c.refineTime(ctx, a, h, opts)
}

func (c *RefineCommand) refineMarker(ctx context.Context, a *app, h *ledger.History, opts arpick.Options) error {
	l := h.Ledger()
	m, pos, err := findMarker(l, c.Marker)
	if err != nil {
		return err
	}
	sig := l.Signal()
	snap := l.Snapshot()
	before := m.Time

	runner := task.New(h, task.WithLogger(a.logger))
	outcome, err := runTask(ctx, runner, task.Refine(sig, snap.CF, m, sig.Seconds(before), opts))
	if err != nil {
		return err
	}

	bg := context.WithoutCancel(ctx)
	count := 0
	if outcome.Committed() {
		if err := a.save(bg, h); err != nil {
			return err
		}
		count = 1
	}
	a.recordRun(bg, l.RecordID(), "refinement", outcome, count)
	if !outcome.Committed() {
		return outcome.Err
	}

	res := outcome.Result.(*task.Refinement)
	if c.globals.JSON {
		out := map[string]any{
			"record":   l.RecordID(),
			"marker":   m.ID,
			"position": pos + 1,
			"before":   before,
			"after":    res.Time,
			"seconds":  sig.Seconds(res.Time),
		}
		if c.Curve {
			out["aic"] = curveJSON(res.AIC, res.Start, opts.Step, sig)
		}
		return printJSON(os.Stdout, out)
	}

	fmt.Printf("Marker %d (%s): %d -> %d (%.3f s)\n", pos+1, shortID(m.ID), before, res.Time, sig.Seconds(res.Time))
	if c.Curve {
		printCurve(res.AIC, res.Start, opts.Step, sig)
	}
	return nil
}

func (c *RefineCommand) refineTime(ctx context.Context, a *app, h *ledger.History, opts arpick.Options) error {
	l := h.Ledger()
	sig := l.Signal()
	if c.Time > sig.Duration() {
		return fmt.Errorf("--time %.3f is past the end of the record (%.3f s)", c.Time, sig.Duration())
	}

	res, err := arpick.Refine(ctx, sig.Samples, sig.SampleRate, c.Time, opts)
	if err != nil {
		if errors.Is(err, arpick.ErrInsufficientSamples) {
			return fmt.Errorf("window around %.3f s is too short for AR order %d: %w", c.Time, opts.Order, err)
		}
		return err
	}

	var added *record.Marker
	if c.Add {
		added = record.NewMarker(res.Pick, l.Snapshot().CFAt(res.Pick), record.ModeAutomatic, record.MethodTakanami)
		if err := h.Append(added); err != nil {
			return err
		}
		if err := a.save(context.WithoutCancel(ctx), h); err != nil {
			return err
		}
	}

	if c.globals.JSON {
		out := map[string]any{
			"record":  l.RecordID(),
			"approx":  c.Time,
			"pick":    res.Pick,
			"seconds": res.Time(sig.SampleRate),
		}
		if added != nil {
			out["marker"] = added.ID
		}
		if c.Curve {
			out["aic"] = curveJSON(res.AIC, res.Start, res.Step, sig)
		}
		return printJSON(os.Stdout, out)
	}

	fmt.Printf("Onset near %.3f s: index %d (%.3f s)\n", c.Time, res.Pick, res.Time(sig.SampleRate))
	if added != nil {
		fmt.Printf("Added marker %s\n", shortID(added.ID))
	}
	if c.Curve {
		printCurve(res.AIC, res.Start, res.Step, sig)
	}
	return nil
}

type curvePoint struct {
	Index   int     `json:"index"`
	Seconds float64 `json:"seconds"`
	AIC     float64 `json:"aic"`
}

func curveJSON(aic []float64, start, step int, sig record.Signal) []curvePoint {
	out := make([]curvePoint, len(aic))
	for i, v := range aic {
		idx := start + i*step
		out[i] = curvePoint{Index: idx, Seconds: sig.Seconds(idx), AIC: v}
	}
	return out
}

func printCurve(aic []float64, start, step int, sig record.Signal) {
	fmt.Println()
	fmt.Printf("%10s %10s %14s\n", "INDEX", "SECONDS", "AIC")
	for _, p := range curveJSON(aic, start, step, sig) {
		fmt.Printf("%10d %10.3f %14.4f\n", p.Index, p.Seconds, p.AIC)
	}
}
