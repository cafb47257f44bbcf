package task

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/onset/internal/arpick"
	"github.com/runnerr0/onset/internal/detect"
	"github.com/runnerr0/onset/internal/metrics"
	"github.com/runnerr0/onset/internal/record"
)

// Detect builds a compute that runs d over sig and yields automatic
// markers, one per pick, plus the detector's characteristic function.
// When refine is non-nil every pick is moved to its AR-AIC refined time.
func Detect(sig record.Signal, d detect.Detector, refine *arpick.Options) Compute {
	return func(ctx context.Context) (Result, error) {
		cf, picks, err := d.Detect(ctx, sig.Samples, sig.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("detect: %w", err)
		}

		markers := make([]*record.Marker, 0, len(picks))
		for _, p := range picks {
			t, score := p.Time, p.Score
			if refine != nil {
				res, err := arpick.Refine(ctx, sig.Samples, sig.SampleRate, sig.Seconds(p.Time), *refine)
				switch {
				case errors.Is(err, arpick.ErrInsufficientSamples):
					// Too close to the trace edge; keep the coarse pick.
					metrics.PicksRefined.WithLabelValues("skipped").Inc()
				case err != nil:
					metrics.PicksRefined.WithLabelValues("error").Inc()
					return nil, fmt.Errorf("refine pick at %d: %w", p.Time, err)
				default:
					metrics.PicksRefined.WithLabelValues("ok").Inc()
					t = res.Pick
					if t < len(cf) {
						score = cf[t]
					}
				}
			}
			markers = append(markers, record.NewMarker(t, score, record.ModeAutomatic, d.Method()))
		}
		return &Detection{Markers: markers, CF: cf}, nil
	}
}

// Refine builds a compute that refines target around approx seconds. cf may
// be empty, in which case the marker's cf_value is left alone. target is
// only carried through to the commit; it is never read here.
func Refine(sig record.Signal, cf []float64, target *record.Marker, approx float64, opts arpick.Options) Compute {
	return func(ctx context.Context) (Result, error) {
		res, err := arpick.Refine(ctx, sig.Samples, sig.SampleRate, approx, opts)
		if err != nil {
			metrics.PicksRefined.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("refine: %w", err)
		}
		metrics.PicksRefined.WithLabelValues("ok").Inc()

		out := &Refinement{Marker: target, Time: res.Pick, AIC: res.AIC, Start: res.Start}
		if res.Pick < len(cf) {
			out.CFValue = cf[res.Pick]
			out.HasCF = true
		}
		return out, nil
	}
}

// RefineAll builds a compute that refines every target around its current
// time, at most jobs estimates at once. Targets whose window is too short
// are skipped. The target times are read now, on the caller's goroutine.
func RefineAll(sig record.Signal, cf []float64, targets []*record.Marker, opts arpick.Options, jobs int) Compute {
	items := make([]BatchItem, len(targets))
	for i, m := range targets {
		items[i] = BatchItem{Marker: m, Before: m.Time, After: m.Time}
	}
	return func(ctx context.Context) (Result, error) {
		out := &Batch{Items: slices.Clone(items)}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, jobs))
		for i := range out.Items {
			i := i
			it := &out.Items[i]
			g.Go(func() error {
				res, err := arpick.Refine(gctx, sig.Samples, sig.SampleRate, sig.Seconds(it.Before), opts)
				switch {
				case errors.Is(err, arpick.ErrInsufficientSamples):
					metrics.PicksRefined.WithLabelValues("skipped").Inc()
					it.Err = err
					return nil
				case err != nil:
					metrics.PicksRefined.WithLabelValues("error").Inc()
					return fmt.Errorf("refine marker %d: %w", i+1, err)
				}
				metrics.PicksRefined.WithLabelValues("ok").Inc()
				it.After = res.Pick
				if res.Pick < len(cf) {
					it.CFValue = cf[res.Pick]
					it.HasCF = true
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
}
