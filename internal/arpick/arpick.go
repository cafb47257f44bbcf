// Package arpick refines a rough arrival time with the two-model AR-AIC
// change-point estimator: a noise AR model fitted on the samples before a
// candidate boundary competes with an event AR model fitted (backwards in
// time) on the samples after it, and the boundary with the lowest summed
// Akaike criterion wins.
//
// Every function here is pure and safe to call from many goroutines.
package arpick

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidParameter reports malformed numeric arguments.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientSamples reports a window too short for the AR order.
	ErrInsufficientSamples = errors.New("insufficient samples")
)

// cancelCheckEvery is how many boundaries are scored between context checks.
const cancelCheckEvery = 64

// Options tunes a refinement.
type Options struct {
	Order  int     // AR order k
	Step   int     // candidate step p, in samples
	Margin float64 // half-width of the refinement window, in seconds
}

// DefaultOptions returns k=5, p=1 and a 5 second margin.
func DefaultOptions() Options {
	return Options{Order: 5, Step: 1, Margin: 5}
}

func (o Options) validate() error {
	if o.Order <= 0 {
		return fmt.Errorf("%w: AR order %d must be positive", ErrInvalidParameter, o.Order)
	}
	if o.Step <= 0 {
		return fmt.Errorf("%w: step %d must be positive", ErrInvalidParameter, o.Step)
	}
	return nil
}

// AICCurve scores the l+1 boundaries n0, n0+p, ..., n0+l*p of x. Each value is
// the minimum AIC over causal AR fits of order 0..k to the prefix ending at
// that boundary.
func AICCurve(ctx context.Context, x []float64, n0, l, k, p int) ([]float64, error) {
	switch {
	case k <= 0:
		return nil, fmt.Errorf("%w: AR order %d must be positive", ErrInvalidParameter, k)
	case p <= 0:
		return nil, fmt.Errorf("%w: step %d must be positive", ErrInvalidParameter, p)
	case n0 <= k:
		return nil, fmt.Errorf("%w: start %d must exceed AR order %d", ErrInvalidParameter, n0, k)
	case l <= 0:
		return nil, fmt.Errorf("%w: empty search range (l=%d)", ErrInvalidParameter, l)
	case n0+l*p > len(x):
		return nil, fmt.Errorf("%w: search range ends at %d past %d samples", ErrInvalidParameter, n0+l*p, len(x))
	}

	curve := make([]float64, l+1)
	tr := newTriangle(k)
	tr.absorbLagged(x, k, n0)
	curve[0] = tr.minAIC()

	b := n0
	for i := 1; i <= l; i++ {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tr.absorbLagged(x, b, b+p)
		b += p
		curve[i] = tr.minAIC()
	}
	return curve, nil
}

// Estimate is the search on a prepared window: n0 is the first candidate,
// n1 bounds the last one. The returned pick is relative to x.
func Estimate(ctx context.Context, x []float64, n0, n1, k, p int) (int, []float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if p <= 0 {
		return 0, nil, fmt.Errorf("%w: step %d must be positive", ErrInvalidParameter, p)
	}
	if n1 > len(x) {
		return 0, nil, fmt.Errorf("%w: end %d past %d samples", ErrInvalidParameter, n1, len(x))
	}
	l := (n1 - n0) / p

	noise, err := AICCurve(ctx, x, n0, l, k, p)
	if err != nil {
		return 0, nil, fmt.Errorf("noise AIC: %w", err)
	}

	reversed := make([]float64, len(x))
	copy(reversed, x)
	floats.Reverse(reversed)
	event, err := AICCurve(ctx, reversed, len(x)-(n0+l*p), l, k, p)
	if err != nil {
		return 0, nil, fmt.Errorf("event AIC: %w", err)
	}
	floats.Reverse(event)

	floats.Add(noise, event)
	return n0 + floats.MinIdx(noise)*p, noise, nil
}

// Result is the outcome of a refinement.
type Result struct {
	Pick  int       // absolute sample index of the arrival
	AIC   []float64 // summed AIC, one value per candidate
	Start int       // absolute index of AIC[0]
	Step  int       // samples between consecutive AIC values
}

// Time returns the pick in seconds.
func (r Result) Time(fs float64) float64 { return float64(r.Pick) / fs }

// Run searches x between tStart and tEnd seconds. The window is clamped to
// the signal and shrunk by 2(k+1) samples at each side.
func Run(ctx context.Context, x []float64, fs, tStart, tEnd float64, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	if !(fs > 0) || math.IsInf(fs, 1) {
		return Result{}, fmt.Errorf("%w: sample rate %g", ErrInvalidParameter, fs)
	}
	if math.IsNaN(tStart) || math.IsNaN(tEnd) {
		return Result{}, fmt.Errorf("%w: window [%g, %g]", ErrInvalidParameter, tStart, tEnd)
	}

	// Clamp before converting: out-of-range float to int is undefined.
	n := float64(len(x))
	from := int(min(max(0, tStart*fs), n))
	to := int(min(max(0, tEnd*fs), n))
	if to < from {
		to = from
	}
	window := x[from:to]

	n0 := 2 * (opts.Order + 1)
	n1 := len(window) - n0
	if n0 >= n1 {
		return Result{}, fmt.Errorf("%w: %d samples in window, AR order %d", ErrInsufficientSamples, len(window), opts.Order)
	}

	pick, curve, err := Estimate(ctx, window, n0, n1, opts.Order, opts.Step)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Pick:  from + pick,
		AIC:   curve,
		Start: from + n0,
		Step:  opts.Step,
	}, nil
}

// Refine searches opts.Margin seconds either side of approx.
func Refine(ctx context.Context, x []float64, fs, approx float64, opts Options) (Result, error) {
	return Run(ctx, x, fs, approx-opts.Margin, approx+opts.Margin, opts)
}
