// Package detect defines the coarse-detector boundary and a classic
// STA/LTA detector that satisfies it.
package detect

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/runnerr0/onset/internal/record"
)

// ErrInvalidParameter reports a detector configured with unusable values.
var ErrInvalidParameter = errors.New("invalid detector parameter")

// Pick is one candidate arrival: a sample index and its detector score.
type Pick struct {
	Time  int
	Score float64
}

// Detector turns a signal into a characteristic function and an ordered
// list of candidate picks. Implementations must not retain x.
type Detector interface {
	Method() record.Method
	Detect(ctx context.Context, x []float64, fs float64) (cf []float64, picks []Pick, err error)
}

// STALTA is the classic short-term over long-term average energy ratio.
type STALTA struct {
	STA       float64 // short window, seconds
	LTA       float64 // long window, seconds
	Threshold float64 // minimum ratio for a pick
	MinGap    float64 // minimum spacing between picks, seconds
}

// Method implements Detector.
func (d STALTA) Method() record.Method { return record.MethodSTALTA }

func (d STALTA) validate(fs float64) error {
	switch {
	case fs <= 0:
		return fmt.Errorf("%w: sample rate %g", ErrInvalidParameter, fs)
	case d.STA <= 0:
		return fmt.Errorf("%w: sta %g must be positive", ErrInvalidParameter, d.STA)
	case d.LTA <= d.STA:
		return fmt.Errorf("%w: lta %g must exceed sta %g", ErrInvalidParameter, d.LTA, d.STA)
	case d.Threshold <= 0:
		return fmt.Errorf("%w: threshold %g must be positive", ErrInvalidParameter, d.Threshold)
	case d.MinGap < 0:
		return fmt.Errorf("%w: min gap %g must not be negative", ErrInvalidParameter, d.MinGap)
	}
	return nil
}

// Detect implements Detector. The returned picks are the CF peaks above
// the threshold, at least MinGap apart, in time order.
func (d STALTA) Detect(ctx context.Context, x []float64, fs float64) ([]float64, []Pick, error) {
	if err := d.validate(fs); err != nil {
		return nil, nil, err
	}
	cf, err := d.characteristic(ctx, x, fs)
	if err != nil {
		return nil, nil, err
	}
	gap := int(d.MinGap * fs)
	return cf, peaks(cf, d.Threshold, gap), nil
}

// characteristic computes sta/lta over trailing windows. Values before the
// first full long window are zero.
func (d STALTA) characteristic(ctx context.Context, x []float64, fs float64) ([]float64, error) {
	nsta := max(1, int(d.STA*fs))
	nlta := max(nsta+1, int(d.LTA*fs))

	cum := make([]float64, len(x)+1)
	for i, v := range x {
		cum[i+1] = cum[i] + v*v
	}

	cf := make([]float64, len(x))
	for i := nlta - 1; i < len(x); i++ {
		if (i-nlta+1)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sta := (cum[i+1] - cum[i+1-nsta]) / float64(nsta)
		lta := (cum[i+1] - cum[i+1-nlta]) / float64(nlta)
		if lta > 0 {
			cf[i] = sta / lta
		}
	}
	return cf, nil
}

// peaks selects local maxima above threshold, strongest first, dropping any
// within gap samples of an already selected one.
func peaks(cf []float64, threshold float64, gap int) []Pick {
	var candidates []Pick
	for i := range cf {
		if cf[i] < threshold {
			continue
		}
		if i > 0 && cf[i-1] > cf[i] {
			continue
		}
		if i+1 < len(cf) && cf[i+1] >= cf[i] {
			continue
		}
		candidates = append(candidates, Pick{Time: i, Score: cf[i]})
	}
	slices.SortStableFunc(candidates, func(a, b Pick) int { return cmp.Compare(b.Score, a.Score) })

	var selected []Pick
	for _, c := range candidates {
		near := slices.ContainsFunc(selected, func(s Pick) bool {
			return abs(s.Time-c.Time) < gap
		})
		if !near {
			selected = append(selected, c)
		}
	}
	slices.SortFunc(selected, func(a, b Pick) int { return cmp.Compare(a.Time, b.Time) })
	return selected
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
