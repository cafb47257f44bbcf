// Package record holds the signal, characteristic function and arrival
// markers that make up one loaded seismic trace.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSignal is returned when a signal has no samples or a
// non-positive sample rate.
var ErrInvalidSignal = errors.New("invalid signal")

// Signal is an immutable sample sequence plus its sample rate in Hz.
type Signal struct {
	Samples    []float64
	SampleRate float64
}

// Len returns the number of samples.
func (s Signal) Len() int { return len(s.Samples) }

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / s.SampleRate
}

// Index converts a time in seconds to a sample index (truncating).
func (s Signal) Index(seconds float64) int {
	return int(seconds * s.SampleRate)
}

// Seconds converts a sample index to seconds.
func (s Signal) Seconds(i int) float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(i) / s.SampleRate
}

// Validate checks that the signal can be analysed.
func (s Signal) Validate() error {
	if len(s.Samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidSignal)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %g", ErrInvalidSignal, s.SampleRate)
	}
	return nil
}

// Record owns one signal, its optional characteristic function and the
// ordered arrival markers attached to it. The marker slice is mutated only
// through a ledger; other code should treat it as read-only.
type Record struct {
	ID        string
	Name      string
	Signal    Signal
	CF        []float64 // empty when no detector has run
	Markers   []*Marker
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a record with a fresh ID and no markers.
func New(name string, sig Signal) (*Record, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Record{
		ID:        uuid.NewString(),
		Name:      name,
		Signal:    sig,
		Markers:   []*Marker{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasCF reports whether a characteristic function is attached.
func (r *Record) HasCF() bool { return len(r.CF) > 0 }

// ValidTime reports whether t is a valid sample index into the signal.
func (r *Record) ValidTime(t int) bool {
	return t >= 0 && t < r.Signal.Len()
}

// CFAt returns the characteristic function value at t, or 0 when no CF is
// attached or t lies outside it.
func (r *Record) CFAt(t int) float64 {
	if t < 0 || t >= len(r.CF) {
		return 0
	}
	return r.CF[t]
}
