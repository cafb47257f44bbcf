// Package ledger keeps a record's arrival markers and makes every change to
// them reversible.
//
// A Ledger is the single source of truth for the marker sequence. It only
// exposes reads; all mutations go through a History, which wraps each one
// in a Command so it can be undone and redone. Writers are serialized by
// the History. Reads may run concurrently with each other but callers that
// inspect marker fields must not overlap a write; View holds the read lock
// for that purpose.
package ledger

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/runnerr0/onset/internal/record"
)

var (
	// ErrLedgerInconsistency is returned when a command no longer matches
	// the ledger it is applied to.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
	// ErrInvalidMarker is returned for nil markers, out-of-range times,
	// unknown enum values and empty edits.
	ErrInvalidMarker = errors.New("invalid marker")
)

// Ledger guards the marker sequence of one record.
type Ledger struct {
	mu  sync.RWMutex
	rec *record.Record
	obs observers
}

// New wraps rec. The ledger takes ownership of rec.Markers.
func New(rec *record.Record, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if rec.Markers == nil {
		rec.Markers = []*record.Marker{}
	}
	return &Ledger{rec: rec, obs: observers{logger: logger}}
}

// Subscribe registers h for the given kinds (all kinds when none are given)
// and returns an ID for Unsubscribe.
func (l *Ledger) Subscribe(h Handler, kinds ...Kind) string {
	return l.obs.subscribe(h, kinds...)
}

// Unsubscribe removes a handler. It reports whether the ID was known.
func (l *Ledger) Unsubscribe(id string) bool {
	return l.obs.unsubscribe(id)
}

// RecordID returns the ID of the wrapped record.
func (l *Ledger) RecordID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rec.ID
}

// Signal returns the wrapped record's signal. Signals are immutable.
func (l *Ledger) Signal() record.Signal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rec.Signal
}

// Len returns the number of markers.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rec.Markers)
}

// Markers returns the current sequence. The slice is a copy; the markers
// are the live values and keep their identity.
func (l *Ledger) Markers() []*record.Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.rec.Markers)
}

// At returns the marker at index i.
func (l *Ledger) At(i int) (*record.Marker, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.rec.Markers) {
		return nil, false
	}
	return l.rec.Markers[i], true
}

// Find looks a marker up by ID and returns it with its position, or
// (nil, -1).
func (l *Ledger) Find(id string) (*record.Marker, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, m := range l.rec.Markers {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// View calls fn with the record under the read lock. fn must not retain
// or modify rec.
func (l *Ledger) View(fn func(rec *record.Record)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.rec)
}

// Snapshot returns a copy of the record whose markers are clones, safe to
// hand to persistence while editing continues.
func (l *Ledger) Snapshot() *record.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cp := *l.rec
	cp.CF = slices.Clone(l.rec.CF)
	cp.Markers = make([]*record.Marker, len(l.rec.Markers))
	for i, m := range l.rec.Markers {
		cp.Markers[i] = m.Clone()
	}
	return &cp
}

// indexOf returns the position of m by identity. Caller holds mu.
func (l *Ledger) indexOf(m *record.Marker) int {
	for i, cur := range l.rec.Markers {
		if cur == m {
			return i
		}
	}
	return -1
}

// sequenceIs reports whether the current sequence holds exactly ms, by
// identity and in order. Caller holds mu.
func (l *Ledger) sequenceIs(ms []*record.Marker) bool {
	return slices.Equal(l.rec.Markers, ms)
}
