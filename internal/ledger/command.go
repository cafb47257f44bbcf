package ledger

import (
	"fmt"
	"slices"

	"github.com/runnerr0/onset/internal/record"
)

// CommandKind names a command variant.
type CommandKind string

const (
	CommandAppend  CommandKind = "append"
	CommandDelete  CommandKind = "delete"
	CommandEdit    CommandKind = "edit"
	CommandClear   CommandKind = "clear"
	CommandSort    CommandKind = "sort"
	CommandReplace CommandKind = "replace"
)

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseDirection accepts asc/ascending and desc/descending.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "asc", "ascending", "":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown sort direction %q", s)
}

// Command is one reversible change to a ledger. Commands are immutable once
// built; apply and revert check the ledger still matches what the command
// captured and change nothing when it does not.
//
// apply and revert run with the ledger write lock held.
type Command interface {
	Kind() CommandKind
	Describe() string
	apply(l *Ledger) ([]Notification, error)
	revert(l *Ledger) ([]Notification, error)
}

func inconsistent(kind CommandKind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrLedgerInconsistency, kind, fmt.Sprintf(format, args...))
}

func validateMarker(rec *record.Record, m *record.Marker) error {
	if m == nil {
		return fmt.Errorf("%w: nil marker", ErrInvalidMarker)
	}
	if !rec.ValidTime(m.Time) {
		return fmt.Errorf("%w: time %d outside [0, %d)", ErrInvalidMarker, m.Time, rec.Signal.Len())
	}
	if !m.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidMarker, m.Mode)
	}
	if !m.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidMarker, m.Method)
	}
	return nil
}

// --- append ---

type appendCommand struct {
	marker *record.Marker
}

func (c *appendCommand) Kind() CommandKind { return CommandAppend }

func (c *appendCommand) Describe() string {
	return fmt.Sprintf("append marker %s at %d", c.marker.ID, c.marker.Time)
}

func (c *appendCommand) apply(l *Ledger) ([]Notification, error) {
	if l.indexOf(c.marker) >= 0 {
		return nil, inconsistent(CommandAppend, "marker %s already present", c.marker.ID)
	}
	l.rec.Markers = append(l.rec.Markers, c.marker)
	return created(c.marker), nil
}

func (c *appendCommand) revert(l *Ledger) ([]Notification, error) {
	n := len(l.rec.Markers)
	if n == 0 || l.rec.Markers[n-1] != c.marker {
		return nil, inconsistent(CommandAppend, "marker %s is not last", c.marker.ID)
	}
	l.rec.Markers = slices.Delete(l.rec.Markers, n-1, n)
	return deleted(c.marker), nil
}

// --- delete ---

type deleteCommand struct {
	marker *record.Marker
	index  int
}

func (c *deleteCommand) Kind() CommandKind { return CommandDelete }

func (c *deleteCommand) Describe() string {
	return fmt.Sprintf("delete marker %s from position %d", c.marker.ID, c.index)
}

func (c *deleteCommand) apply(l *Ledger) ([]Notification, error) {
	if c.index >= len(l.rec.Markers) || l.rec.Markers[c.index] != c.marker {
		return nil, inconsistent(CommandDelete, "marker %s not at position %d", c.marker.ID, c.index)
	}
	l.rec.Markers = slices.Delete(l.rec.Markers, c.index, c.index+1)
	return deleted(c.marker), nil
}

func (c *deleteCommand) revert(l *Ledger) ([]Notification, error) {
	if c.index > len(l.rec.Markers) {
		return nil, inconsistent(CommandDelete, "position %d past %d markers", c.index, len(l.rec.Markers))
	}
	if l.indexOf(c.marker) >= 0 {
		return nil, inconsistent(CommandDelete, "marker %s already present", c.marker.ID)
	}
	l.rec.Markers = slices.Insert(l.rec.Markers, c.index, c.marker)
	return created(c.marker), nil
}

// --- edit ---

type editCommand struct {
	marker *record.Marker
	next   Patch
	prev   Patch
}

func (c *editCommand) Kind() CommandKind { return CommandEdit }

func (c *editCommand) Describe() string {
	return fmt.Sprintf("edit marker %s %v", c.marker.ID, c.next.Fields())
}

func (c *editCommand) apply(l *Ledger) ([]Notification, error) {
	if l.indexOf(c.marker) < 0 {
		return nil, inconsistent(CommandEdit, "marker %s not present", c.marker.ID)
	}
	if !c.prev.matches(c.marker) {
		return nil, inconsistent(CommandEdit, "marker %s changed since edit was captured", c.marker.ID)
	}
	c.next.applyTo(c.marker)
	return []Notification{{Kind: KindModified, Marker: c.marker, Fields: c.next.Fields()}}, nil
}

func (c *editCommand) revert(l *Ledger) ([]Notification, error) {
	if l.indexOf(c.marker) < 0 {
		return nil, inconsistent(CommandEdit, "marker %s not present", c.marker.ID)
	}
	if !c.next.matches(c.marker) {
		return nil, inconsistent(CommandEdit, "marker %s changed after edit", c.marker.ID)
	}
	c.prev.applyTo(c.marker)
	return []Notification{{Kind: KindModified, Marker: c.marker, Fields: c.prev.Fields()}}, nil
}

// --- clear ---

type clearCommand struct {
	prior []*record.Marker
}

func (c *clearCommand) Kind() CommandKind { return CommandClear }

func (c *clearCommand) Describe() string {
	return fmt.Sprintf("clear %d markers", len(c.prior))
}

func (c *clearCommand) apply(l *Ledger) ([]Notification, error) {
	if !l.sequenceIs(c.prior) {
		return nil, inconsistent(CommandClear, "sequence changed since clear was captured")
	}
	l.rec.Markers = []*record.Marker{}
	return deleted(c.prior...), nil
}

func (c *clearCommand) revert(l *Ledger) ([]Notification, error) {
	if len(l.rec.Markers) != 0 {
		return nil, inconsistent(CommandClear, "%d markers present after clear", len(l.rec.Markers))
	}
	l.rec.Markers = slices.Clone(c.prior)
	return created(c.prior...), nil
}

// --- sort ---

type sortCommand struct {
	key    record.Field
	dir    Direction
	before []*record.Marker
	after  []*record.Marker
}

func newSortCommand(current []*record.Marker, key record.Field, dir Direction) *sortCommand {
	after := slices.Clone(current)
	slices.SortStableFunc(after, func(a, b *record.Marker) int {
		c := record.Compare(a, b, key)
		if dir == Descending {
			return -c
		}
		return c
	})
	return &sortCommand{key: key, dir: dir, before: slices.Clone(current), after: after}
}

func (c *sortCommand) Kind() CommandKind { return CommandSort }

func (c *sortCommand) Describe() string {
	return fmt.Sprintf("sort %d markers by %s %s", len(c.before), c.key, c.dir)
}

func (c *sortCommand) apply(l *Ledger) ([]Notification, error) {
	if !l.sequenceIs(c.before) {
		return nil, inconsistent(CommandSort, "sequence changed since sort was captured")
	}
	l.rec.Markers = slices.Clone(c.after)
	return []Notification{{Kind: KindReordered, Count: len(c.after)}}, nil
}

func (c *sortCommand) revert(l *Ledger) ([]Notification, error) {
	if !l.sequenceIs(c.after) {
		return nil, inconsistent(CommandSort, "sequence changed after sort")
	}
	l.rec.Markers = slices.Clone(c.before)
	return []Notification{{Kind: KindReordered, Count: len(c.before)}}, nil
}

// --- replace from detection ---

type replaceCommand struct {
	prior   []*record.Marker
	next    []*record.Marker
	priorCF []float64
	nextCF  []float64
	swapsCF bool
}

func (c *replaceCommand) Kind() CommandKind { return CommandReplace }

func (c *replaceCommand) Describe() string {
	return fmt.Sprintf("replace %d markers with %d detected", len(c.prior), len(c.next))
}

func (c *replaceCommand) apply(l *Ledger) ([]Notification, error) {
	if !l.sequenceIs(c.prior) {
		return nil, inconsistent(CommandReplace, "sequence changed since detection started")
	}
	l.rec.Markers = slices.Clone(c.next)
	if c.swapsCF {
		l.rec.CF = c.nextCF
	}
	notes := append(deleted(c.prior...), created(c.next...)...)
	return append(notes, Notification{Kind: KindDetectionPerformed, Count: len(c.next)}), nil
}

func (c *replaceCommand) revert(l *Ledger) ([]Notification, error) {
	if !l.sequenceIs(c.next) {
		return nil, inconsistent(CommandReplace, "sequence changed after detection")
	}
	l.rec.Markers = slices.Clone(c.prior)
	if c.swapsCF {
		l.rec.CF = c.priorCF
	}
	return append(deleted(c.next...), created(c.prior...)...), nil
}
