package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/runnerr0/onset/internal/metrics"
	"github.com/runnerr0/onset/internal/record"
)

// State is the redo state of a History.
type State int

const (
	// StateClean means there is nothing to redo.
	StateClean State = iota
	// StateDirtyRedoable means at least one undone command can be redone.
	StateDirtyRedoable
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateDirtyRedoable {
		return "dirty-redoable"
	}
	return "clean"
}

// History is the linear undo/redo log of a ledger and the only way to
// change it. All methods are safe for concurrent use; writes are applied
// one at a time.
type History struct {
	mu       sync.Mutex
	ledger   *Ledger
	done     []Command
	undone   []Command
	capacity int
	logger   *slog.Logger

	// emitMu is taken before mu is released so notifications go out in
	// commit order.
	emitMu sync.Mutex
}

// Option configures a History.
type Option func(*History)

// WithCapacity bounds the undo stack; the oldest command is dropped when a
// push would exceed n. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(h *History) {
		h.capacity = n
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(h *History) {
		h.logger = logger
	}
}

// NewHistory creates an empty history over l.
func NewHistory(l *Ledger, opts ...Option) *History {
	h := &History{ledger: l, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Ledger returns the ledger this history writes to.
func (h *History) Ledger() *Ledger { return h.ledger }

// Append adds m at the end of the sequence.
func (h *History) Append(m *record.Marker) error {
	return h.execute(func(l *Ledger) (Command, error) {
		if err := validateMarker(l.rec, m); err != nil {
			return nil, err
		}
		return &appendCommand{marker: m}, nil
	})
}

// Delete removes m. Undo puts it back at the same position.
func (h *History) Delete(m *record.Marker) error {
	return h.execute(func(l *Ledger) (Command, error) {
		if m == nil {
			return nil, fmt.Errorf("%w: nil marker", ErrInvalidMarker)
		}
		idx := l.indexOf(m)
		if idx < 0 {
			return nil, inconsistent(CommandDelete, "marker %s not present", m.ID)
		}
		return &deleteCommand{marker: m, index: idx}, nil
	})
}

// Edit assigns the fields set in p on m. Undo restores only those fields.
func (h *History) Edit(m *record.Marker, p Patch) error {
	return h.execute(func(l *Ledger) (Command, error) {
		if m == nil {
			return nil, fmt.Errorf("%w: nil marker", ErrInvalidMarker)
		}
		if l.indexOf(m) < 0 {
			return nil, inconsistent(CommandEdit, "marker %s not present", m.ID)
		}
		if err := p.validate(l.rec); err != nil {
			return nil, err
		}
		return &editCommand{marker: m, next: p, prev: p.capture(m)}, nil
	})
}

// Clear removes every marker.
func (h *History) Clear() error {
	return h.execute(func(l *Ledger) (Command, error) {
		return &clearCommand{prior: slices.Clone(l.rec.Markers)}, nil
	})
}

// Sort reorders the markers by key. Equal keys keep their relative order.
func (h *History) Sort(key record.Field, dir Direction) error {
	key, err := record.ParseField(string(key))
	if err != nil {
		return err
	}
	return h.execute(func(l *Ledger) (Command, error) {
		return newSortCommand(l.rec.Markers, key, dir), nil
	})
}

// ReplaceFromDetection swaps the whole sequence for the markers of a
// detection run. When cf is non-nil it also replaces the record's
// characteristic function; undo restores both.
func (h *History) ReplaceFromDetection(markers []*record.Marker, cf []float64) error {
	return h.execute(func(l *Ledger) (Command, error) {
		seen := make(map[*record.Marker]bool, len(markers))
		for _, m := range markers {
			if err := validateMarker(l.rec, m); err != nil {
				return nil, err
			}
			if seen[m] {
				return nil, fmt.Errorf("%w: marker %s listed twice", ErrInvalidMarker, m.ID)
			}
			seen[m] = true
		}
		return &replaceCommand{
			prior:   slices.Clone(l.rec.Markers),
			next:    slices.Clone(markers),
			priorCF: l.rec.CF,
			nextCF:  cf,
			swapsCF: cf != nil,
		}, nil
	})
}

// execute builds a command against the current state, applies it and
// pushes it. A command that fails to build or apply leaves everything
// untouched.
func (h *History) execute(build func(l *Ledger) (Command, error)) error {
	h.mu.Lock()

	l := h.ledger
	l.mu.Lock()
	cmd, err := build(l)
	var notes []Notification
	if err == nil {
		notes, err = cmd.apply(l)
	}
	if err == nil {
		l.rec.UpdatedAt = time.Now()
	}
	l.mu.Unlock()

	if err != nil {
		h.mu.Unlock()
		if cmd != nil && errors.Is(err, ErrLedgerInconsistency) {
			metrics.LedgerInconsistencies.WithLabelValues(string(cmd.Kind()), "apply").Inc()
		}
		return err
	}

	h.done = append(h.done, cmd)
	if h.capacity > 0 && len(h.done) > h.capacity {
		h.done = slices.Delete(h.done, 0, len(h.done)-h.capacity)
	}
	h.undone = nil
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	h.mu.Unlock()

	metrics.LedgerCommands.WithLabelValues(string(cmd.Kind()), "apply").Inc()
	h.logger.Debug("ledger command applied", slog.String("command", cmd.Describe()))
	l.obs.emit(notes)
	return nil
}

// Undo reverts the most recent command. It reports false, with no error,
// when there is nothing to undo. On error both stacks are left as they
// were.
func (h *History) Undo() (bool, error) {
	return h.step(&h.done, &h.undone, "undo", Command.revert)
}

// Redo reapplies the most recently undone command.
func (h *History) Redo() (bool, error) {
	return h.step(&h.undone, &h.done, "redo", Command.apply)
}

func (h *History) step(from, to *[]Command, action string, run func(Command, *Ledger) ([]Notification, error)) (bool, error) {
	h.mu.Lock()
	if len(*from) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	cmd := (*from)[len(*from)-1]

	l := h.ledger
	l.mu.Lock()
	notes, err := run(cmd, l)
	if err == nil {
		l.rec.UpdatedAt = time.Now()
	}
	l.mu.Unlock()

	if err != nil {
		h.mu.Unlock()
		metrics.LedgerInconsistencies.WithLabelValues(string(cmd.Kind()), action).Inc()
		return false, fmt.Errorf("%s %s: %w", action, cmd.Kind(), err)
	}

	*from = (*from)[:len(*from)-1]
	*to = append(*to, cmd)
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	h.mu.Unlock()

	metrics.LedgerCommands.WithLabelValues(string(cmd.Kind()), action).Inc()
	h.logger.Debug("ledger command stepped",
		slog.String("action", action),
		slog.String("command", cmd.Describe()),
	)
	l.obs.emit(notes)
	return true, nil
}

// Reset drops both stacks, e.g. after loading a different record.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = nil
	h.undone = nil
}

// State reports whether a redo is available.
func (h *History) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undone) > 0 {
		return StateDirtyRedoable
	}
	return StateClean
}

// CanUndo reports whether Undo would do anything.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.done) > 0
}

// CanRedo reports whether Redo would do anything.
func (h *History) CanRedo() bool {
	return h.State() == StateDirtyRedoable
}

// Entries describes the done stack, oldest first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.done))
	for i, c := range h.done {
		out[i] = c.Describe()
	}
	return out
}
