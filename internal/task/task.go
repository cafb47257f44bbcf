// Package task runs detections and refinements off the caller's goroutine
// and commits their results to a ledger history exactly once.
//
// A Runner owns at most one task at a time. The compute step never touches
// the ledger; it returns a Result that the runner turns into a ledger
// command at commit time. Commit and Cancel are serialized, so a task is
// either committed or cancelled, never both and never half of either.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/onset/internal/ledger"
	"github.com/runnerr0/onset/internal/metrics"
	"github.com/runnerr0/onset/internal/record"
)

var (
	// ErrTaskAlreadyRunning is returned by Start while a task is in flight.
	ErrTaskAlreadyRunning = errors.New("task already running")
	// ErrCancelled is reported to the completion callback of a cancelled
	// task.
	ErrCancelled = errors.New("task cancelled")
)

// Result is produced by a compute function: a *Detection, a *Refinement or
// a *Batch.
type Result interface {
	Kind() string
	commit(h *ledger.History) error
}

// Detection replaces the whole marker sequence, and optionally the
// characteristic function.
type Detection struct {
	Markers []*record.Marker
	CF      []float64
}

// Kind implements Result.
func (d *Detection) Kind() string { return "detection" }

func (d *Detection) commit(h *ledger.History) error {
	return h.ReplaceFromDetection(d.Markers, d.CF)
}

// Refinement moves one marker to a refined time.
type Refinement struct {
	Marker  *record.Marker
	Time    int
	CFValue float64
	HasCF   bool      // when false only Time is written
	AIC     []float64 // diagnostic curve
	Start   int       // absolute index of AIC[0]
}

// Kind implements Result.
func (r *Refinement) Kind() string { return "refinement" }

func (r *Refinement) commit(h *ledger.History) error {
	p := ledger.Patch{}.WithTime(r.Time)
	if r.HasCF {
		p = p.WithCFValue(r.CFValue)
	}
	return h.Edit(r.Marker, p)
}

// BatchItem is one marker of a batch refinement. Err is set when the
// estimate was skipped; such items are never edited.
type BatchItem struct {
	Marker  *record.Marker
	Before  int
	After   int
	CFValue float64
	HasCF   bool
	Err     error
}

// Moved reports whether committing the item changes the marker.
func (it BatchItem) Moved() bool { return it.Err == nil && it.After != it.Before }

// Batch refines several markers. Commit applies one edit per moved marker,
// in order, so each is undone on its own. If one edit fails the earlier
// ones are undone again. Edited counts the edits applied.
type Batch struct {
	Items  []BatchItem
	Edited int
}

// Kind implements Result.
func (b *Batch) Kind() string { return "refinement" }

func (b *Batch) commit(h *ledger.History) error {
	b.Edited = 0
	for _, it := range b.Items {
		if !it.Moved() {
			continue
		}
		p := ledger.Patch{}.WithTime(it.After)
		if it.HasCF {
			p = p.WithCFValue(it.CFValue)
		}
		if err := h.Edit(it.Marker, p); err != nil {
			err = fmt.Errorf("commit refinement of %s: %w", it.Marker.ID, err)
			return errors.Join(err, b.rollback(h))
		}
		b.Edited++
	}
	return nil
}

// rollback undoes the edits this batch applied, newest first.
func (b *Batch) rollback(h *ledger.History) error {
	for ; b.Edited > 0; b.Edited-- {
		if _, err := h.Undo(); err != nil {
			return fmt.Errorf("roll back batch: %w", err)
		}
	}
	return nil
}

// Compute does the expensive work. It must honour ctx and must not read or
// write the ledger.
type Compute func(ctx context.Context) (Result, error)

// Outcome is handed to the completion callback.
type Outcome struct {
	TaskID  string
	Result  Result // set when committed
	Err     error  // nil when committed
	Elapsed time.Duration
}

// Committed reports whether the result reached the ledger.
func (o Outcome) Committed() bool { return o.Err == nil }

// CompletionFunc is called once per task, after commit, failure or cancel.
type CompletionFunc func(Outcome)

type run struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	onComplete CompletionFunc
	committing bool
	done       chan struct{}
}

// Runner executes one task at a time against a history.
type Runner struct {
	history  *ledger.History
	logger   *slog.Logger
	dispatch func(func())

	mu      sync.Mutex
	current *run
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithDispatcher routes the commit step through dispatch, e.g. onto the
// goroutine that owns the ledger. By default the commit runs on the worker
// goroutine, serialized by the runner and the history.
func WithDispatcher(dispatch func(func())) Option {
	return func(r *Runner) {
		r.dispatch = dispatch
	}
}

// New creates a runner over h.
func New(h *ledger.History, opts ...Option) *Runner {
	r := &Runner{
		history:  h,
		logger:   slog.Default(),
		dispatch: func(f func()) { f() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Start launches compute and returns its task ID. onComplete may be nil.
func (r *Runner) Start(ctx context.Context, compute Compute, onComplete CompletionFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return "", fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, r.current.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &run{
		id:         uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}
	r.current = t
	metrics.ActiveTasks.Inc()
	r.logger.Debug("task started", slog.String("task", t.id))

	go r.work(t, compute)
	return t.id, nil
}

func (r *Runner) work(t *run, compute Compute) {
	start := time.Now()
	res, err := safeCompute(t.ctx, compute)
	elapsed := time.Since(start)
	metrics.ActiveTasks.Dec()
	if err == nil {
		metrics.TaskDuration.WithLabelValues(res.Kind()).Observe(elapsed.Seconds())
	}
	r.dispatch(func() { r.finish(t, res, err, elapsed) })
}

func safeCompute(ctx context.Context, compute Compute) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("compute panicked: %v", p)
		}
	}()
	res, err = compute(ctx)
	if err == nil && res == nil {
		err = errors.New("compute returned no result")
	}
	return res, err
}

func (r *Runner) finish(t *run, res Result, err error, elapsed time.Duration) {
	r.mu.Lock()
	if r.current != t {
		// Cancelled: the result is dropped.
		r.mu.Unlock()
		r.logger.Debug("discarded result of cancelled task", slog.String("task", t.id))
		return
	}
	if t.ctx.Err() != nil {
		// Whatever the compute returned, a cancelled task never commits.
		err = fmt.Errorf("%w: %v", ErrCancelled, t.ctx.Err())
	}
	t.committing = true
	r.mu.Unlock()

	if err == nil {
		err = res.commit(r.history)
	}

	r.mu.Lock()
	r.current = nil
	t.cancel()
	r.mu.Unlock()
	defer close(t.done)

	kind := "unknown"
	if res != nil {
		kind = res.Kind()
	}
	out := Outcome{TaskID: t.id, Err: err, Elapsed: elapsed}
	if err == nil {
		out.Result = res
		metrics.TaskRuns.WithLabelValues(kind, "committed").Inc()
		r.logger.Info("task committed",
			slog.String("task", t.id),
			slog.String("kind", kind),
			slog.Duration("elapsed", elapsed),
		)
	} else {
		metrics.TaskRuns.WithLabelValues(kind, "failed").Inc()
		r.logger.Warn("task failed",
			slog.String("task", t.id),
			slog.String("kind", kind),
			slog.Any("error", err),
		)
	}
	if t.onComplete != nil {
		t.onComplete(out)
	}
}

// Cancel stops the current task. The ledger is left as it was before Start;
// a compute that ignores its context keeps running but its result is
// dropped. Cancel reports whether a task was cancelled; it is a no-op when
// nothing is running or the task already committed. If the task is
// mid-commit Cancel waits for the commit and reports false, so it must not
// be called from a ledger observer.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	t := r.current
	if t == nil {
		r.mu.Unlock()
		return false
	}
	if t.committing {
		r.mu.Unlock()
		<-t.done
		return false
	}
	r.current = nil
	t.cancel()
	r.mu.Unlock()
	defer close(t.done)

	metrics.TaskRuns.WithLabelValues("unfinished", "cancelled").Inc()
	r.logger.Info("task cancelled", slog.String("task", t.id))
	if t.onComplete != nil {
		t.onComplete(Outcome{TaskID: t.id, Err: ErrCancelled})
	}
	return true
}

// Running reports whether a task is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Wait blocks until the current task commits, fails or is cancelled and
// its completion callback has returned, or until ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	t := r.current
	r.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
