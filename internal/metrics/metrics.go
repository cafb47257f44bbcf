// Package metrics exposes Prometheus instrumentation for the ledger and
// the detection task runner.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerCommands counts successful command applications by command kind
	// and action (apply, undo, redo).
	LedgerCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onset_ledger_commands_total",
		Help: "Ledger commands applied, undone or redone",
	}, []string{"command", "action"})

	// LedgerInconsistencies counts commands rejected because the ledger no
	// longer matched their captured state.
	LedgerInconsistencies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onset_ledger_inconsistencies_total",
		Help: "Ledger commands rejected for inconsistent state",
	}, []string{"command", "action"})

	// TaskRuns counts finished tasks by kind and outcome (committed, failed,
	// cancelled).
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onset_task_runs_total",
		Help: "Detection and refinement tasks by outcome",
	}, []string{"kind", "outcome"})

	// TaskDuration observes compute time of tasks that returned a result.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "onset_task_duration_seconds",
		Help:    "Wall time spent computing a detection or refinement",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
	}, []string{"kind"})

	// ActiveTasks is the number of tasks currently computing.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onset_tasks_active",
		Help: "Detection and refinement tasks currently running",
	})

	// PicksRefined counts AR-AIC refinements by outcome (ok, skipped, error).
	PicksRefined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onset_picks_refined_total",
		Help: "AR-AIC pick refinements",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
