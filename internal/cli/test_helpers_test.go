package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/onset/internal/config"
	"github.com/runnerr0/onset/internal/record"
	"github.com/runnerr0/onset/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.Bytes()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return string(<-done)
}

// newTestApp returns an app over a migrated in-memory store with default
// config and a silent logger.
func newTestApp(t *testing.T) *app {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db, "").Run())

	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &app{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		store:  store,
		db:     db,
		dbPath: ":memory:",
	}
}

// onsetSignal is 10 s of unit noise followed by a growing 5 Hz
// oscillation starting at sample 1000, sampled at 100 Hz.
func onsetSignal() []float64 {
	rng := rand.New(rand.NewSource(42))
	x := make([]float64, 2000)
	for i := 0; i < 1000; i++ {
		x[i] = rng.NormFloat64()
	}
	r, theta := 1.001, 2*math.Pi*5/100
	a1, a2 := 2*r*math.Cos(theta), -r*r
	for i := 1000; i < len(x); i++ {
		x[i] = a1*x[i-1] + a2*x[i-2] + 10*rng.NormFloat64()
	}
	return x
}

// seedRecord stores a record over samples with markers at the given
// sample indices.
func seedRecord(t *testing.T, a *app, name string, samples []float64, times ...int) *record.Record {
	t.Helper()
	rec, err := record.New(name, record.Signal{Samples: samples, SampleRate: 100})
	require.NoError(t, err)
	for _, tm := range times {
		rec.Markers = append(rec.Markers, record.NewMarker(tm, 0, record.ModeManual, record.MethodOther))
	}
	require.NoError(t, a.store.SaveRecord(context.Background(), rec))
	return rec
}

func loadRecord(t *testing.T, a *app, id string) *record.Record {
	t.Helper()
	rec, err := a.store.LoadRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}
