package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/onset/internal/storage"
)

func TestMarkers_LedgerOrder(t *testing.T) {
	a := newTestApp(t)
	seedRecord(t, a, "order", make([]float64, 100), 30, 10, 20)

	cmd := &MarkersCommand{globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), a, "order"))
	})
	assert.Contains(t, output, "order (")
	i30 := strings.Index(output, "0.300")
	i10 := strings.Index(output, "0.100")
	i20 := strings.Index(output, "0.200")
	require.True(t, i30 >= 0 && i10 >= 0 && i20 >= 0, output)
	assert.Less(t, i30, i10)
	assert.Less(t, i10, i20)
}

func TestMarkers_SortedJSON(t *testing.T) {
	a := newTestApp(t)
	rec := seedRecord(t, a, "sorted", make([]float64, 100), 30, 10, 20)

	cmd := &MarkersCommand{Sort: "time", Desc: true, globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), a, rec.ID))
	})

	var got struct {
		Record  string       `json:"record"`
		Markers []markerJSON `json:"markers"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, rec.ID, got.Record)
	require.Len(t, got.Markers, 3)
	assert.Equal(t, []int{30, 20, 10}, []int{got.Markers[0].Index, got.Markers[1].Index, got.Markers[2].Index})
	assert.InDelta(t, 0.3, got.Markers[0].Seconds, 1e-9)
	assert.Equal(t, "manual", got.Markers[0].Mode)

	// Display sorting never reorders the stored ledger.
	assert.Equal(t, 30, loadRecord(t, a, rec.ID).Markers[0].Time)
}

func TestMarkers_Runs(t *testing.T) {
	a := newTestApp(t)
	rec := seedRecord(t, a, "runs", make([]float64, 100))
	require.NoError(t, a.store.RecordRun(context.Background(), &storage.Run{
		RecordID: rec.ID, Kind: "detection", Status: storage.RunFailed,
		Detail: "boom", StartedAt: time.Now(),
	}))

	cmd := &MarkersCommand{Runs: true, globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), a, "runs"))
	})
	assert.Contains(t, output, "No markers.")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "boom")
}

func TestMarkers_Errors(t *testing.T) {
	a := newTestApp(t)
	seedRecord(t, a, "x", make([]float64, 100))

	cmd := &MarkersCommand{globals: &GlobalFlags{}}
	assert.ErrorIs(t, cmd.executeWithStore(context.Background(), a, "nope"), storage.ErrNotFound)

	cmd = &MarkersCommand{Sort: "colour", globals: &GlobalFlags{}}
	assert.Error(t, cmd.executeWithStore(context.Background(), a, "x"))
}
