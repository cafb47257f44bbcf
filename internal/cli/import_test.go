package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/onset/internal/record"
)

func TestImport_File(t *testing.T) {
	a := newTestApp(t)
	path := filepath.Join(t.TempDir(), "quake.txt")
	require.NoError(t, os.WriteFile(path, []byte("# header\n0.1\n0.2\n0.3\n0.4\n"), 0644))

	cmd := &ImportCommand{Rate: 50, globals: &GlobalFlags{}}
	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), a, path)
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Imported record")
	assert.Contains(t, output, "Name: quake")
	assert.Contains(t, output, "4 at 50 Hz")

	id, err := a.store.ResolveRecord(context.Background(), "quake")
	require.NoError(t, err)
	rec := loadRecord(t, a, id)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, rec.Signal.Samples)
	assert.Equal(t, 50.0, rec.Signal.SampleRate)
	assert.Empty(t, rec.Markers)
}

func TestImport_StdinJSON(t *testing.T) {
	a := newTestApp(t)
	cmd := &ImportCommand{Name: "piped", Rate: 100, globals: &GlobalFlags{JSON: true}, in: strings.NewReader("1 2 3")}

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), a, "-")
	})
	require.NoError(t, err)
	assert.Contains(t, output, `"name": "piped"`)
	assert.Contains(t, output, `"samples": 3`)

	_, err = a.store.ResolveRecord(context.Background(), "piped")
	assert.NoError(t, err)
}

func TestImport_Errors(t *testing.T) {
	a := newTestApp(t)

	cmd := &ImportCommand{Rate: 100, globals: &GlobalFlags{}}
	err := cmd.executeWithStore(context.Background(), a, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	cmd = &ImportCommand{Rate: 100, globals: &GlobalFlags{}, in: strings.NewReader("# nothing\n")}
	err = cmd.executeWithStore(context.Background(), a, "-")
	assert.ErrorIs(t, err, record.ErrInvalidSignal)

	cmd = &ImportCommand{Rate: 0, globals: &GlobalFlags{}, in: strings.NewReader("1 2 3")}
	err = cmd.executeWithStore(context.Background(), a, "-")
	assert.ErrorIs(t, err, record.ErrInvalidSignal)
}
