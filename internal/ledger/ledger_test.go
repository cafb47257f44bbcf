package ledger

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/onset/internal/metrics"
	"github.com/runnerr0/onset/internal/record"
)

func newTestHistory(t *testing.T, opts ...Option) *History {
	t.Helper()
	rec, err := record.New("test", record.Signal{Samples: make([]float64, 2000), SampleRate: 100})
	require.NoError(t, err)
	return NewHistory(New(rec, nil), opts...)
}

func manual(t int, cf float64) *record.Marker {
	return record.NewMarker(t, cf, record.ModeManual, record.MethodOther)
}

// state captures the sequence by identity and by value.
type state struct {
	ptrs   []*record.Marker
	values []record.Marker
}

func capture(l *Ledger) state {
	ptrs := l.Markers()
	values := make([]record.Marker, len(ptrs))
	for i, m := range ptrs {
		values[i] = *m
	}
	return state{ptrs: ptrs, values: values}
}

func assertState(t *testing.T, want state, l *Ledger) {
	t.Helper()
	got := capture(l)
	assert.Equal(t, len(want.ptrs), len(got.ptrs))
	for i := range want.ptrs {
		if i >= len(got.ptrs) {
			break
		}
		assert.Same(t, want.ptrs[i], got.ptrs[i], "identity at %d", i)
	}
	assert.Equal(t, want.values, got.values)
}

func seed(t *testing.T, h *History, times ...int) []*record.Marker {
	t.Helper()
	ms := make([]*record.Marker, len(times))
	for i, tm := range times {
		ms[i] = manual(tm, float64(i)/10)
		require.NoError(t, h.Append(ms[i]))
	}
	return ms
}

// --- round trips ---

func TestRoundTrip_EveryOperation(t *testing.T) {
	ops := map[string]func(h *History, ms []*record.Marker) error{
		"append": func(h *History, _ []*record.Marker) error { return h.Append(manual(50, 0.1)) },
		"delete": func(h *History, ms []*record.Marker) error { return h.Delete(ms[1]) },
		"edit": func(h *History, ms []*record.Marker) error {
			return h.Edit(ms[2], Patch{}.WithTime(1500).WithLabel("P"))
		},
		"clear": func(h *History, _ []*record.Marker) error { return h.Clear() },
		"sort": func(h *History, _ []*record.Marker) error {
			return h.Sort(record.FieldTime, Descending)
		},
		"replace": func(h *History, _ []*record.Marker) error {
			detected := []*record.Marker{
				record.NewMarker(10, 3.5, record.ModeAutomatic, record.MethodSTALTA),
				record.NewMarker(20, 4.5, record.ModeAutomatic, record.MethodSTALTA),
			}
			return h.ReplaceFromDetection(detected, []float64{1, 2, 3})
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			h := newTestHistory(t)
			ms := seed(t, h, 300, 100, 200, 100)
			l := h.Ledger()

			before := capture(l)
			require.NoError(t, op(h, ms))
			after := capture(l)

			undone, err := h.Undo()
			require.NoError(t, err)
			assert.True(t, undone)
			assertState(t, before, l)

			redone, err := h.Redo()
			require.NoError(t, err)
			assert.True(t, redone)
			assertState(t, after, l)
		})
	}
}

func TestAppend_UndoRemovesLast(t *testing.T) {
	h := newTestHistory(t)
	m := manual(500, 0.8)
	require.NoError(t, h.Append(m))
	assert.Equal(t, 1, h.Ledger().Len())

	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, 0, h.Ledger().Len())
}

func TestAppend_RejectsOutOfRangeTime(t *testing.T) {
	h := newTestHistory(t)

	err := h.Append(manual(2000, 0))
	assert.ErrorIs(t, err, ErrInvalidMarker)
	err = h.Append(manual(-1, 0))
	assert.ErrorIs(t, err, ErrInvalidMarker)
	err = h.Append(nil)
	assert.ErrorIs(t, err, ErrInvalidMarker)

	assert.False(t, h.CanUndo())
	assert.Equal(t, 0, h.Ledger().Len())
}

func TestAppend_SameMarkerTwice(t *testing.T) {
	h := newTestHistory(t)
	m := manual(10, 0)
	require.NoError(t, h.Append(m))

	err := h.Append(m)
	assert.ErrorIs(t, err, ErrLedgerInconsistency)
	assert.Equal(t, []string{"append marker " + m.ID + " at 10"}, h.Entries())
}

func TestDelete_UndoRestoresPosition(t *testing.T) {
	h := newTestHistory(t)
	ms := seed(t, h, 10, 20, 30)

	require.NoError(t, h.Delete(ms[1]))
	assert.Equal(t, []*record.Marker{ms[0], ms[2]}, h.Ledger().Markers())

	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, ms, h.Ledger().Markers())
}

func TestDelete_UnknownMarker(t *testing.T) {
	h := newTestHistory(t)
	seed(t, h, 10)

	err := h.Delete(manual(10, 0))
	assert.ErrorIs(t, err, ErrLedgerInconsistency)
}

func TestSort_StableTiesAndDescending(t *testing.T) {
	h := newTestHistory(t)
	ms := seed(t, h, 200, 100, 200, 100)

	require.NoError(t, h.Sort(record.FieldTime, Ascending))
	assert.Equal(t, []*record.Marker{ms[1], ms[3], ms[0], ms[2]}, h.Ledger().Markers())

	require.NoError(t, h.Sort(record.FieldTime, Descending))
	assert.Equal(t, []*record.Marker{ms[0], ms[2], ms[1], ms[3]}, h.Ledger().Markers())

	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, []*record.Marker{ms[1], ms[3], ms[0], ms[2]}, h.Ledger().Markers())

	_, err = h.Undo()
	require.NoError(t, err)
	assert.Equal(t, ms, h.Ledger().Markers())
}

func TestSort_UnknownKey(t *testing.T) {
	h := newTestHistory(t)
	assert.Error(t, h.Sort(record.Field("depth"), Ascending))
	assert.False(t, h.CanUndo())
}

func TestSort_KeyIsCaseInsensitive(t *testing.T) {
	h := newTestHistory(t)
	ms := seed(t, h, 300, 100, 200)

	require.NoError(t, h.Sort(record.Field("TIME"), Ascending))
	assert.Equal(t, []*record.Marker{ms[1], ms[2], ms[0]}, h.Ledger().Markers())

	require.NoError(t, h.Sort(record.Field("Cf_Value"), Descending))
	assert.Equal(t, []*record.Marker{ms[2], ms[1], ms[0]}, h.Ledger().Markers())
}

func TestValidation_ModeAndMethodMustBeCanonical(t *testing.T) {
	h := newTestHistory(t)

	upper := record.NewMarker(10, 0, record.Mode("MANUAL"), record.MethodOther)
	assert.ErrorIs(t, h.Append(upper), ErrInvalidMarker)
	mixed := record.NewMarker(10, 0, record.ModeManual, record.Method("StaLta"))
	assert.ErrorIs(t, h.Append(mixed), ErrInvalidMarker)
	assert.ErrorIs(t, h.ReplaceFromDetection([]*record.Marker{mixed}, nil), ErrInvalidMarker)
	assert.Zero(t, h.Ledger().Len())

	m := seed(t, h, 20)[0]
	assert.ErrorIs(t, h.Edit(m, Patch{}.WithMode("Automatic")), ErrInvalidMarker)
	assert.ErrorIs(t, h.Edit(m, Patch{}.WithMethod("AMPA")), ErrInvalidMarker)
	assert.Equal(t, record.ModeManual, m.Mode)

	// Typed input goes through the parsers, which canonicalize.
	p, err := ParseAssignments([]string{"mode=Automatic", "method=AMPA"})
	require.NoError(t, err)
	require.NoError(t, h.Edit(m, p))
	assert.Equal(t, record.ModeAutomatic, m.Mode)
	assert.Equal(t, record.MethodAMPA, m.Method)
}

// Append at 500, sort descending, undo: the single marker must remain.
func TestScenario_SortUndoKeepsAppendedMarker(t *testing.T) {
	h := newTestHistory(t)
	m := manual(500, 0.8)
	require.NoError(t, h.Append(m))
	require.NoError(t, h.Sort(record.FieldTime, Descending))

	_, err := h.Undo()
	require.NoError(t, err)

	got := h.Ledger().Markers()
	require.Len(t, got, 1)
	assert.Same(t, m, got[0])
	assert.Equal(t, 500, got[0].Time)
}

// Two edits of different fields undo in reverse order.
func TestScenario_TwoEditsUndoInReverse(t *testing.T) {
	h := newTestHistory(t)
	m := manual(500, 0.8)
	require.NoError(t, h.Append(m))

	require.NoError(t, h.Edit(m, Patch{}.WithTime(600)))
	require.NoError(t, h.Edit(m, Patch{}.WithCFValue(0.9)))
	assert.Equal(t, 600, m.Time)
	assert.Equal(t, 0.9, m.CFValue)

	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, 600, m.Time)
	assert.Equal(t, 0.8, m.CFValue)

	_, err = h.Undo()
	require.NoError(t, err)
	assert.Equal(t, 500, m.Time)
	assert.Equal(t, 0.8, m.CFValue)
}

func TestEdit_Validation(t *testing.T) {
	h := newTestHistory(t)
	m := seed(t, h, 10)[0]

	assert.ErrorIs(t, h.Edit(m, Patch{}), ErrInvalidMarker)
	assert.ErrorIs(t, h.Edit(m, Patch{}.WithTime(5000)), ErrInvalidMarker)
	assert.ErrorIs(t, h.Edit(m, Patch{}.WithMode("robotic")), ErrInvalidMarker)
	assert.ErrorIs(t, h.Edit(manual(10, 0), Patch{}.WithTime(1)), ErrLedgerInconsistency)
	assert.Equal(t, 10, m.Time)
}

func TestEdit_OutOfBandChangeIsInconsistent(t *testing.T) {
	h := newTestHistory(t)
	m := seed(t, h, 10)[0]
	require.NoError(t, h.Edit(m, Patch{}.WithTime(600)))

	m.Time = 650 // bypasses the history

	ok, err := h.Undo()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLedgerInconsistency)
	assert.Equal(t, 650, m.Time)
	assert.True(t, h.CanUndo())
	assert.Len(t, h.Entries(), 2)
}

func TestEdit_UnrelatedFieldIsNotClobbered(t *testing.T) {
	h := newTestHistory(t)
	m := seed(t, h, 10)[0]
	require.NoError(t, h.Edit(m, Patch{}.WithTime(600)))
	require.NoError(t, h.Edit(m, Patch{}.WithLabel("Pg")))

	// Undoing the label edit must leave the earlier time edit in place.
	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, 600, m.Time)
	assert.Equal(t, "", m.Label)
}

func TestClear_UndoRestoresIdentities(t *testing.T) {
	h := newTestHistory(t)
	ms := seed(t, h, 1, 2, 3)

	require.NoError(t, h.Clear())
	assert.Equal(t, 0, h.Ledger().Len())

	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, ms, h.Ledger().Markers())
}

func TestReplaceFromDetection_SwapsCF(t *testing.T) {
	h := newTestHistory(t)
	seed(t, h, 5)
	l := h.Ledger()

	detected := []*record.Marker{record.NewMarker(100, 2, record.ModeAutomatic, record.MethodSTALTA)}
	require.NoError(t, h.ReplaceFromDetection(detected, []float64{0.5, 0.7}))
	l.View(func(rec *record.Record) {
		assert.Equal(t, []float64{0.5, 0.7}, rec.CF)
	})

	_, err := h.Undo()
	require.NoError(t, err)
	l.View(func(rec *record.Record) {
		assert.Empty(t, rec.CF)
	})
}

func TestReplaceFromDetection_RejectsDuplicates(t *testing.T) {
	h := newTestHistory(t)
	m := record.NewMarker(100, 2, record.ModeAutomatic, record.MethodSTALTA)

	err := h.ReplaceFromDetection([]*record.Marker{m, m}, nil)
	assert.ErrorIs(t, err, ErrInvalidMarker)
	assert.False(t, h.CanUndo())
}

// --- history mechanics ---

func TestUndoRedo_EmptyIsNoop(t *testing.T) {
	h := newTestHistory(t)

	ok, err := h.Undo()
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Redo()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNewCommandDiscardsRedo(t *testing.T) {
	h := newTestHistory(t)
	seed(t, h, 1, 2)
	assert.Equal(t, StateClean, h.State())

	_, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, StateDirtyRedoable, h.State())
	assert.True(t, h.CanRedo())

	require.NoError(t, h.Append(manual(3, 0)))
	assert.Equal(t, StateClean, h.State())
	ok, err := h.Redo()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUndo_InconsistencyLeavesStacks(t *testing.T) {
	h := newTestHistory(t)
	ms := seed(t, h, 1, 2)
	l := h.Ledger()

	// Simulate an external reset of the sequence.
	l.rec.Markers = []*record.Marker{ms[1], ms[0]}

	ok, err := h.Undo()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLedgerInconsistency)
	assert.Len(t, h.Entries(), 2)
	assert.Equal(t, StateClean, h.State())
	assert.Equal(t, []*record.Marker{ms[1], ms[0]}, l.Markers())
}

func TestRedo_InconsistencyLeavesStacks(t *testing.T) {
	h := newTestHistory(t)
	ms := seed(t, h, 1)
	l := h.Ledger()

	_, err := h.Undo()
	require.NoError(t, err)
	l.rec.Markers = []*record.Marker{ms[0]}

	ok, err := h.Redo()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLedgerInconsistency)
	assert.Equal(t, StateDirtyRedoable, h.State())
	assert.False(t, h.CanUndo())
}

func TestCapacity_EvictsOldest(t *testing.T) {
	h := newTestHistory(t, WithCapacity(2))
	ms := seed(t, h, 1, 2, 3)

	assert.Len(t, h.Entries(), 2)
	for h.CanUndo() {
		_, err := h.Undo()
		require.NoError(t, err)
	}
	assert.Equal(t, []*record.Marker{ms[0]}, h.Ledger().Markers())
}

func TestReset_ClearsStacks(t *testing.T) {
	h := newTestHistory(t)
	seed(t, h, 1, 2)
	_, err := h.Undo()
	require.NoError(t, err)

	h.Reset()
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())
	assert.Equal(t, 1, h.Ledger().Len())
}

// --- notifications ---

func TestNotifications_AfterCommit(t *testing.T) {
	h := newTestHistory(t)
	l := h.Ledger()

	var lens []int
	var kinds []Kind
	l.Subscribe(func(n Notification) {
		kinds = append(kinds, n.Kind)
		lens = append(lens, l.Len())
		_ = h.CanUndo() // handlers may call back into the history
	})

	m := manual(10, 0)
	require.NoError(t, h.Append(m))
	require.NoError(t, h.Edit(m, Patch{}.WithComment("clear onset")))
	require.NoError(t, h.Sort(record.FieldTime, Ascending))
	require.NoError(t, h.Delete(m))

	assert.Equal(t, []Kind{KindCreated, KindModified, KindReordered, KindDeleted}, kinds)
	assert.Equal(t, []int{1, 1, 1, 0}, lens)
}

func TestNotifications_DetectionPerformed(t *testing.T) {
	h := newTestHistory(t)
	l := h.Ledger()
	seed(t, h, 1)

	var got []Notification
	id := l.Subscribe(func(n Notification) { got = append(got, n) }, KindDetectionPerformed, KindCreated)

	detected := []*record.Marker{
		record.NewMarker(10, 1, record.ModeAutomatic, record.MethodSTALTA),
		record.NewMarker(20, 1, record.ModeAutomatic, record.MethodSTALTA),
	}
	require.NoError(t, h.ReplaceFromDetection(detected, nil))

	require.Len(t, got, 3)
	assert.Equal(t, KindCreated, got[0].Kind)
	assert.Equal(t, KindCreated, got[1].Kind)
	assert.Equal(t, Notification{Kind: KindDetectionPerformed, Count: 2}, got[2])

	assert.True(t, l.Unsubscribe(id))
	assert.False(t, l.Unsubscribe(id))
}

func TestNotifications_PanickingHandlerIsIsolated(t *testing.T) {
	h := newTestHistory(t)
	l := h.Ledger()

	calls := 0
	l.Subscribe(func(Notification) { panic("boom") })
	l.Subscribe(func(Notification) { calls++ })

	require.NoError(t, h.Append(manual(1, 0)))
	assert.Equal(t, 1, calls)
}

func TestNotifications_NoneOnFailure(t *testing.T) {
	h := newTestHistory(t)
	calls := 0
	h.Ledger().Subscribe(func(Notification) { calls++ })

	assert.Error(t, h.Append(manual(99999, 0)))
	assert.Equal(t, 0, calls)
}

// --- metrics ---

func TestMetrics_CountsActions(t *testing.T) {
	h := newTestHistory(t)
	applied := testutil.ToFloat64(metrics.LedgerCommands.WithLabelValues("sort", "apply"))
	undone := testutil.ToFloat64(metrics.LedgerCommands.WithLabelValues("sort", "undo"))

	require.NoError(t, h.Sort(record.FieldCFValue, Ascending))
	_, err := h.Undo()
	require.NoError(t, err)

	assert.Equal(t, applied+1, testutil.ToFloat64(metrics.LedgerCommands.WithLabelValues("sort", "apply")))
	assert.Equal(t, undone+1, testutil.ToFloat64(metrics.LedgerCommands.WithLabelValues("sort", "undo")))
}

// --- patches ---

func TestParseAssignments(t *testing.T) {
	p, err := ParseAssignments([]string{"time=600", "cf_value=0.9", "mode=automatic", "label=Pn"})
	require.NoError(t, err)
	assert.Equal(t, []record.Field{record.FieldTime, record.FieldCFValue, record.FieldMode, record.FieldLabel}, p.Fields())
	assert.Equal(t, 600, *p.Time)
	assert.Equal(t, 0.9, *p.CFValue)

	_, err = ParseAssignments([]string{"time"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"depth=3"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"time=abc"})
	assert.Error(t, err)
}

func TestNotifications_CommitOrderAcrossWriters(t *testing.T) {
	h := newTestHistory(t)
	l := h.Ledger()

	var got []*record.Marker
	l.Subscribe(func(n Notification) { got = append(got, n.Marker) }, KindCreated)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, h.Append(manual(w*50+i, 0)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, l.Markers(), got)
}
