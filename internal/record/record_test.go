package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesSignal(t *testing.T) {
	_, err := New("empty", Signal{SampleRate: 100})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = New("norate", Signal{Samples: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	rec, err := New("ok", Signal{Samples: make([]float64, 250), SampleRate: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NotNil(t, rec.Markers)
	assert.False(t, rec.HasCF())
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestSignal_Conversions(t *testing.T) {
	s := Signal{Samples: make([]float64, 250), SampleRate: 100}
	assert.Equal(t, 250, s.Len())
	assert.InDelta(t, 2.5, s.Duration(), 1e-12)
	assert.Equal(t, 150, s.Index(1.5))
	assert.InDelta(t, 1.5, s.Seconds(150), 1e-12)
	assert.Zero(t, Signal{}.Seconds(10))
}

func TestRecord_TimeAndCF(t *testing.T) {
	rec, err := New("r", Signal{Samples: make([]float64, 10), SampleRate: 1})
	require.NoError(t, err)
	assert.True(t, rec.ValidTime(0))
	assert.True(t, rec.ValidTime(9))
	assert.False(t, rec.ValidTime(10))
	assert.False(t, rec.ValidTime(-1))

	assert.Zero(t, rec.CFAt(3))
	rec.CF = []float64{0, 1, 2, 3}
	assert.Equal(t, 3.0, rec.CFAt(3))
	assert.Zero(t, rec.CFAt(4))
}

func TestParseModeAndMethod(t *testing.T) {
	m, err := ParseMode("Manual")
	require.NoError(t, err)
	assert.Equal(t, ModeManual, m)
	_, err = ParseMode("robot")
	assert.Error(t, err)

	for _, name := range []string{"stalta", "ampa", "takanami", "other"} {
		_, err := ParseMethod(name)
		assert.NoError(t, err, name)
	}
	_, err = ParseMethod("guess")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	a := &Marker{Time: 1, CFValue: 5, Mode: ModeAutomatic, Method: MethodSTALTA, Label: "b"}
	b := &Marker{Time: 2, CFValue: 3, Mode: ModeManual, Method: MethodAMPA, Label: "a"}

	assert.Negative(t, Compare(a, b, FieldTime))
	assert.Positive(t, Compare(a, b, FieldCFValue))
	assert.Negative(t, Compare(a, b, FieldMode))
	assert.Positive(t, Compare(a, b, FieldMethod))
	assert.Positive(t, Compare(a, b, FieldLabel))
	assert.Zero(t, Compare(a, b, FieldComment))

	f, err := ParseField("CF_VALUE")
	require.NoError(t, err)
	assert.Equal(t, FieldCFValue, f)
	_, err = ParseField("colour")
	assert.Error(t, err)
}

func TestMarker_CloneKeepsIdentityFields(t *testing.T) {
	m := NewMarker(7, 1.5, ModeManual, MethodOther)
	m.Label = "p"
	c := m.Clone()
	assert.Equal(t, *m, *c)
	assert.NotSame(t, m, c)
	c.Time = 9
	assert.Equal(t, 7, m.Time)
}

func TestValid_IsCaseSensitive(t *testing.T) {
	assert.True(t, ModeManual.Valid())
	assert.False(t, Mode("MANUAL").Valid())
	assert.True(t, MethodTakanami.Valid())
	assert.False(t, Method("StaLta").Valid())

	m, err := ParseMethod("StaLta")
	require.NoError(t, err)
	assert.True(t, m.Valid())
}
