package record

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Mode tells whether a marker was placed by hand or by a detector.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
)

// ParseMode accepts a mode name in any case and returns the canonical value.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeManual, ModeAutomatic:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Valid reports whether m is one of the canonical, lower-case modes.
func (m Mode) Valid() bool { return m == ModeManual || m == ModeAutomatic }

// Method identifies the algorithm that produced a marker.
type Method string

const (
	MethodSTALTA   Method = "stalta"
	MethodAMPA     Method = "ampa"
	MethodTakanami Method = "takanami"
	MethodOther    Method = "other"
)

// ParseMethod accepts a method name in any case and returns the canonical value.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(s)); m {
	case MethodSTALTA, MethodAMPA, MethodTakanami, MethodOther:
		return m, nil
	}
	return "", fmt.Errorf("unknown method %q", s)
}

// Valid reports whether m is one of the canonical, lower-case methods.
func (m Method) Valid() bool {
	switch m {
	case MethodSTALTA, MethodAMPA, MethodTakanami, MethodOther:
		return true
	}
	return false
}

// Marker is an arrival pick: a sample index into the owning record's signal
// plus descriptive attributes. Markers never hold signal data.
type Marker struct {
	ID      string
	Time    int
	CFValue float64
	Mode    Mode
	Method  Method
	Label   string
	Comment string
}

// NewMarker creates a marker with a fresh ID.
func NewMarker(t int, cfValue float64, mode Mode, method Method) *Marker {
	return &Marker{
		ID:      uuid.NewString(),
		Time:    t,
		CFValue: cfValue,
		Mode:    mode,
		Method:  method,
	}
}

// Clone returns a field-for-field copy that keeps the same ID.
func (m *Marker) Clone() *Marker {
	c := *m
	return &c
}

// Field names a marker attribute. It is used both as a sort key and as the
// key of an edit patch.
type Field string

const (
	FieldTime    Field = "time"
	FieldCFValue Field = "cf_value"
	FieldMode    Field = "mode"
	FieldMethod  Field = "method"
	FieldLabel   Field = "label"
	FieldComment Field = "comment"
)

// Fields lists every marker attribute in declaration order.
var Fields = []Field{FieldTime, FieldCFValue, FieldMode, FieldMethod, FieldLabel, FieldComment}

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(s))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown marker field %q", s)
}

// Compare orders two markers by a single attribute.
func Compare(a, b *Marker, f Field) int {
	switch f {
	case FieldTime:
		return cmp.Compare(a.Time, b.Time)
	case FieldCFValue:
		return cmp.Compare(a.CFValue, b.CFValue)
	case FieldMode:
		return strings.Compare(string(a.Mode), string(b.Mode))
	case FieldMethod:
		return strings.Compare(string(a.Method), string(b.Method))
	case FieldLabel:
		return strings.Compare(a.Label, b.Label)
	case FieldComment:
		return strings.Compare(a.Comment, b.Comment)
	}
	return 0
}
