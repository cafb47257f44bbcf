package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/runnerr0/onset/internal/record"
)

// Patch is a typed set of marker field assignments. A nil field is left
// alone. Build one with the With* methods:
//
//	p := ledger.Patch{}.WithTime(600).WithLabel("P")
type Patch struct {
	Time    *int
	CFValue *float64
	Mode    *record.Mode
	Method  *record.Method
	Label   *string
	Comment *string
}

func (p Patch) WithTime(t int) Patch             { p.Time = &t; return p }
func (p Patch) WithCFValue(v float64) Patch      { p.CFValue = &v; return p }
func (p Patch) WithMode(m record.Mode) Patch     { p.Mode = &m; return p }
func (p Patch) WithMethod(m record.Method) Patch { p.Method = &m; return p }
func (p Patch) WithLabel(s string) Patch         { p.Label = &s; return p }
func (p Patch) WithComment(s string) Patch       { p.Comment = &s; return p }

// Fields lists the fields the patch assigns.
func (p Patch) Fields() []record.Field {
	var fs []record.Field
	if p.Time != nil {
		fs = append(fs, record.FieldTime)
	}
	if p.CFValue != nil {
		fs = append(fs, record.FieldCFValue)
	}
	if p.Mode != nil {
		fs = append(fs, record.FieldMode)
	}
	if p.Method != nil {
		fs = append(fs, record.FieldMethod)
	}
	if p.Label != nil {
		fs = append(fs, record.FieldLabel)
	}
	if p.Comment != nil {
		fs = append(fs, record.FieldComment)
	}
	return fs
}

// IsEmpty reports whether the patch assigns nothing.
func (p Patch) IsEmpty() bool { return len(p.Fields()) == 0 }

// capture returns a patch holding m's current values for the fields p
// assigns.
func (p Patch) capture(m *record.Marker) Patch {
	var old Patch
	if p.Time != nil {
		old = old.WithTime(m.Time)
	}
	if p.CFValue != nil {
		old = old.WithCFValue(m.CFValue)
	}
	if p.Mode != nil {
		old = old.WithMode(m.Mode)
	}
	if p.Method != nil {
		old = old.WithMethod(m.Method)
	}
	if p.Label != nil {
		old = old.WithLabel(m.Label)
	}
	if p.Comment != nil {
		old = old.WithComment(m.Comment)
	}
	return old
}

// matches reports whether every field p assigns already holds p's value.
func (p Patch) matches(m *record.Marker) bool {
	switch {
	case p.Time != nil && m.Time != *p.Time:
		return false
	case p.CFValue != nil && m.CFValue != *p.CFValue:
		return false
	case p.Mode != nil && m.Mode != *p.Mode:
		return false
	case p.Method != nil && m.Method != *p.Method:
		return false
	case p.Label != nil && m.Label != *p.Label:
		return false
	case p.Comment != nil && m.Comment != *p.Comment:
		return false
	}
	return true
}

func (p Patch) applyTo(m *record.Marker) {
	if p.Time != nil {
		m.Time = *p.Time
	}
	if p.CFValue != nil {
		m.CFValue = *p.CFValue
	}
	if p.Mode != nil {
		m.Mode = *p.Mode
	}
	if p.Method != nil {
		m.Method = *p.Method
	}
	if p.Label != nil {
		m.Label = *p.Label
	}
	if p.Comment != nil {
		m.Comment = *p.Comment
	}
}

func (p Patch) validate(rec *record.Record) error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: edit assigns no fields", ErrInvalidMarker)
	}
	if p.Time != nil && !rec.ValidTime(*p.Time) {
		return fmt.Errorf("%w: time %d outside [0, %d)", ErrInvalidMarker, *p.Time, rec.Signal.Len())
	}
	if p.Mode != nil && !p.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidMarker, *p.Mode)
	}
	if p.Method != nil && !p.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidMarker, *p.Method)
	}
	return nil
}

// ParseAssignments builds a patch from "field=value" strings, as typed in
// the session shell.
func ParseAssignments(assignments []string) (Patch, error) {
	var p Patch
	for _, a := range assignments {
		name, value, ok := strings.Cut(a, "=")
		if !ok {
			return Patch{}, fmt.Errorf("expected field=value, got %q", a)
		}
		field, err := record.ParseField(name)
		if err != nil {
			return Patch{}, err
		}
		switch field {
		case record.FieldTime:
			t, err := strconv.Atoi(value)
			if err != nil {
				return Patch{}, fmt.Errorf("time: %w", err)
			}
			p = p.WithTime(t)
		case record.FieldCFValue:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Patch{}, fmt.Errorf("cf_value: %w", err)
			}
			p = p.WithCFValue(v)
		case record.FieldMode:
			m, err := record.ParseMode(value)
			if err != nil {
				return Patch{}, err
			}
			p = p.WithMode(m)
		case record.FieldMethod:
			m, err := record.ParseMethod(value)
			if err != nil {
				return Patch{}, err
			}
			p = p.WithMethod(m)
		case record.FieldLabel:
			p = p.WithLabel(value)
		case record.FieldComment:
			p = p.WithComment(value)
		}
	}
	return p, nil
}
