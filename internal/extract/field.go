package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedField matches every MalformedFieldError via errors.Is.
var ErrMalformedField = errors.New("malformed field")

// MalformedFieldError reports that a rule's expected pattern was not found.
type MalformedFieldError struct {
	Field  string
	Reason string
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("malformed field %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedField) succeed.
func (e *MalformedFieldError) Is(target error) bool {
	return target == ErrMalformedField
}

// Mix is a two-gas mixture: "60.633331%:39.366669%=1.540220 plasma:tritium".
type Mix struct {
	FirstPercent  float64 `json:"first_percent"`
	SecondPercent float64 `json:"second_percent"`
	Ratio         float64 `json:"ratio"`
	FirstGas      string  `json:"first_gas"`
	SecondGas     string  `json:"second_gas"`

	// RatioText holds the ratio as printed when it is not a finite number.
	RatioText string `json:"ratio_text,omitempty"`
}

func (m Mix) ratio() string {
	if m.RatioText != "" {
		return m.RatioText
	}
	return formatNumber(m.Ratio)
}

// Ticks is a tick count and the same duration in seconds.
type Ticks struct {
	Ticks   float64 `json:"ticks"`
	Seconds float64 `json:"seconds"`
}

// Field is one extracted, typed value. Which member is set depends on Kind.
type Field struct {
	Name   string
	Kind   Kind
	Number float64
	Text   string
	List   []float64
	Mix    Mix
	Ticks  Ticks
}

// Value returns the member selected by Kind.
func (f Field) Value() any {
	switch f.Kind {
	case KindNumber:
		return f.Number
	case KindText:
		return f.Text
	case KindList:
		return f.List
	case KindMix:
		return f.Mix
	case KindTicks:
		return f.Ticks
	}
	return nil
}

// String renders the value for display, numbers to 4 decimal places.
func (f Field) String() string {
	switch f.Kind {
	case KindNumber:
		return formatNumber(f.Number)
	case KindText:
		return f.Text
	case KindList:
		parts := make([]string, len(f.List))
		for i, n := range f.List {
			parts[i] = formatNumber(n)
		}
		return strings.Join(parts, ", ")
	case KindMix:
		return fmt.Sprintf("%s%% %s / %s%% %s (ratio %s)",
			formatNumber(f.Mix.FirstPercent), f.Mix.FirstGas,
			formatNumber(f.Mix.SecondPercent), f.Mix.SecondGas,
			f.Mix.ratio())
	case KindTicks:
		return fmt.Sprintf("%s ticks (%ss)", formatNumber(f.Ticks.Ticks), formatNumber(f.Ticks.Seconds))
	}
	return ""
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', 4, 64)
}

// Result is the full set of extracted fields in rule order.
type Result struct {
	SessionID string
	fields    []Field
	index     map[string]int
}

func newResult(sessionID string, n int) *Result {
	return &Result{
		SessionID: sessionID,
		fields:    make([]Field, 0, n),
		index:     make(map[string]int, n),
	}
}

func (r *Result) add(f Field) {
	r.index[f.Name] = len(r.fields)
	r.fields = append(r.fields, f)
}

// Fields returns the extracted fields in rule order.
func (r *Result) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r *Result) Len() int { return len(r.fields) }

// Get returns the field with the given name.
func (r *Result) Get(name string) (Field, bool) {
	i, ok := r.index[name]
	if !ok {
		return Field{}, false
	}
	return r.fields[i], true
}

// Number returns a numeric field's value.
func (r *Result) Number(name string) (float64, bool) {
	f, ok := r.Get(name)
	if !ok || f.Kind != KindNumber {
		return 0, false
	}
	return f.Number, true
}

// Mix returns a mix field's value.
func (r *Result) Mix(name string) (Mix, bool) {
	f, ok := r.Get(name)
	if !ok || f.Kind != KindMix {
		return Mix{}, false
	}
	return f.Mix, true
}

// MarshalJSON encodes the fields as one object keyed by field name, in rule
// order.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", f.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
