package extract

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"atmoscope/internal/blockfmt"
	"atmoscope/internal/logging"
	"atmoscope/internal/session"
)

// Extract applies rules in order to a finished decode and returns every field,
// or the first MalformedFieldError. It never returns a partial result.
func Extract(f *session.Final, rules Rules) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "Extract")
	defer timer.Stop()

	set := f.ResultSet()
	res := newResult(f.ID(), len(rules))
	for _, rule := range rules {
		field, err := rule.Apply(set)
		if err != nil {
			logging.ExtractWarn("session %s: %v", f.ID(), err)
			return nil, err
		}
		res.add(field)
	}

	logging.Extract("session %s: extracted %d fields", f.ID(), res.Len())
	return res, nil
}

// Apply runs one rule against a result set.
func (r Rule) Apply(set *blockfmt.ResultSet) (Field, error) {
	rec, ok := set.Block(r.Block)
	if !ok {
		return Field{}, r.malformed("block %q not found", r.Block)
	}
	v, ok := r.Entry.lookup(rec)
	if !ok {
		return Field{}, r.malformed("entry %s not found in block %q", r.Entry, r.Block)
	}

	field := Field{Name: r.Field, Kind: r.Kind}

	if r.Kind == KindList {
		if !v.IsArray() {
			return Field{}, r.malformed("expected an array, got scalar %q", v.Text())
		}
		field.List = make([]float64, 0, len(v.Items()))
		for i, item := range v.Items() {
			text, err := r.split(item)
			if err != nil {
				return Field{}, r.malformed("item %d: %v", i, err)
			}
			n, err := parseNumber(text, r.Unit)
			if err != nil {
				return Field{}, r.malformed("item %d: %v", i, err)
			}
			field.List = append(field.List, n)
		}
		return field, nil
	}

	if v.IsArray() {
		return Field{}, r.malformed("expected a scalar, got array of %d items", len(v.Items()))
	}
	text, err := r.split(v.Text())
	if err != nil {
		return Field{}, r.malformed("%v", err)
	}

	switch r.Kind {
	case KindNumber:
		field.Number, err = parseNumber(text, r.Unit)
	case KindText:
		field.Text, err = stripUnit(strings.TrimSpace(text), r.Unit)
	case KindTicks:
		var n float64
		n, err = parseNumber(text, r.Unit)
		field.Ticks = Ticks{Ticks: n, Seconds: n / TicksPerSecond}
	case KindMix:
		field.Mix, err = parseMix(text)
	default:
		err = fmt.Errorf("unknown kind %s", r.Kind)
	}
	if err != nil {
		return Field{}, r.malformed("%v", err)
	}
	return field, nil
}

func (r Rule) malformed(format string, args ...any) error {
	return &MalformedFieldError{Field: r.Field, Reason: fmt.Sprintf(format, args...)}
}

func (r Rule) split(text string) (string, error) {
	for _, s := range r.Splits {
		var parts []string
		if s.Sep == "" {
			parts = strings.Fields(text)
		} else {
			parts = strings.Split(text, s.Sep)
		}
		i := s.Part
		if i == Last {
			i = len(parts) - 1
		}
		if i < 0 || i >= len(parts) {
			return "", fmt.Errorf("split %q on %q: want part %d, got %d parts", text, s.Sep, s.Part, len(parts))
		}
		text = parts[i]
	}
	return text, nil
}

func stripUnit(text, unit string) (string, error) {
	if unit == "" {
		return text, nil
	}
	if !strings.HasSuffix(text, unit) {
		return "", fmt.Errorf("%q lacks unit %q", text, unit)
	}
	return strings.TrimSuffix(text, unit), nil
}

func parseNumber(text, unit string) (float64, error) {
	body, err := stripUnit(strings.TrimSpace(text), unit)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(body), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", body)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%q is not a finite number", body)
	}
	return n, nil
}

// parseMix parses "P1%:P2%=ratio gasA:gasB". Only the percentages and gas
// names must be well formed.
func parseMix(text string) (Mix, error) {
	var m Mix

	tokens := strings.Fields(text)
	if len(tokens) != 2 {
		return m, fmt.Errorf("mix %q: want 2 whitespace-separated parts, got %d", text, len(tokens))
	}
	percents, gases := tokens[0], tokens[1]

	sides := strings.Split(percents, "=")
	if len(sides) != 2 {
		return m, fmt.Errorf("mix %q: want one '='", percents)
	}
	fractions := strings.Split(sides[0], ":")
	if len(fractions) != 2 {
		return m, fmt.Errorf("mix %q: want two ':'-separated percentages", sides[0])
	}

	var err error
	if m.FirstPercent, err = parseNumber(fractions[0], "%"); err != nil {
		return m, err
	}
	if m.SecondPercent, err = parseNumber(fractions[1], "%"); err != nil {
		return m, err
	}
	// The ratio is informational; a degenerate split prints "inf" or "-".
	if ratio, err := parseNumber(sides[1], ""); err == nil {
		m.Ratio = ratio
	} else {
		m.RatioText = sides[1]
	}

	names := strings.Split(gases, ":")
	if len(names) != 2 {
		return m, fmt.Errorf("mix gases %q: want two ':'-separated names", gases)
	}
	m.FirstGas, m.SecondGas = names[0], names[1]
	return m, nil
}
