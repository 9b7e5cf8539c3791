// Package extract turns a finished block mapping into typed display fields.
//
// Every field has one fixed, declarative Rule: which block, which entry, how
// to split the entry text, which unit suffix to strip, and how to parse what
// is left. Rules are intentionally tolerant of exactly one textual format per
// field. A rule that does not match fails with a MalformedFieldError naming the
// field, and extraction stops at the first failure.
package extract

import (
	"errors"
	"fmt"
	"strconv"

	"atmoscope/internal/blockfmt"
)

// Kind selects how the text left after splitting is interpreted.
type Kind int

const (
	// KindNumber parses a float64.
	KindNumber Kind = iota
	// KindText keeps the string.
	KindText
	// KindList parses every element of an array entry as a float64.
	KindList
	// KindMix parses "P1%:P2%=ratio gasA:gasB".
	KindMix
	// KindTicks parses a tick count and derives seconds from it.
	KindTicks
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindMix:
		return "mix"
	case KindTicks:
		return "ticks"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// TicksPerSecond is the simulator's fixed tick rate.
const TicksPerSecond = 2.0

// Last selects the final part of a split.
const Last = -1

// Split splits the current text on Sep and keeps part Part. An empty Sep
// splits on runs of whitespace.
type Split struct {
	Sep  string
	Part int
}

// LastToken keeps the last whitespace-separated token.
var LastToken = Split{Part: Last}

// Selector picks one entry of a block, by key or by insertion index.
type Selector struct {
	key     string
	index   int
	byIndex bool
}

// ByKey selects the entry stored under key.
func ByKey(key string) Selector { return Selector{key: key} }

// ByIndex selects the i-th entry of the block.
func ByIndex(i int) Selector { return Selector{index: i, byIndex: true} }

func (s Selector) String() string {
	if s.byIndex {
		return "#" + strconv.Itoa(s.index)
	}
	return strconv.Quote(s.key)
}

func (s Selector) valid() bool {
	return s.byIndex || s.key != ""
}

func (s Selector) lookup(rec *blockfmt.Record) (blockfmt.Value, bool) {
	if s.byIndex {
		_, v, ok := rec.At(s.index)
		return v, ok
	}
	return rec.Get(s.key)
}

// Rule is the extraction descriptor for one display field.
type Rule struct {
	Field  string
	Block  string
	Entry  Selector
	Kind   Kind
	Splits []Split
	Unit   string
}

// Rules is an ordered rule table. Extraction follows table order.
type Rules []Rule

// Validate checks the table for descriptors that could never match.
func (rs Rules) Validate() error {
	seen := make(map[string]bool, len(rs))
	var errs []error
	for i, r := range rs {
		switch {
		case r.Field == "":
			errs = append(errs, fmt.Errorf("rule %d: field name is empty", i))
		case seen[r.Field]:
			errs = append(errs, fmt.Errorf("rule %d: duplicate field %q", i, r.Field))
		}
		seen[r.Field] = true
		if r.Block == "" {
			errs = append(errs, fmt.Errorf("rule %q: block name is empty", r.Field))
		}
		if !r.Entry.valid() {
			errs = append(errs, fmt.Errorf("rule %q: entry selector has neither key nor index", r.Field))
		}
		if r.Kind < KindNumber || r.Kind > KindTicks {
			errs = append(errs, fmt.Errorf("rule %q: unknown kind %d", r.Field, r.Kind))
		}
	}
	return errors.Join(errs...)
}

// DefaultRules extracts the fields shown for an atmosim report.
var DefaultRules = Rules{
	{Field: "fuel_mix", Block: "TANK", Entry: ByKey("mix"), Kind: KindMix},
	{Field: "fuel_temperature", Block: "TANK", Entry: ByKey("mix temp"), Kind: KindNumber, Splits: []Split{LastToken}, Unit: "K"},
	{Field: "fuel_pressure", Block: "TANK", Entry: ByKey("mix pressure"), Kind: KindNumber, Unit: "kPa"},
	{Field: "primer_temperature", Block: "TANK", Entry: ByKey("primer temp"), Kind: KindNumber, Splits: []Split{LastToken}, Unit: "K"},
	{Field: "ticks", Block: "TANK", Entry: ByKey("ticks"), Kind: KindTicks, Unit: "t"},
	{Field: "radius", Block: "TANK", Entry: ByKey("radius"), Kind: KindNumber, Unit: "til"},
	{Field: "end_state", Block: "TANK", Entry: ByKey("state"), Kind: KindText},
	{Field: "optstat", Block: "TANK", Entry: ByKey("optstat"), Kind: KindNumber},
	{Field: "least_mols", Block: "REQUIREMENTS", Entry: ByKey("least-mols"), Kind: KindList},
	{Field: "tank_pressure", Block: "REQUIREMENTS", Entry: ByKey("tank pressure"), Kind: KindNumber, Unit: "kPa"},
	{Field: "primer_pressure", Block: "REQUIREMENTS", Entry: ByKey("primer pressure"), Kind: KindNumber, Unit: "kPa"},
}
