package blockfmt

import (
	"strings"

	"atmoscope/internal/logging"
)

const (
	openSuffix = ": {"
	closeLine  = "}"
	entrySep   = ": "
)

// Parser incrementally builds a ResultSet from completed lines.
// At most one block is open at a time. A Parser is not safe for concurrent use.
type Parser struct {
	set      *ResultSet
	open     *Record
	openName string
	ignored  int
}

// NewParser returns a parser with an empty result set.
func NewParser() *Parser {
	return &Parser{set: NewResultSet()}
}

// Feed classifies one line and applies it to the result set:
//
//  1. "NAME: {" opens block NAME with an empty record (replacing any earlier one);
//  2. "}" closes the open block;
//  3. "key: value" inside an open block stores an entry;
//  4. anything else is ignored.
func (p *Parser) Feed(line string) {
	line = Normalize(line)

	if name, ok := BlockName(line); ok {
		p.open = p.set.Open(name)
		p.openName = name
		logging.DecodeDebug("block opened: %s", name)
		return
	}

	if IsBlockClose(line) {
		if p.open != nil {
			logging.DecodeDebug("block closed: %s (%d entries)", p.openName, p.open.Len())
		}
		p.open = nil
		p.openName = ""
		return
	}

	if p.open == nil {
		p.ignore(line, "no open block")
		return
	}

	key, content, ok := SplitEntry(line)
	if !ok {
		p.ignore(line, "no entry separator")
		return
	}
	p.open.Set(key, ParseValue(content))
}

func (p *Parser) ignore(line, reason string) {
	p.ignored++
	logging.DecodeDebug("ignored line (%s): %q", reason, line)
}

// ResultSet returns the result set being built. It is only consistent once
// the stream has ended.
func (p *Parser) ResultSet() *ResultSet {
	return p.set
}

// OpenBlock returns the name of the currently open block, if any.
func (p *Parser) OpenBlock() (string, bool) {
	return p.openName, p.open != nil
}

// Ignored returns how many lines did not match any recognized shape.
func (p *Parser) Ignored() int {
	return p.ignored
}

// Normalize strips the producer's tab indentation and a trailing carriage
// return so line shapes can be matched exactly.
func Normalize(line string) string {
	if strings.IndexByte(line, '\t') >= 0 {
		line = strings.ReplaceAll(line, "\t", "")
	}
	return strings.TrimSuffix(line, "\r")
}

// BlockName reports whether line opens a block and returns its name: the text
// before the first ':'.
func BlockName(line string) (string, bool) {
	if !strings.HasSuffix(line, openSuffix) {
		return "", false
	}
	name, _, _ := strings.Cut(line, ":")
	return name, true
}

// IsBlockClose reports whether line closes the open block.
func IsBlockClose(line string) bool {
	return line == closeLine
}

// SplitEntry splits an entry line on the first ": ".
func SplitEntry(line string) (key, content string, ok bool) {
	return strings.Cut(line, entrySep)
}

// ParseValue turns entry content into a Value. Content starting with '[' is an
// array; anything else is kept verbatim.
func ParseValue(content string) Value {
	if strings.HasPrefix(content, "[") {
		return Array(ParseArray(content)...)
	}
	return Scalar(content)
}

// ParseArray parses "[a | b | c]" or "[a | b | c];" into its trimmed items.
// A missing closing bracket is tolerated. An empty body yields no items.
func ParseArray(content string) []string {
	body := strings.TrimPrefix(content, "[")
	body = strings.TrimSuffix(body, ";")
	body = strings.TrimSuffix(body, "]")
	if strings.TrimSpace(body) == "" {
		return []string{}
	}

	parts := strings.Split(body, "|")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
