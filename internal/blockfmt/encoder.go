package blockfmt

import (
	"bufio"
	"io"
	"strings"
)

// Encoder writes a ResultSet back out in the block wire format, one tab of
// indentation per entry and arrays terminated with "];".
//
// The format has no escaping. A scalar that starts with '[' will decode as an
// array, and a key containing ": " will split differently on the way back.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes every block of set in order and flushes.
func (e *Encoder) Encode(set *ResultSet) error {
	for _, name := range set.Names() {
		rec, _ := set.Block(name)
		if err := e.writeBlock(name, rec); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

func (e *Encoder) writeBlock(name string, rec *Record) error {
	if _, err := e.w.WriteString(name + openSuffix + "\n"); err != nil {
		return err
	}
	for i := 0; i < rec.Len(); i++ {
		key, v, _ := rec.At(i)
		if _, err := e.w.WriteString("\t" + key + entrySep + FormatValue(v) + "\n"); err != nil {
			return err
		}
	}
	_, err := e.w.WriteString(closeLine + "\n")
	return err
}

// FormatValue renders a single value the way the producer prints it.
func FormatValue(v Value) string {
	if !v.IsArray() {
		return v.Text()
	}
	return "[" + strings.Join(v.Items(), " | ") + "];"
}
