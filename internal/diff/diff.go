// Package diff compares two recorded runs: their transcripts line by line
// (github.com/sergi/go-diff) and their extracted fields by name.
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines kept around each change.
const DefaultContext = 3

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Only in the new transcript
	LineRemoved                 // Only in the old transcript
)

func (t LineType) prefix() string {
	switch t {
	case LineAdded:
		return "+"
	case LineRemoved:
		return "-"
	default:
		return " "
	}
}

// Line represents a single line in the diff
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk represents a group of changes
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// TranscriptDiff is the line diff between two runs' output.
type TranscriptDiff struct {
	OldID string
	NewID string
	Hunks []Hunk
}

// Equal reports whether the transcripts matched.
func (d *TranscriptDiff) Equal() bool { return len(d.Hunks) == 0 }

// Engine computes transcript diffs and caches results by content hash.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	context int
	cache   sync.Map // cacheKey -> []Hunk
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates an engine that keeps contextLines around each change.
func NewEngine(contextLines int) *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	if contextLines < 0 {
		contextLines = DefaultContext
	}
	return &Engine{dmp: dmp, context: contextLines}
}

// DefaultEngine is shared by Transcripts.
var DefaultEngine = NewEngine(DefaultContext)

// Transcripts diffs two transcripts with the default engine.
func Transcripts(oldID, newID string, oldText, newText []byte) *TranscriptDiff {
	return DefaultEngine.Transcripts(oldID, newID, oldText, newText)
}

// Transcripts diffs two transcripts line by line.
func (e *Engine) Transcripts(oldID, newID string, oldText, newText []byte) *TranscriptDiff {
	d := &TranscriptDiff{OldID: oldID, NewID: newID}

	key := cacheKey{xxhash.Sum64(oldText), xxhash.Sum64(newText)}
	if cached, ok := e.cache.Load(key); ok {
		d.Hunks = cloneHunks(cached.([]Hunk))
		return d
	}

	// Reduce to one rune per line so hunks never split a line.
	a, b, lineArray := e.dmp.DiffLinesToChars(string(oldText), string(newText))
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	d.Hunks = e.groupIntoHunks(toOperations(diffs))
	e.cache.Store(key, cloneHunks(d.Hunks))
	return d
}

// cloneHunks copies hunks so callers never share the cached lines.
func cloneHunks(hunks []Hunk) []Hunk {
	if hunks == nil {
		return nil
	}
	out := make([]Hunk, len(hunks))
	for i, h := range hunks {
		out[i] = h
		out[i].Lines = append([]Line(nil), h.Lines...)
	}
	return out
}

// operation is one line with its position on each side (-1 when absent).
type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

func toOperations(diffs []diffmatchpatch.Diff) []operation {
	ops := make([]operation, 0, len(diffs))
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

// groupIntoHunks collects changes with up to e.context lines on each side;
// changes closer than twice that share a hunk.
func (e *Engine) groupIntoHunks(ops []operation) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(ops) {
		if ops[i].typ == LineContext {
			i++
			continue
		}

		start := max(i-e.context, 0)
		end := i
		for end < len(ops) {
			if ops[end].typ != LineContext {
				end++
				continue
			}
			run := end
			for run < len(ops) && ops[run].typ == LineContext {
				run++
			}
			if run == len(ops) || run-end > 2*e.context {
				end = min(end+e.context, len(ops))
				break
			}
			end = run
		}

		hunks = append(hunks, makeHunk(ops[start:end]))
		i = end
	}
	return hunks
}

func makeHunk(ops []operation) Hunk {
	h := Hunk{Lines: make([]Line, 0, len(ops))}
	for _, op := range ops {
		num := op.oldLine + 1
		if op.typ == LineAdded {
			num = op.newLine + 1
		}
		h.Lines = append(h.Lines, Line{LineNum: num, Content: op.content, Type: op.typ})

		if op.typ != LineAdded {
			if h.OldCount == 0 {
				h.OldStart = op.oldLine + 1
			}
			h.OldCount++
		}
		if op.typ != LineRemoved {
			if h.NewCount == 0 {
				h.NewStart = op.newLine + 1
			}
			h.NewCount++
		}
	}
	return h
}

// WriteUnified writes the diff in unified format.
func (d *TranscriptDiff) WriteUnified(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n+++ %s\n", d.OldID, d.NewID)
	for _, h := range d.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			buf.WriteString(l.Type.prefix())
			buf.WriteString(l.Content)
			buf.WriteByte('\n')
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// FieldChange is one extracted field that differs between runs. Old or New is
// empty when the field exists on one side only.
type FieldChange struct {
	Name string
	Old  string
	New  string
}

// Fields compares two runs' extracted fields (the JSON object a Result
// marshals to). Either side may be empty, as for a failed run.
func Fields(oldFields, newFields json.RawMessage) ([]FieldChange, error) {
	before, err := decodeFields(oldFields)
	if err != nil {
		return nil, fmt.Errorf("old fields: %w", err)
	}
	after, err := decodeFields(newFields)
	if err != nil {
		return nil, fmt.Errorf("new fields: %w", err)
	}

	names := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		names[k] = struct{}{}
	}
	for k := range after {
		names[k] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []FieldChange
	for _, name := range sorted {
		o, n := before[name], after[name]
		if o != n {
			changes = append(changes, FieldChange{Name: name, Old: o, New: n})
		}
	}
	return changes, nil
}

// decodeFields maps each field to its compact JSON text.
func decodeFields(raw json.RawMessage) (map[string]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, err
		}
		out[k] = buf.String()
	}
	return out, nil
}
