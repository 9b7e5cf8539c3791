package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"atmoscope/internal/extract"
)

// Table is a titled grid of text cells. Numeric cells are right aligned so
// decimal places line up down a column.
type Table struct {
	title  string
	header []string
	widths []int
	rows   [][]string
}

// NewTable creates a table whose columns are named by header.
func NewTable(title string, header ...string) *Table {
	t := &Table{title: title, header: header, widths: make([]int, len(header))}
	for i, h := range header {
		t.widths[i] = lipgloss.Width(h)
	}
	return t
}

// AddRow appends a row. Missing cells render empty; extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.header))
	copy(row, cells)
	for i, c := range row {
		t.widths[i] = max(t.widths[i], lipgloss.Width(c))
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// View renders the table. A table without rows renders nothing.
func (t *Table) View(styles Styles) string {
	if len(t.rows) == 0 {
		return ""
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(styles.Title.Render(t.title))
		sb.WriteByte('\n')
	}

	sep := styles.Muted.Render("|")
	t.writeRow(&sb, t.header, styles.Bold, sep, false)

	rule := make([]string, len(t.widths))
	for i, w := range t.widths {
		rule[i] = strings.Repeat("-", w+2)
	}
	sb.WriteString(styles.Muted.Render(strings.Join(rule, "+")))
	sb.WriteByte('\n')

	for _, row := range t.rows {
		t.writeRow(&sb, row, styles.Body, sep, true)
	}
	return sb.String()
}

func (t *Table) writeRow(sb *strings.Builder, cells []string, style lipgloss.Style, sep string, alignNumbers bool) {
	for i, c := range cells {
		if i > 0 {
			sb.WriteString(sep)
		}
		cell := style.Padding(0, 1).Width(t.widths[i] + 2)
		if alignNumbers && isNumber(c) {
			cell = cell.Align(lipgloss.Right)
		}
		sb.WriteString(cell.Render(c))
	}
	sb.WriteByte('\n')
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// ResultTable lays out extracted fields in rule order.
func ResultTable(res *extract.Result) *Table {
	t := NewTable("Result", "Field", "Value")
	for _, f := range res.Fields() {
		t.AddRow(f.Name, f.String())
	}
	return t
}
