// Package display renders run results for the terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TableFormatter builds a bordered table sized to its widest cells
type TableFormatter struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTableFormatter creates a table with the given headers
func NewTableFormatter(headers ...string) *TableFormatter {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	return &TableFormatter{headers: headers, widths: widths}
}

// AddRow appends a row. Rows with the wrong number of cells are dropped.
func (t *TableFormatter) AddRow(cells ...string) {
	if len(cells) != len(t.headers) {
		return
	}
	t.rows = append(t.rows, cells)
	for i, cell := range cells {
		if w := lipgloss.Width(cell); w > t.widths[i] {
			t.widths[i] = w
		}
	}
}

// Len returns the number of rows
func (t *TableFormatter) Len() int {
	return len(t.rows)
}

func (t *TableFormatter) String() string {
	var sb strings.Builder

	t.writeBorder(&sb, "┌", "┬", "┐")
	t.writeRow(&sb, t.headers)
	t.writeBorder(&sb, "├", "┼", "┤")
	for _, row := range t.rows {
		t.writeRow(&sb, row)
	}
	t.writeBorder(&sb, "└", "┴", "┘")

	return sb.String()
}

func (t *TableFormatter) writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("│")
	for i, cell := range cells {
		pad := t.widths[i] - lipgloss.Width(cell)
		fmt.Fprintf(sb, " %s%s │", cell, strings.Repeat(" ", pad))
	}
	sb.WriteString("\n")
}

func (t *TableFormatter) writeBorder(sb *strings.Builder, left, middle, right string) {
	sb.WriteString(left)
	for i, w := range t.widths {
		sb.WriteString(strings.Repeat("─", w+2))
		if i < len(t.widths)-1 {
			sb.WriteString(middle)
		}
	}
	sb.WriteString(right)
	sb.WriteString("\n")
}
