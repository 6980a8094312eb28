package target

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FormatText renders a result the way the mysql command line client does:
// an ASCII grid for row sets, a "Query OK" line for mutations.
func (r *Result) FormatText() string {
	if len(r.Columns) == 0 {
		if r.RowsAffected == 1 {
			return fmt.Sprintf("Query OK, 1 row affected (%.3f sec)", float64(r.ExecutionMS)/1000)
		}
		return fmt.Sprintf("Query OK, %d rows affected (%.3f sec)", r.RowsAffected, float64(r.ExecutionMS)/1000)
	}

	if len(r.Rows) == 0 {
		return fmt.Sprintf("Empty set (%.3f sec)", float64(r.ExecutionMS)/1000)
	}

	widths := make([]int, len(r.Columns))
	for i, col := range r.Columns {
		widths[i] = utf8.RuneCountInString(col)
	}
	for _, row := range r.Rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := utf8.RuneCountInString(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	var b strings.Builder
	writeSeparator(&b, widths)
	writeRow(&b, r.Columns, widths)
	writeSeparator(&b, widths)
	for _, row := range r.Rows {
		writeRow(&b, row, widths)
	}
	writeSeparator(&b, widths)

	noun := "rows"
	if len(r.Rows) == 1 {
		noun = "row"
	}
	fmt.Fprintf(&b, "%d %s in set (%.3f sec)", len(r.Rows), noun, float64(r.ExecutionMS)/1000)
	if r.Truncated {
		b.WriteString(" [truncated]")
	}
	return b.String()
}

func writeSeparator(b *strings.Builder, widths []int) {
	for _, w := range widths {
		b.WriteByte('+')
		b.WriteString(strings.Repeat("-", w+2))
	}
	b.WriteString("+\n")
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := w - utf8.RuneCountInString(cell)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(b, "| %s%s ", cell, strings.Repeat(" ", pad))
	}
	b.WriteString("|\n")
}
