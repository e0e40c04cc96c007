package artifacts

import (
	"fmt"
	"strings"

	"github.com/kestrelhq/kestrel/internal/renderer"
)

// RenderText formats a table as fixed-width text for embedding in chat
// messages and plain-text email bodies.
func RenderText(table *renderer.Table) string {
	if table == nil || len(table.Columns) == 0 {
		return ""
	}

	widths := make([]int, len(table.Columns))
	for i, col := range table.Columns {
		widths[i] = len(col)
	}

	cells := make([][]string, len(table.Rows))
	for r, row := range table.Rows {
		cells[r] = make([]string, len(table.Columns))
		for c := range table.Columns {
			var text string
			if c < len(row) {
				text = formatCell(row[c])
			}
			cells[r][c] = text
			if len(text) > widths[c] {
				widths[c] = len(text)
			}
		}
	}

	var sb strings.Builder

	writeRow := func(values []string) {
		for i, v := range values {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(v)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(v)))
		}
		sb.WriteString("\n")
	}

	writeRow(table.Columns)

	separators := make([]string, len(table.Columns))
	for i, w := range widths {
		separators[i] = strings.Repeat("-", w)
	}
	writeRow(separators)

	for _, row := range cells {
		writeRow(row)
	}

	return sb.String()
}

func formatCell(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		// Avoid trailing zeros on whole numbers decoded from JSON.
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
