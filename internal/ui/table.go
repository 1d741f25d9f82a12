package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// maxCellWidth is where table cells wrap.
const maxCellWidth = 48

// RenderTable lays out rows under headers. Cells wrap at word boundaries
// and may contain ANSI styling; widths are measured on visible text.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	wrapped := make([][][]string, len(rows))
	for r, row := range rows {
		wrapped[r] = make([][]string, len(headers))
		for c := range headers {
			cell := ""
			if c < len(row) {
				cell = row[c]
			}
			if lipgloss.Width(cell) > maxCellWidth {
				cell = WrapText(cell, maxCellWidth)
			}
			lines := strings.Split(cell, "\n")
			wrapped[r][c] = lines
			for _, l := range lines {
				widths[c] = max(widths[c], lipgloss.Width(l))
			}
		}
	}

	var b strings.Builder
	writeLine := func(cells []string, style *lipgloss.Style) {
		for c, cell := range cells {
			pad := widths[c] - lipgloss.Width(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if c < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		b.WriteByte('\n')
	}

	writeLine(headers, &HeaderStyle)
	rule := make([]string, len(headers))
	for c := range rule {
		rule[c] = RenderMuted(strings.Repeat("─", widths[c]))
	}
	writeLine(rule, nil)

	for _, cells := range wrapped {
		height := 0
		for _, lines := range cells {
			height = max(height, len(lines))
		}
		for i := 0; i < height; i++ {
			line := make([]string, len(cells))
			for c, lines := range cells {
				if i < len(lines) {
					line[c] = lines[i]
				}
			}
			writeLine(line, nil)
		}
	}
	return b.String()
}
