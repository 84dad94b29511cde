package utils

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
)

// RenderTable writes rows as an ASCII table.
func RenderTable(w io.Writer, headers []string, data [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// RenderBox frames lines under a title. Widths are display cells, so CJK
// text keeps the right border straight.
func RenderBox(title string, lines []string) string {
	titleWidth := runewidth.StringWidth(title)
	maxWidth := titleWidth + 4
	for _, line := range lines {
		if w := runewidth.StringWidth(line) + 2; w > maxWidth {
			maxWidth = w
		}
	}

	var b strings.Builder
	b.WriteString("┌─ " + title + " " + strings.Repeat("─", maxWidth-titleWidth-3) + "┐\n")
	for _, line := range lines {
		padding := maxWidth - runewidth.StringWidth(line) - 2
		b.WriteString("│ " + line + strings.Repeat(" ", padding) + " │\n")
	}
	b.WriteString("└" + strings.Repeat("─", maxWidth) + "┘\n")
	return b.String()
}
