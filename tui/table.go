package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableNumberStyle = tableCellStyle.Align(lipgloss.Right)
)

// RenderTable returns headers and rows as a bordered table. Columns whose
// cells are all numeric are right aligned.
func RenderTable(headers []string, rows [][]string) string {
	numeric := numericColumns(len(headers), rows)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col < len(numeric) && numeric[col] {
				return tableNumberStyle
			}
			return tableCellStyle
		})
	return t.String()
}

// Table writes the rendered table to w.
func Table(w io.Writer, headers []string, rows [][]string) {
	fmt.Fprintln(w, RenderTable(headers, rows))
}

func numericColumns(n int, rows [][]string) []bool {
	numeric := make([]bool, n)
	for col := range numeric {
		numeric[col] = len(rows) > 0
		for _, row := range rows {
			if col >= len(row) || !isNumber(row[col]) {
				numeric[col] = false
				break
			}
		}
	}
	return numeric
}

func isNumber(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == ',':
		case r == '-' && i == 0:
		default:
			return false
		}
	}
	return true
}
