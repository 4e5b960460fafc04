package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"gonum.org/v1/gonum/mat"
)

// RenderTable lays out headers and rows as a left-aligned text table.
// Column widths are measured in terminal cells, so labels such as "γ" or CJK
// text line up.
//
// Expectations:
//   - Every column is as wide as its widest cell plus two spaces of gutter
//   - Rows shorter than headers are padded with empty cells
//   - A dashed rule separates the header from the body
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for c, h := range headers {
		widths[c] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for c := 0; c < len(headers) && c < len(r); c++ {
			if w := runewidth.StringWidth(r[c]); w > widths[c] {
				widths[c] = w
			}
		}
	}

	var sb strings.Builder
	line := func(cells []string) {
		for c := range headers {
			cell := ""
			if c < len(cells) {
				cell = cells[c]
			}
			if c == len(headers)-1 {
				sb.WriteString(cell)
			} else {
				sb.WriteString(runewidth.FillRight(cell, widths[c]+2))
			}
		}
		sb.WriteString("\n")
	}
	line(headers)
	rule := make([]string, len(headers))
	for c, w := range widths {
		rule[c] = strings.Repeat("─", w)
	}
	line(rule)
	for _, r := range rows {
		line(r)
	}
	return sb.String()
}

// FormatMatrix renders m with one row per line and a fixed number of decimals.
func FormatMatrix(m mat.Matrix, decimals int) string {
	r, c := m.Dims()
	cells := make([][]string, r)
	width := 0
	for i := 0; i < r; i++ {
		cells[i] = make([]string, c)
		for j := 0; j < c; j++ {
			s := fmt.Sprintf("%.*f", decimals, m.At(i, j))
			cells[i][j] = s
			if w := runewidth.StringWidth(s); w > width {
				width = w
			}
		}
	}
	var sb strings.Builder
	for i := range cells {
		for j, s := range cells[i] {
			if j > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(runewidth.FillLeft(s, width))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
