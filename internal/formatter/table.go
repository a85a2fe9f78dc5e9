// Package formatter renders width-aligned markdown tables for run reports.
package formatter

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// minColumnWidth keeps separators at least "---".
const minColumnWidth = 3

// Table renders header and rows as a markdown table. Columns are padded
// by display width so CJK and emoji cells line up. Short rows are padded
// with empty cells.
func Table(header []string, rows [][]string) []string {
	colCount := len(header)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	if colCount == 0 {
		return nil
	}

	colWidths := make([]int, colCount)

	measure := func(row []string) {
		for i := 0; i < len(row) && i < colCount; i++ {
			if width := runewidth.StringWidth(escapeCell(row[i])); width > colWidths[i] {
				colWidths[i] = width
			}
		}
	}

	measure(header)

	for _, row := range rows {
		measure(row)
	}

	for i := range colWidths {
		if colWidths[i] < minColumnWidth {
			colWidths[i] = minColumnWidth
		}
	}

	result := make([]string, 0, len(rows)+2)
	result = append(result, renderRow(header, colWidths, false))
	result = append(result, renderRow(nil, colWidths, true))

	for _, row := range rows {
		result = append(result, renderRow(row, colWidths, false))
	}

	return result
}

func renderRow(row []string, colWidths []int, separator bool) string {
	var sb strings.Builder

	sb.WriteString("|")

	for j, width := range colWidths {
		sb.WriteString(" ")

		if separator {
			sb.WriteString(strings.Repeat("-", width))
		} else {
			content := ""
			if j < len(row) {
				content = escapeCell(row[j])
			}

			sb.WriteString(content)

			if padding := width - runewidth.StringWidth(content); padding > 0 {
				sb.WriteString(strings.Repeat(" ", padding))
			}
		}

		sb.WriteString(" |")
	}

	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// SummaryRow is one sink's counters in the run report.
type SummaryRow struct {
	Name      string
	Attempted int
	Written   int
	Failed    int
}

// Summary renders per-sink counters followed by a total row.
func Summary(rows []SummaryRow) string {
	var total SummaryRow

	total.Name = "total"

	cells := make([][]string, 0, len(rows)+1)

	for _, r := range rows {
		cells = append(cells, summaryCells(r))
		total.Attempted += r.Attempted
		total.Written += r.Written
		total.Failed += r.Failed
	}

	cells = append(cells, summaryCells(total))

	return strings.Join(Table([]string{"table", "attempted", "written", "failed"}, cells), "\n")
}

func summaryCells(r SummaryRow) []string {
	return []string{r.Name, strconv.Itoa(r.Attempted), strconv.Itoa(r.Written), strconv.Itoa(r.Failed)}
}
