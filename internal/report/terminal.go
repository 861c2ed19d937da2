package report

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"sipdmod/internal/aggregate"
)

var (
	colorHeader = lipgloss.Color("12")
	colorBorder = lipgloss.Color("8")
	colorMuted  = lipgloss.Color("245")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorHeader)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHeader).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	totalStyle  = numberStyle.Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

// SummaryLayout names the fields shown by TerminalTable.
type SummaryLayout struct {
	Title    string
	Keys     []string
	Describe []string
	Sums     []string
	// Labels maps a field name to its column header.
	Labels map[string]string
}

func (l SummaryLayout) label(field string) string {
	if s, ok := l.Labels[field]; ok {
		return s
	}
	return field
}

// TerminalTable renders an aggregation as a bordered terminal table with a
// total row.
func TerminalTable(res aggregate.Result, layout SummaryLayout, f *Formatter) string {
	if f == nil {
		f = DefaultFormatter()
	}

	var headers []string
	for _, k := range layout.Keys {
		headers = append(headers, layout.label(k))
	}
	for _, d := range layout.Describe {
		headers = append(headers, layout.label(d))
	}
	headers = append(headers, "Dok")
	for _, s := range layout.Sums {
		headers = append(headers, layout.label(s))
	}
	firstNumber := len(layout.Keys) + len(layout.Describe)

	row := func(b aggregate.Bucket, total bool) []string {
		out := make([]string, 0, len(headers))
		for i, k := range layout.Keys {
			switch {
			case (total || b.CatchAll) && i == 0:
				out = append(out, b.Key)
			case total || b.CatchAll:
				out = append(out, "")
			default:
				out = append(out, b.Values[k])
			}
		}
		for _, d := range layout.Describe {
			out = append(out, b.Values[d])
		}
		out = append(out, strconv.Itoa(b.Count))
		for _, s := range layout.Sums {
			out = append(out, f.Number(b.Sum(s)))
		}
		return out
	}

	rows := make([][]string, 0, len(res.Buckets)+1)
	for _, b := range res.Buckets {
		rows = append(rows, row(b, false))
	}
	rows = append(rows, row(res.Total, true))
	totalRow := len(rows) - 1

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(r, c int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return headerStyle
			case r == totalRow && c >= firstNumber:
				return totalStyle
			case r == totalRow:
				return cellStyle.Bold(true)
			case c >= firstNumber:
				return numberStyle
			default:
				return cellStyle
			}
		})

	var sb strings.Builder
	if layout.Title != "" {
		sb.WriteString(titleStyle.Render(layout.Title))
		sb.WriteString("\n")
	}
	if len(res.Buckets) == 0 {
		sb.WriteString(mutedStyle.Render(EmptyText))
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(t.String())
	sb.WriteString("\n")
	return sb.String()
}
