package report

import (
	"bytes"
	"fmt"
	"html/template"

	"sipdmod/internal/record"
)

// EmptyText is shown in place of rows when there is no data.
const EmptyText = "Tidak ada data"

type htmlCell struct {
	Text    string
	Class   string
	Colspan int
}

type htmlView struct {
	Count   int
	Headers []htmlCell
	Rows    [][]htmlCell
	Footer  []htmlCell
	Cols    int
	Empty   string
}

var tableTmpl = template.Must(template.New("table").Parse(`<div class="table-result-container mt-4 overflow-x-auto">
<p class="mb-2 text-sm text-slate-500">Total {{.Count}} dokumen</p>
<table class="w-full text-sm text-left border-collapse border border-slate-300">
<thead class="bg-slate-100 font-bold"><tr>{{range .Headers}}<th class="p-2 border border-slate-300 {{.Class}}">{{.Text}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr class="hover:bg-slate-50">{{range .}}<td class="p-2 border border-slate-300 {{.Class}}">{{.Text}}</td>{{end}}</tr>
{{- else}}
<tr><td colspan="{{.Cols}}" class="p-4 text-center">{{.Empty}}</td></tr>
{{- end}}
</tbody>
{{- if .Footer}}
<tfoot class="bg-slate-100 font-bold"><tr>{{range .Footer}}<td{{if gt .Colspan 1}} colspan="{{.Colspan}}"{{end}} class="p-2 border border-slate-300 {{.Class}}">{{.Text}}</td>{{end}}</tr></tfoot>
{{- end}}
</table>
</div>`))

func cellClass(c Column) string {
	cls := ""
	switch c.Align {
	case AlignCenter:
		cls = "text-center"
	case AlignRight:
		cls = "text-right"
	}
	if c.NoWrap {
		if cls != "" {
			cls += " "
		}
		cls += "whitespace-nowrap"
	}
	return cls
}

// HTMLTable renders records as the panel's result table: a header per
// column, one row per record, and a totals footer when there are rows.
func HTMLTable(cols []Column, recs []record.RawRecord, f *Formatter) (string, error) {
	if f == nil {
		f = DefaultFormatter()
	}

	view := htmlView{Count: len(recs), Cols: len(cols), Empty: EmptyText}
	for _, c := range cols {
		view.Headers = append(view.Headers, htmlCell{Text: c.Label, Class: cellClass(Column{Align: c.Align})})
	}
	for i, r := range recs {
		row := make([]htmlCell, len(cols))
		for j, c := range cols {
			row[j] = htmlCell{Text: f.Cell(c, r, i+1), Class: cellClass(c)}
		}
		view.Rows = append(view.Rows, row)
	}
	if len(recs) > 0 {
		view.Footer = footer(cols, Totals(cols, recs), f)
	}

	var buf bytes.Buffer
	if err := tableTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	return buf.String(), nil
}

// footer spans a "Total" label across every column before the first summed
// column, then emits one cell per remaining column.
func footer(cols []Column, totals map[string]float64, f *Formatter) []htmlCell {
	first := -1
	for i, c := range cols {
		if c.TotalKey != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}

	var cells []htmlCell
	if first > 0 {
		cells = append(cells, htmlCell{Text: "Total", Class: "text-right", Colspan: first})
	}
	for _, c := range cols[first:] {
		if c.TotalKey == "" {
			cells = append(cells, htmlCell{})
			continue
		}
		cells = append(cells, htmlCell{Text: f.Number(totals[c.TotalKey]), Class: cellClass(c)})
	}
	return cells
}
