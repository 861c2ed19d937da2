package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"sipdmod/internal/aggregate"
	"sipdmod/internal/record"
)

const (
	// MoneyFormat is the number format of currency cells.
	MoneyFormat = `"Rp."#,##0`
	// SummarySheet holds the aggregated buckets.
	SummarySheet = "Rekap"

	headerFill = "D9E1F2"
	headerRow  = 5
)

// Workbook describes an export.
type Workbook struct {
	Title string
	// Subtitles fill the second and third merged title rows.
	Subtitles []string
	SheetName string
	Columns   []Column
	Records   []record.RawRecord
	// Summary, when set, is written to a second sheet.
	Summary *aggregate.Result
	// The Summary* fields name the columns of the summary sheet in display order.
	SummaryKeys     []string
	SummaryDescribe []string
	SummarySums     []string
}

type styles struct {
	title, header, left, center, money, totalLabel, totalMoney int
}

func newStyles(f *excelize.File) (styles, error) {
	var (
		s   styles
		err error
	)
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	moneyFmt := MoneyFormat

	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&s.title, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 14},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		}},
		{&s.header, &excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
			Border:    border,
			Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		}},
		{&s.left, &excelize.Style{
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
			Border:    border,
		}},
		{&s.center, &excelize.Style{
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "top"},
			Border:    border,
		}},
		{&s.money, &excelize.Style{
			Alignment:    &excelize.Alignment{Horizontal: "right", Vertical: "top"},
			Border:       border,
			CustomNumFmt: &moneyFmt,
		}},
		{&s.totalLabel, &excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border:    border,
			Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		}},
		{&s.totalMoney, &excelize.Style{
			Font:         &excelize.Font{Bold: true},
			Alignment:    &excelize.Alignment{Horizontal: "right", Vertical: "center"},
			Border:       border,
			CustomNumFmt: &moneyFmt,
		}},
	}
	for _, d := range defs {
		if *d.dst, err = f.NewStyle(d.style); err != nil {
			return s, fmt.Errorf("create style: %w", err)
		}
	}
	return s, nil
}

// WriteWorkbook writes wb as XLSX to w.
func WriteWorkbook(w io.Writer, wb Workbook, fm *Formatter) error {
	if fm == nil {
		fm = DefaultFormatter()
	}
	if len(wb.Columns) == 0 {
		return fmt.Errorf("write workbook: no columns")
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := wb.SheetName
	if sheet == "" {
		sheet = "Data"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	st, err := newStyles(f)
	if err != nil {
		return err
	}
	if err := writeDataSheet(f, sheet, wb, st, fm); err != nil {
		return err
	}
	if wb.Summary != nil {
		if err := writeSummarySheet(f, wb, st); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func writeDataSheet(f *excelize.File, sheet string, wb Workbook, st styles, fm *Formatter) error {
	cols := wb.Columns
	last := len(cols)

	titles := []string{wb.Title, "", ""}
	for i, s := range wb.Subtitles {
		if i+1 < len(titles) {
			titles[i+1] = s
		}
	}
	for i, t := range titles {
		row := i + 1
		if err := f.SetCellValue(sheet, cell(1, row), t); err != nil {
			return fmt.Errorf("title: %w", err)
		}
		if err := f.MergeCell(sheet, cell(1, row), cell(last, row)); err != nil {
			return fmt.Errorf("merge title: %w", err)
		}
		if err := f.SetCellStyle(sheet, cell(1, row), cell(last, row), st.title); err != nil {
			return fmt.Errorf("style title: %w", err)
		}
	}

	for i, c := range cols {
		if err := f.SetCellValue(sheet, cell(i+1, headerRow), c.ExportLabel()); err != nil {
			return fmt.Errorf("header: %w", err)
		}
		if c.Width > 0 {
			name, _ := excelize.ColumnNumberToName(i + 1)
			if err := f.SetColWidth(sheet, name, name, c.Width); err != nil {
				return fmt.Errorf("column width: %w", err)
			}
		}
	}
	if err := f.SetCellStyle(sheet, cell(1, headerRow), cell(last, headerRow), st.header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	row := headerRow
	for n, r := range wb.Records {
		row++
		for i, c := range cols {
			ref := cell(i+1, row)
			var (
				v     any
				style int
			)
			switch {
			case c.Field == RowNumberField:
				v, style = n+1, st.center
			case c.Format == FormatCurrency:
				v, style = r.Number(c.Field), st.money
			case c.Format == FormatDate:
				v, style = fm.Date(r.String(c.Field)), st.center
			default:
				v, style = r.String(c.Field), st.left
				if c.Align == AlignCenter {
					style = st.center
				}
			}
			if err := f.SetCellValue(sheet, ref, v); err != nil {
				return fmt.Errorf("row %d: %w", n+1, err)
			}
			if err := f.SetCellStyle(sheet, ref, ref, style); err != nil {
				return fmt.Errorf("row %d: %w", n+1, err)
			}
		}
	}

	row++
	totals := Totals(cols, wb.Records)
	for i, c := range cols {
		ref := cell(i+1, row)
		var (
			v     any = ""
			style     = st.totalLabel
		)
		switch {
		case i == 0:
			v = "Total"
		case c.TotalKey != "":
			v, style = totals[c.TotalKey], st.totalMoney
		}
		if err := f.SetCellValue(sheet, ref, v); err != nil {
			return fmt.Errorf("totals: %w", err)
		}
		if err := f.SetCellStyle(sheet, ref, ref, style); err != nil {
			return fmt.Errorf("totals: %w", err)
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, wb Workbook, st styles) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headers := append([]string{}, wb.SummaryKeys...)
	headers = append(headers, wb.SummaryDescribe...)
	headers = append(headers, "Jumlah Dokumen")
	headers = append(headers, wb.SummarySums...)

	for i, h := range headers {
		if err := f.SetCellValue(SummarySheet, cell(i+1, 1), h); err != nil {
			return fmt.Errorf("summary header: %w", err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, cell(1, 1), cell(len(headers), 1), st.header); err != nil {
		return fmt.Errorf("summary header: %w", err)
	}

	writeBucket := func(row int, b aggregate.Bucket, total bool) error {
		var vals []any
		for i, k := range wb.SummaryKeys {
			switch {
			case total && i == 0:
				vals = append(vals, b.Key)
			case b.CatchAll && i == 0:
				vals = append(vals, aggregate.CatchAllKey)
			case total || b.CatchAll:
				vals = append(vals, "")
			default:
				vals = append(vals, b.Values[k])
			}
		}
		for _, d := range wb.SummaryDescribe {
			vals = append(vals, b.Values[d])
		}
		vals = append(vals, b.Count)
		for _, s := range wb.SummarySums {
			vals = append(vals, b.Sum(s))
		}
		if err := f.SetSheetRow(SummarySheet, cell(1, row), &vals); err != nil {
			return err
		}
		first := len(wb.SummaryKeys) + len(wb.SummaryDescribe) + 2
		if len(wb.SummarySums) > 0 {
			style := st.money
			if total {
				style = st.totalMoney
			}
			return f.SetCellStyle(SummarySheet, cell(first, row), cell(len(headers), row), style)
		}
		return nil
	}

	row := 1
	for _, b := range wb.Summary.Buckets {
		row++
		if err := writeBucket(row, b, false); err != nil {
			return fmt.Errorf("summary row %d: %w", row, err)
		}
	}
	if err := writeBucket(row+1, wb.Summary.Total, true); err != nil {
		return fmt.Errorf("summary total: %w", err)
	}

	for i := range headers {
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SummarySheet, name, name, 20); err != nil {
			return fmt.Errorf("summary width: %w", err)
		}
	}
	return nil
}
