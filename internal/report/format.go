package report

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sipdmod/internal/record"
)

// Missing is shown for absent text and date values.
const Missing = "-"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Formatter renders values the way the host dashboard does: id-ID digit
// grouping and dd/mm/yyyy dates.
type Formatter struct {
	printer *message.Printer
	loc     *time.Location
}

// NewFormatter creates a Formatter. A nil loc uses time.Local.
func NewFormatter(tag language.Tag, loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{printer: message.NewPrinter(tag), loc: loc}
}

// DefaultFormatter uses Indonesian conventions in the local zone.
func DefaultFormatter() *Formatter {
	return NewFormatter(language.Indonesian, nil)
}

// Number groups digits; fractional values keep two decimals.
func (f *Formatter) Number(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return f.printer.Sprintf("%d", int64(v))
	}
	return f.printer.Sprintf("%.2f", v)
}

// Date renders s as dd/mm/yyyy. Empty input gives Missing; unparseable input
// is returned unchanged.
func (f *Formatter) Date(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Missing
	}
	if t, ok := f.parseDate(s); ok {
		return t.Format("02/01/2006")
	}
	return s
}

func (f *Formatter) parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(f.loc), true
	}
	for _, layout := range dateLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, f.loc); err == nil {
			return t, true
		}
	}
	// Epoch milliseconds.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 12 {
		return time.UnixMilli(ms).In(f.loc), true
	}
	return time.Time{}, false
}

// Cell renders one record value for a view. rowNum is used by the row
// number column.
func (f *Formatter) Cell(c Column, r record.RawRecord, rowNum int) string {
	switch {
	case c.Field == RowNumberField:
		return strconv.Itoa(rowNum)
	case c.Format == FormatCurrency:
		return f.Number(r.Number(c.Field))
	case c.Format == FormatDate:
		return f.Date(r.String(c.Field))
	}
	if r.Empty(c.Field) {
		return Missing
	}
	return r.String(c.Field)
}

// Totals sums every column that carries a TotalKey.
func Totals(cols []Column, recs []record.RawRecord) map[string]float64 {
	out := make(map[string]float64)
	for _, c := range cols {
		if c.TotalKey == "" {
			continue
		}
		var sum float64
		for _, r := range recs {
			sum += r.Number(c.Field)
		}
		out[c.TotalKey] = sum
	}
	return out
}
