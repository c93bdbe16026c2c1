// Package export writes the scan batch as CSV and delivers it, either to a
// share endpoint or as a stored file for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/kdimtricp/labelscan/internal/history"
)

type Locale string

const (
	LocaleZH Locale = "zh"
	LocaleEN Locale = "en"
)

// spreadsheets keep the file as UTF-8 only with the byte order mark
const bom = "\ufeff"

type labels struct {
	header  []string
	yes, no string
}

var localized = map[Locale]labels{
	LocaleZH: {header: []string{"时间", "SN", "其他编码", "置信度", "重复"}, yes: "是", no: "否"},
	LocaleEN: {header: []string{"Time", "SN", "OtherCodes", "Confidence", "Duplicate"}, yes: "Yes", no: "No"},
}

// ParseLocale falls back to Chinese for anything it does not know.
func ParseLocale(s string) Locale {
	if Locale(strings.ToLower(strings.TrimSpace(s))) == LocaleEN {
		return LocaleEN
	}
	return LocaleZH
}

// WriteCSV writes a header and one line per row, in the given order.
func WriteCSV(w io.Writer, rows []history.ScanResult, locale Locale) error {
	l, ok := localized[locale]
	if !ok {
		l = localized[LocaleZH]
	}

	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(l.header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(record(row, l)); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", row.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(row history.ScanResult, l labels) []string {
	codes := make([]string, len(row.OtherCodes))
	for i, c := range row.OtherCodes {
		codes[i] = c.Label + ":" + c.Value
	}
	dup := l.no
	if row.Duplicate {
		dup = l.yes
	}
	return []string{
		row.Time,
		// leading apostrophe stops spreadsheets from turning the SN into a number
		"'" + row.SN,
		strings.Join(codes, "; "),
		FormatConfidence(row.Confidence),
		dup,
	}
}

// FormatConfidence renders a [0,1] confidence as an integer percentage.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(c*100)))
}
