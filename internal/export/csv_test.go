package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kdimtricp/labelscan/internal/history"
	"github.com/kdimtricp/labelscan/internal/ocr"
)

func sampleRows() []history.ScanResult {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	return []history.ScanResult{
		{
			ID: "3", CapturedAt: at.Add(2 * time.Minute), Time: "09:32:00",
			SN: "952985A1B12345678901", Confidence: 0.93,
			Duplicate: true, DuplicateFields: []string{history.FieldSN},
		},
		{
			ID: "2", CapturedAt: at.Add(time.Minute), Time: "09:31:00",
			SN: "", Confidence: 0.8,
			OtherCodes: []ocr.Code{{Label: "IMEI", Value: "8612"}, {Label: "S/N", Value: "A,B"}},
		},
		{
			ID: "1", CapturedAt: at, Time: "09:30:00",
			SN: "952985A1B12345678901", Confidence: 0.456,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRows(), LocaleZH); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "\ufeff") {
		t.Fatal("expected a UTF-8 byte order mark")
	}

	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\ufeff"), "\n"), "\n")
	want := []string{
		"时间,SN,其他编码,置信度,重复",
		"09:32:00,'952985A1B12345678901,,93%,是",
		`09:31:00,',"IMEI:8612; S/N:A,B",80%,否`,
		"09:30:00,'952985A1B12345678901,,46%,否",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestWriteCSVEnglish(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRows()[:1], LocaleEN); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "\ufeffTime,SN,OtherCodes,Confidence,Duplicate\n09:32:00,'952985A1B12345678901,,93%,Yes\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestWriteCSVLineCount(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		rows := make([]history.ScanResult, n)
		for i := range rows {
			rows[i] = history.ScanResult{ID: string(rune('a' + i)), Time: "10:00:00", SN: "X"}
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, rows, LocaleZH); err != nil {
			t.Fatalf("write: %v", err)
		}
		if got := strings.Count(buf.String(), "\n"); got != n+1 {
			t.Errorf("%d rows: expected %d lines, got %d", n, n+1, got)
		}
	}
}

func TestFormatConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0%"},
		{0.8, "80%"},
		{0.935, "94%"},
		{1, "100%"},
	}
	for _, tt := range tests {
		if got := FormatConfidence(tt.in); got != tt.want {
			t.Errorf("FormatConfidence(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseLocale(t *testing.T) {
	if ParseLocale("EN") != LocaleEN {
		t.Error("expected en")
	}
	if ParseLocale("") != LocaleZH || ParseLocale("fr") != LocaleZH {
		t.Error("expected zh fallback")
	}
}
