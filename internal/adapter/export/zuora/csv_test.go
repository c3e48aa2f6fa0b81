package zuora

import (
	"testing"
	"time"
)

func TestParseCSVRaggedRows(t *testing.T) {
	data := []byte("Id,ChargeAmount,Invoice.InvoiceNumber\n" +
		"item-1,49.90,INV-1\n" +
		"item-2,10\n")

	records, err := parseCSV(data)
	if err != nil {
		t.Fatalf("parseCSV failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if records[0].str("Invoice.InvoiceNumber") != "INV-1" {
		t.Fatalf("expected invoice number, got %q", records[0].str("Invoice.InvoiceNumber"))
	}
	if records[1].str("Invoice.InvoiceNumber") != "" {
		t.Fatalf("expected empty trailing column, got %q", records[1].str("Invoice.InvoiceNumber"))
	}
}

func TestParseCSVEmpty(t *testing.T) {
	records, err := parseCSV(nil)
	if err != nil {
		t.Fatalf("parseCSV failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestRecordDecimals(t *testing.T) {
	rec := record{"Amount": "12.34", "Empty": ""}

	d, err := rec.dec("Amount")
	if err != nil {
		t.Fatalf("dec failed: %v", err)
	}
	if d.String() != "12.34" {
		t.Fatalf("expected 12.34, got %s", d)
	}

	zero, err := rec.dec("Empty")
	if err != nil {
		t.Fatalf("dec on empty failed: %v", err)
	}
	if !zero.IsZero() {
		t.Fatalf("expected zero for empty column, got %s", zero)
	}

	ptr, err := rec.decPtr("Empty")
	if err != nil {
		t.Fatalf("decPtr failed: %v", err)
	}
	if ptr != nil {
		t.Fatalf("expected nil pointer for empty column")
	}

	if _, err := rec.dec("Amount2"); err != nil {
		t.Fatalf("missing column should read as zero, got %v", err)
	}
}

func TestRecordTimes(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2017-03-01T10:20:30+00:00", time.Date(2017, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2017-03-01T10:20:30+0000", time.Date(2017, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2017-03-01", time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		rec := record{"Date": tt.value}
		got, err := rec.time("Date")
		if err != nil {
			t.Fatalf("time(%q) failed: %v", tt.value, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("time(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}

	rec := record{"Date": "not-a-date"}
	if _, err := rec.time("Date"); err == nil {
		t.Fatalf("expected error for unparseable time")
	}
}
