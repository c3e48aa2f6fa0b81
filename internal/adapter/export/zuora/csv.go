package zuora

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// record is one CSV row keyed by column label. Missing and empty columns
// read as the empty string.
type record map[string]string

// parseCSV reads an AQuA CSV export into records. The first row carries the
// column labels of the query's select list. Rows may be ragged when trailing
// columns are empty.
func parseCSV(data []byte) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, label := range header {
		header[i] = strings.TrimSpace(label)
	}

	var records []record
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := make(record, len(header))
		for i, label := range header {
			if i < len(row) {
				rec[label] = strings.TrimSpace(row[i])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r record) str(key string) string { return r[key] }

func (r record) dec(key string) (decimal.Decimal, error) {
	v := r[key]
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s: %w", key, err)
	}
	return d, nil
}

func (r record) decPtr(key string) (*decimal.Decimal, error) {
	if r[key] == "" {
		return nil, nil
	}
	d, err := r.dec(key)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// timeFormats covers the timestamp and date shapes the export produces.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (r record) time(key string) (time.Time, error) {
	v := r[key]
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("column %s: unparseable time %q", key, v)
}

func (r record) timePtr(key string) (*time.Time, error) {
	if r[key] == "" {
		return nil, nil
	}
	t, err := r.time(key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
