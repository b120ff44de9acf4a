package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"pyxis/internal/services"
)

// Row is one data record keyed by source column. Number is 1-based over data
// rows, excluding the header.
type Row struct {
	Number int
	Values map[string]string
}

// Value returns the trimmed cell for column; empty means absent.
func (r Row) Value(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// ReadCSV decodes payload with opts and returns its data rows. Rows before
// HeaderRow are ignored; the header names the columns.
func ReadCSV(payload []byte, opts CSVOptions) ([]Row, error) {
	_, rows, err := readCSV(payload, opts)
	return rows, err
}

func readCSV(payload []byte, opts CSVOptions) ([]string, []Row, error) {
	reader, err := decodingReader(payload, opts.Encoding)
	if err != nil {
		return nil, nil, err
	}
	delim, _ := utf8.DecodeRuneInString(opts.Delimiter)
	if opts.Delimiter == "" {
		delim = ','
	}

	r := csv.NewReader(reader)
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var header []string
	for i := 0; i <= opts.HeaderRow; i++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: csv has no header row %d", services.ErrConfiguration, opts.HeaderRow)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv header: %w", err)
		}
		header = record
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", len(rows)+1, err)
		}
		row := Row{Number: len(rows) + 1, Values: make(map[string]string, len(header))}
		for i, col := range header {
			if col == "" || i >= len(record) {
				continue
			}
			row.Values[col] = record[i]
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func decodingReader(payload []byte, encoding string) (io.Reader, error) {
	name := strings.TrimSpace(encoding)
	if name == "" {
		name = defaultEncoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, &services.ConfigError{Field: "file_specific.csv.encoding", Reason: fmt.Sprintf("unsupported encoding %q", encoding)}
	}
	if enc == unicode.UTF8 {
		// Excel exports often start with a byte order mark.
		return transform.NewReader(bytes.NewReader(payload), unicode.UTF8BOM.NewDecoder()), nil
	}
	return transform.NewReader(bytes.NewReader(payload), enc.NewDecoder()), nil
}
