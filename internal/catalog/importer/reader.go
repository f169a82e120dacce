// Package importer implements the bulk CSV ingestion pipeline for the
// parts catalog.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/teilehub/teilehub/internal/catalog"
	"github.com/teilehub/teilehub/internal/shared"
)

// Stable machine-readable error codes surfaced at the API boundary.
const (
	CodeInvalidInput = "invalid_input"
)

// Header is the committed upload contract. The "tiltle" misspelling is part
// of the contract and must match bit-for-bit.
const Header = "interne_artikelnummer;preis;zustand;tiltle;teilemarke_teilenummer;pfand;versandklasse;lieferzeit"

// Delimiter separates columns in the upload format.
const Delimiter = ';'

const columnCount = 8

// Row is one parsed data line. Reasons is non-empty when the row failed
// parsing or validation; such rows are reported but never abort siblings.
type Row struct {
	Line    int
	Record  catalog.DapartoRecord
	Reasons []string
}

// ValidateUpload performs the acceptance checks that run before any job is
// created: extension, non-empty content and the size ceiling.
func ValidateUpload(filename string, size, maxBytes int64) error {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != ".csv" {
		return shared.Conflict(CodeInvalidInput, fmt.Sprintf("unsupported file extension %q, expected .csv", ext))
	}
	if size == 0 {
		return shared.Conflict(CodeInvalidInput, "file is empty")
	}
	if maxBytes > 0 && size > maxBytes {
		return shared.Conflict(CodeInvalidInput, fmt.Sprintf("file size %d exceeds the limit of %d bytes", size, maxBytes))
	}
	return nil
}

// Parse decodes the uploaded file into rows. The header must match the
// contract exactly; any mismatch rejects the whole file before processing.
// Files may be UTF-8 or ISO-8859-1; the latter is decoded transparently.
func Parse(data []byte) ([]Row, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, shared.Conflict(CodeInvalidInput, "file is empty")
	}
	data = normalizeCharset(data)
	header, body := splitHeader(data)
	if header != Header {
		return nil, shared.Conflict(CodeInvalidInput, fmt.Sprintf("invalid header row, expected %q", Header))
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.Comma = Delimiter
	// Column-count violations are per-row failures, not file failures.
	reader.FieldsPerRecord = -1

	var rows []Row
	line := 1 // header was line 1
	for {
		fields, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			line++
			rows = append(rows, Row{Line: line, Reasons: []string{fmt.Sprintf("malformed csv line: %v", err)}})
			continue
		}
		line++
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rows = append(rows, parseRow(line, fields))
	}
	return rows, nil
}

func parseRow(line int, fields []string) Row {
	row := Row{Line: line}
	if len(fields) != columnCount {
		row.Reasons = append(row.Reasons, fmt.Sprintf("expected %d columns, got %d", columnCount, len(fields)))
		return row
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	rec := catalog.DapartoRecord{
		InterneArtikelnummer:  fields[0],
		Tiltle:                fields[3],
		TeilemarkeTeilenummer: fields[4],
	}
	var err error
	if rec.Preis, err = parseDecimal(fields[1]); err != nil {
		row.Reasons = append(row.Reasons, fmt.Sprintf("preis: %v", err))
	}
	if rec.Zustand, err = parseInt(fields[2]); err != nil {
		row.Reasons = append(row.Reasons, fmt.Sprintf("zustand: %v", err))
	}
	if rec.Pfand, err = parseDecimal(fields[5]); err != nil {
		row.Reasons = append(row.Reasons, fmt.Sprintf("pfand: %v", err))
	}
	if rec.Versandklasse, err = parseInt(fields[6]); err != nil {
		row.Reasons = append(row.Reasons, fmt.Sprintf("versandklasse: %v", err))
	}
	if rec.Lieferzeit, err = parseInt(fields[7]); err != nil {
		row.Reasons = append(row.Reasons, fmt.Sprintf("lieferzeit: %v", err))
	}
	if len(row.Reasons) == 0 {
		row.Reasons = append(row.Reasons, rec.Validate()...)
	}
	row.Record = rec
	return row
}

// parseDecimal accepts both dot and comma decimal separators; supplier
// exports use either.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("value required")
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("value required")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}

// normalizeCharset strips a UTF-8 BOM and decodes ISO-8859-1 content when the
// bytes are not valid UTF-8.
func normalizeCharset(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

func splitHeader(data []byte) (string, []byte) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return strings.TrimRight(string(data), "\r"), nil
	}
	header := strings.TrimRight(string(data[:idx]), "\r")
	return header, data[idx+1:]
}
