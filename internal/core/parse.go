package core

// parse.go turns uploaded file bytes into a SourceTable.
//
// Parsing is lenient about the shape of the data and strict about its
// size: short rows are padded, long rows are truncated, blank lines are
// skipped, but byte, row and time ceilings abort the parse with
// ErrTooLarge so a pathological file cannot exhaust memory.

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
)

const (
	// DefaultMaxFileSize is the byte ceiling applied when none is configured.
	DefaultMaxFileSize = 10 << 20

	// DefaultMaxRows is the data row ceiling applied when none is configured.
	DefaultMaxRows = 100000

	// contextCheckInterval is how many rows are read between deadline checks.
	contextCheckInterval = 1000
)

// ParserConfig bounds the work done for one file.
type ParserConfig struct {
	MaxBytes      int64
	MaxRows       int
	Timeout       time.Duration
	LegacyCharset string
}

// Parser is the tabular file reader. It is safe for concurrent use.
type Parser struct {
	cfg ParserConfig
}

// NewParser creates a parser, applying defaults for zero limits.
func NewParser(cfg ParserConfig) *Parser {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxFileSize
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return &Parser{cfg: cfg}
}

// Parse reads data declared as mimeType into a SourceTable.
// The first non-empty line is the header; every data row gets
// RowNumber = index + 2.
func (p *Parser) Parse(ctx context.Context, data []byte, mimeType string) (*SourceTable, error) {
	if int64(len(data)) > p.cfg.MaxBytes {
		return nil, &ParseError{
			Kind:   ParseTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds limit of %d", len(data), p.cfg.MaxBytes),
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Kind: ParseEmptyFile}
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var (
		records  [][]string
		encoding string
		err      error
	)
	if isSpreadsheet(mimeType) {
		records, err = readSpreadsheet(ctx, data, p.cfg.MaxRows)
		encoding = "xlsx"
	} else {
		var text []byte
		text, encoding, err = decodeText(data, p.cfg.LegacyCharset)
		if err != nil {
			return nil, err
		}
		records, err = p.readDelimited(ctx, text, delimiterFor(mimeType, text))
	}
	if err != nil {
		return nil, err
	}

	table, err := buildTable(records)
	if err != nil {
		return nil, err
	}
	table.Encoding = encoding
	return table, nil
}

// readDelimited reads all non-empty records, enforcing the row ceiling.
func (p *Parser) readDelimited(ctx context.Context, text []byte, delim rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	var records [][]string
	for n := 0; ; n++ {
		if n%contextCheckInterval == 0 {
			if err := parseDeadline(ctx); err != nil {
				return nil, err
			}
		}

		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Kind: ParseMalformedEncoding, Detail: "unreadable delimited text", Err: err}
		}
		if isEmptyRow(rec) {
			continue
		}

		records = append(records, rec)
		if len(records) > p.cfg.MaxRows+1 {
			return nil, &ParseError{
				Kind:   ParseTooLarge,
				Detail: fmt.Sprintf("more than %d data rows", p.cfg.MaxRows),
			}
		}
	}
	return records, nil
}

// buildTable turns raw records into a SourceTable. records[0] is the header.
func buildTable(records [][]string) (*SourceTable, error) {
	if len(records) == 0 {
		return nil, &ParseError{Kind: ParseEmptyFile}
	}

	columns := headerColumns(records[0])
	table := &SourceTable{
		Columns: columns,
		Rows:    make([]SourceRow, 0, len(records)-1),
	}

	for i, rec := range records[1:] {
		cells := make(map[string]string, len(columns))
		for c, name := range columns {
			if c < len(rec) {
				cells[name] = CleanCell(rec[c])
			} else {
				cells[name] = ""
			}
		}
		table.Rows = append(table.Rows, SourceRow{RowNumber: i + 2, Cells: cells})
	}

	return table, nil
}

// headerColumns cleans header cells, names blank ones and disambiguates
// repeats so every column name is unique. A suffixed name never takes a
// name that appears elsewhere in the header.
func headerColumns(header []string) []string {
	columns := make([]string, len(header))
	reserved := make(map[string]bool, len(header))
	for i, h := range header {
		name := CleanCell(h)
		if name == "" {
			name = fmt.Sprintf("Column %d", i+1)
		}
		columns[i] = name
		reserved[strings.ToLower(name)] = true
	}

	taken := make(map[string]bool, len(header))
	next := make(map[string]int)
	for i, name := range columns {
		key := strings.ToLower(name)
		if !taken[key] {
			taken[key] = true
			continue
		}

		n := max(next[key], 2)
		for {
			candidate := fmt.Sprintf("%s (%d)", name, n)
			ck := strings.ToLower(candidate)
			n++
			if !taken[ck] && !reserved[ck] {
				columns[i] = candidate
				taken[ck] = true
				break
			}
		}
		next[key] = n
	}
	return columns
}

// delimiterFor picks the field separator from the declared type, falling
// back to the most frequent candidate on the first non-empty line.
func delimiterFor(mimeType string, text []byte) rune {
	if baseMIME(mimeType) == "text/tab-separated-values" {
		return '\t'
	}

	line := firstLine(text)
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := countOutsideQuotes(line, d); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func firstLine(text []byte) string {
	for len(text) > 0 {
		i := bytes.IndexByte(text, '\n')
		var line []byte
		if i < 0 {
			line, text = text, nil
		} else {
			line, text = text[:i], text[i+1:]
		}
		if s := strings.TrimSpace(string(line)); s != "" {
			return s
		}
	}
	return ""
}

func countOutsideQuotes(line string, d rune) int {
	inQuotes := false
	n := 0
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == d && !inQuotes:
			n++
		}
	}
	return n
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if CleanCell(v) != "" {
			return false
		}
	}
	return true
}

func parseDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ParseError{Kind: ParseTooLarge, Detail: "parse timeout exceeded", Err: err}
		}
		return err
	}
	return nil
}

func baseMIME(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}
