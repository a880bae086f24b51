package core

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeXLS  = "application/vnd.ms-excel"
)

func isSpreadsheet(mimeType string) bool {
	switch baseMIME(mimeType) {
	case mimeXLSX, mimeXLS:
		return true
	}
	return false
}

// readSpreadsheet returns the non-empty rows of the first worksheet.
func readSpreadsheet(ctx context.Context, data []byte, maxRows int) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Kind: ParseMalformedEncoding, Detail: "unreadable spreadsheet", Err: err}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, &ParseError{Kind: ParseEmptyFile, Detail: "workbook has no sheets"}
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, &ParseError{Kind: ParseMalformedEncoding, Detail: "unreadable worksheet", Err: err}
	}
	defer rows.Close()

	var records [][]string
	for n := 0; rows.Next(); n++ {
		if n%contextCheckInterval == 0 {
			if err := parseDeadline(ctx); err != nil {
				return nil, err
			}
		}

		cols, err := rows.Columns()
		if err != nil {
			return nil, &ParseError{Kind: ParseMalformedEncoding, Detail: fmt.Sprintf("worksheet row %d", n+1), Err: err}
		}
		if isEmptyRow(cols) {
			continue
		}

		records = append(records, cols)
		if len(records) > maxRows+1 {
			return nil, &ParseError{
				Kind:   ParseTooLarge,
				Detail: fmt.Sprintf("more than %d data rows", maxRows),
			}
		}
	}
	if err := rows.Error(); err != nil {
		return nil, &ParseError{Kind: ParseMalformedEncoding, Detail: "unreadable worksheet", Err: err}
	}

	return records, nil
}
