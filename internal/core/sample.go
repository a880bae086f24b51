package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SampleFormat is the file type produced by SampleFile.
type SampleFormat string

const (
	SampleCSV  SampleFormat = "csv"
	SampleXLSX SampleFormat = "xlsx"
)

// SampleFile builds a header row of field keys plus one example row for
// an entity type. The result round-trips through the parser and AutoMap.
// It returns the file bytes and their content type.
func SampleFile(entityType string, format SampleFormat) ([]byte, string, error) {
	fields, err := FieldsFor(entityType)
	if err != nil {
		return nil, "", err
	}

	header := make([]string, len(fields))
	example := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Key
		example[i] = sampleValue(f)
	}

	switch format {
	case SampleCSV, "":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.WriteAll([][]string{header, example}); err != nil {
			return nil, "", fmt.Errorf("write sample csv: %w", err)
		}
		return buf.Bytes(), "text/csv", nil

	case SampleXLSX:
		data, err := sampleWorkbook(header, example)
		if err != nil {
			return nil, "", err
		}
		return data, mimeXLSX, nil
	}

	return nil, "", fmt.Errorf("unsupported sample format %q", format)
}

func sampleWorkbook(rows ...[]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for r, row := range rows {
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return nil, fmt.Errorf("sample cell: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write sample row %d: %w", r+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write sample workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func sampleValue(f FieldDefinition) string {
	switch f.Format {
	case FormatEmail:
		return "jane.doe@example.com"
	case FormatDate:
		return "2024-09-02"
	case FormatNumber:
		return "100"
	}
	if f.References != nil {
		return strings.ToUpper(f.References.EntityType[:1]) + "-001"
	}
	if strings.HasSuffix(f.Key, "_id") || f.Key == "code" {
		return "ID-001"
	}
	return "Example " + f.Label
}
