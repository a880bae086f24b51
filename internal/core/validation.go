package core

// validation.go checks mapped rows against field constraints.
//
// Validation is pure: it reads the table and mapping and returns a fresh
// report every time. Three checks run per row in field order:
//  1. Required: a mapped required field must have a non-empty value
//  2. Format: email, date and number fields must parse when non-empty
//  3. Uniqueness: a repeated (field, folded value) pair is a duplicate of
//     the first row that carried it
//
// Duplicates are only detected within the batch being validated.

import (
	"fmt"
	"regexp"
	"strings"
)

// emailRegex requires local@domain.tld with no whitespace.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type uniqueKey struct {
	field string
	value string
}

// Validate checks every row of table under mapping and returns all issues
// and duplicates in row order.
func Validate(table *SourceTable, mapping FieldMapping, fields []FieldDefinition) ValidationReport {
	report := ValidationReport{
		Issues:          []ValidationIssue{},
		Duplicates:      []DuplicateCandidate{},
		MissingRequired: MissingRequired(mapping, fields),
	}
	if table == nil {
		return report
	}

	firstSeen := make(map[uniqueKey]int)

	for _, row := range table.Rows {
		for _, f := range fields {
			col, ok := mapping.Column(f.Key)
			if !ok {
				continue
			}
			value := strings.TrimSpace(row.Cells[col])

			if value == "" {
				if f.Required {
					report.Issues = append(report.Issues, ValidationIssue{
						RowNumber:  row.RowNumber,
						FieldKey:   f.Key,
						FieldLabel: f.Label,
						Message:    fmt.Sprintf("%s is required", f.Label),
					})
				}
				continue
			}

			if err := ValidateCell(value, f.Format); err != nil {
				report.Issues = append(report.Issues, ValidationIssue{
					RowNumber:  row.RowNumber,
					FieldKey:   f.Key,
					FieldLabel: f.Label,
					Message:    err.Error(),
				})
			}

			if f.Unique {
				k := uniqueKey{field: f.Key, value: NormalizeValue(value)}
				if first, seen := firstSeen[k]; seen {
					report.Duplicates = append(report.Duplicates, DuplicateCandidate{
						RowNumber:            row.RowNumber,
						FieldKey:             f.Key,
						FieldLabel:           f.Label,
						Value:                k.value,
						DuplicateOfRowNumber: first,
					})
				} else {
					firstSeen[k] = row.RowNumber
				}
			}
		}
	}

	return report
}

// MissingRequired lists the keys of required fields that have no mapping.
func MissingRequired(mapping FieldMapping, fields []FieldDefinition) []string {
	missing := []string{}
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if _, ok := mapping.Column(f.Key); !ok {
			missing = append(missing, f.Key)
		}
	}
	return missing
}

// ValidateCell checks a single non-empty value against a format.
// The error text is the operator-facing issue message.
func ValidateCell(value string, format FieldFormat) error {
	value = strings.TrimSpace(value)
	switch format {
	case FormatEmail:
		if !emailRegex.MatchString(value) {
			return fmt.Errorf("Invalid email: %s", value)
		}
	case FormatDate:
		if _, ok := ParseDate(value); !ok {
			return fmt.Errorf("Invalid date: %s", value)
		}
	case FormatNumber:
		if _, ok := ParseNumber(value); !ok {
			return fmt.Errorf("Invalid number: %s", value)
		}
	}
	return nil
}
