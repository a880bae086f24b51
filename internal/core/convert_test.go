package core

import (
	"testing"
	"time"
)

// =============================================================================
// ParseNumber Tests
// =============================================================================

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		want      string
	}{
		// Plain numbers
		{name: "integer", input: "42", wantValid: true, want: "42"},
		{name: "decimal", input: "3.14159", wantValid: true, want: "3.14159"},
		{name: "negative", input: "-17.5", wantValid: true, want: "-17.5"},
		{name: "surrounding whitespace", input: "  100  ", wantValid: true, want: "100"},

		// Currency and separators
		{name: "dollar sign", input: "$1,234.56", wantValid: true, want: "1234.56"},
		{name: "euro sign", input: "€99", wantValid: true, want: "99"},
		{name: "pound sign", input: "£5.00", wantValid: true, want: "5"},
		{name: "thousands separators", input: "1,000,000", wantValid: true, want: "1000000"},

		// Accounting negatives
		{name: "parentheses", input: "(250.00)", wantValid: true, want: "-250"},
		{name: "parentheses with currency", input: "($1,000)", wantValid: true, want: "-1000"},

		// Invalid
		{name: "empty", input: "", wantValid: false},
		{name: "whitespace only", input: "   ", wantValid: false},
		{name: "words", input: "ten", wantValid: false},
		{name: "inner space", input: "12 34", wantValid: false},
		{name: "currency only", input: "$", wantValid: false},
		{name: "two decimal points", input: "1.2.3", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseNumber(%q) valid = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && got.String() != tt.want {
				t.Errorf("ParseNumber(%q) = %s, want %s", tt.input, got.String(), tt.want)
			}
		})
	}
}

// =============================================================================
// ParseDate Tests
// =============================================================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantDate  string
	}{
		// ISO and compact forms
		{name: "ISO", input: "2024-01-15", wantValid: true, wantDate: "2024-01-15"},
		{name: "ISO leap day", input: "2024-02-29", wantValid: true, wantDate: "2024-02-29"},
		{name: "slashes year first", input: "2024/03/09", wantValid: true, wantDate: "2024-03-09"},
		{name: "compact", input: "20240115", wantValid: true, wantDate: "2024-01-15"},
		{name: "timestamp", input: "2024-01-15 08:30:00", wantValid: true, wantDate: "2024-01-15"},
		{name: "RFC3339", input: "2024-01-15T08:30:00Z", wantValid: true, wantDate: "2024-01-15"},

		// US month first
		{name: "US padded", input: "01/15/2024", wantValid: true, wantDate: "2024-01-15"},
		{name: "US single digits", input: "1/5/2024", wantValid: true, wantDate: "2024-01-05"},
		{name: "US dashes", input: "01-15-2024", wantValid: true, wantDate: "2024-01-15"},
		{name: "dots", input: "1.5.2024", wantValid: true, wantDate: "2024-01-05"},

		// Written months
		{name: "short month", input: "Jan 2, 2024", wantValid: true, wantDate: "2024-01-02"},
		{name: "day first month name", input: "2 Jan 2024", wantValid: true, wantDate: "2024-01-02"},
		{name: "long month", input: "March 7, 2024", wantValid: true, wantDate: "2024-03-07"},

		// Invalid
		{name: "empty", input: "", wantValid: false},
		{name: "words", input: "yesterday", wantValid: false},
		{name: "month 13", input: "13/01/2024", wantValid: false},
		{name: "not a leap year", input: "2023-02-29", wantValid: false},
		{name: "day 32", input: "2024-01-32", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseDate(%q) valid = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && got.Format("2006-01-02") != tt.wantDate {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.wantDate)
			}
		})
	}
}

func TestParseDate_TwoDigitYear(t *testing.T) {
	originalPivot := TwoDigitYearPivot
	defer func() { TwoDigitYearPivot = originalPivot }()
	TwoDigitYearPivot = 20

	pivotYear := time.Now().Year() + TwoDigitYearPivot

	tests := []struct {
		input string
	}{
		{"01/15/25"},
		{"01/15/30"},
		{"01/15/50"},
		{"01/15/85"},
		{"01/15/99"},
		{"1-5-07"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if !ok {
				t.Fatalf("ParseDate(%q) invalid", tt.input)
			}
			if got.Year() > pivotYear || got.Year() <= pivotYear-100 {
				t.Errorf("ParseDate(%q) year = %d, want within (%d, %d]", tt.input, got.Year(), pivotYear-100, pivotYear)
			}
		})
	}
}

// =============================================================================
// CleanCell / NormalizeValue Tests
// =============================================================================

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "unchanged", input: "hello", want: "hello"},
		{name: "empty", input: "", want: ""},
		{name: "whitespace", input: "  hello\t", want: "hello"},
		{name: "Excel formula", input: `="00123"`, want: "00123"},
		{name: "Excel formula empty", input: `=""`, want: ""},
		{name: "double quotes", input: `"quoted"`, want: "quoted"},
		{name: "single quotes", input: `'quoted'`, want: "quoted"},
		{name: "quoted whitespace", input: `" padded "`, want: "padded"},
		{name: "inner quotes kept", input: `say "hi" now`, want: `say "hi" now`},
		{name: "plain equals kept", input: "=SUM(A1)", want: "=SUM(A1)"},
		{name: "height", input: `5'10"`, want: `5'10"`},
		{name: "leading apostrophe", input: "'0123", want: "'0123"},
		{name: "trailing quote", input: `12"`, want: `12"`},
		{name: "mismatched pair", input: `'x"`, want: `'x"`},
		{name: "one pair only", input: `""x""`, want: `"x"`},
		{name: "lone quote", input: `"`, want: `"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"B@X.com", "b@x.com", true},
		{" Ann ", "ann", true},
		{"Ann", "Anne", false},
	}
	for _, tt := range tests {
		if got := NormalizeValue(tt.a) == NormalizeValue(tt.b); got != tt.same {
			t.Errorf("NormalizeValue(%q) == NormalizeValue(%q) is %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}
