package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TwoDigitYearPivot bounds how far into the future a two-digit year may
// land. "01/15/85" resolves to 2085 only if that is within this many years
// of now; otherwise it is 1985.
var TwoDigitYearPivot = 20

type dateLayout struct {
	layout     string
	shortYears bool
}

// dateLayouts are tried in order. Four-digit years go first since they
// are unambiguous.
var dateLayouts = []dateLayout{
	{layout: "2006-01-02"},
	{layout: "2006/01/02"},
	{layout: "2006.01.02"},
	{layout: "20060102"},
	{layout: time.RFC3339},
	{layout: time.DateTime},
	{layout: "1/2/2006"},
	{layout: "1-2-2006"},
	{layout: "1.2.2006"},
	{layout: "Jan 2, 2006"},
	{layout: "January 2, 2006"},
	{layout: "2 Jan 2006"},
	{layout: "1/2/06", shortYears: true},
	{layout: "1-2-06", shortYears: true},
	{layout: "1.2.06", shortYears: true},
}

// ParseDate parses a cell as a calendar date. US month-first order is
// assumed for numeric dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		if dl.shortYears && t.Year() > time.Now().Year()+TwoDigitYearPivot {
			t = t.AddDate(-100, 0, 0)
		}
		return t, true
	}
	return time.Time{}, false
}

// ParseNumber parses a cell as a decimal number. Currency symbols and
// thousands separators are dropped and (1.50) reads as -1.50.
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	inner, negative := strings.CutPrefix(s, "(")
	if negative {
		var closed bool
		if inner, closed = strings.CutSuffix(inner, ")"); !closed {
			return decimal.Zero, false
		}
	}

	digits := strings.TrimSpace(numberNoise.Replace(inner))
	if digits == "" || strings.ContainsAny(digits, " \t") {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

var numberNoise = strings.NewReplacer("$", "", "€", "", "£", "", ",", "")

// CleanCell strips spreadsheet export artifacts: surrounding whitespace,
// the ="..." wrapper Excel uses to keep leading zeros, and one pair of
// matching quotes around the whole value. Quotes inside or on one side
// only are data.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		return strings.TrimSpace(s[2 : len(s)-1])
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// NormalizeValue folds a value for uniqueness comparison.
func NormalizeValue(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
