package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseFiscalYear extracts a fiscal year from the forms found in filings and
// workbooks: "2023", "2023.0" (spreadsheet numerics), "2023-12-31"
// (DT_REFER) or "31/12/2023".
func ParseFiscalYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty fiscal year")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		y := int(f)
		if float64(y) != f || !plausibleYear(y) {
			return 0, fmt.Errorf("invalid fiscal year %q", s)
		}
		return y, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), nil
		}
	}
	return 0, fmt.Errorf("invalid fiscal year %q", s)
}

// FiscalYearEnd returns 31 December of year, the DFP reference date.
func FiscalYearEnd(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

func plausibleYear(y int) bool {
	return y >= 1900 && y <= 2200
}
