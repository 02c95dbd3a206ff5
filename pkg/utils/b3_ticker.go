package utils

import (
	"regexp"
	"strings"
)

// b3Ticker matches B3 trading codes: four letters and a share-class number,
// e.g. PETR4, CPFE3, TAEE11.
var b3Ticker = regexp.MustCompile(`^[A-Z0-9]{4}[0-9]{1,2}F?$`)

// NormalizeTicker normalizes a user-input ticker to the canonical B3 form:
// upper case, trimmed, without a "$" prefix or the ".SA" suffix used by
// quote vendors.
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	ticker = strings.TrimPrefix(ticker, "$")
	ticker = strings.TrimSuffix(ticker, ".SA")
	return ticker
}

// IsValidTicker reports whether ticker, once normalized, is a B3 trading code.
func IsValidTicker(ticker string) bool {
	return b3Ticker.MatchString(NormalizeTicker(ticker))
}

// TickerRoot returns the issuer part of a ticker (PETR4 → PETR), which is
// shared by every share class of the same company.
func TickerRoot(ticker string) string {
	t := NormalizeTicker(ticker)
	if len(t) < 4 {
		return t
	}
	return t[:4]
}
