// Package utils provides formatting and parsing helpers for Brazilian
// financial data.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Absent is how a missing value is displayed.
const Absent = "—"

// FormatNumber formats n with Brazilian separators: "." for thousands and
// "," for decimals. e.g. 1234567.891, 2 → "1.234.567,89"
func FormatNumber(n float64, decimals int) string {
	negative := n < 0
	s := strconv.FormatFloat(math.Abs(n), 'f', decimals, 64)

	intPart, decPart, _ := strings.Cut(s, ".")
	out := groupThousands(intPart)
	if decPart != "" {
		out += "," + decPart
	}
	if negative && strings.Trim(out, "0.,") != "" {
		return "-" + out
	}
	return out
}

// FormatBRL formats an amount in reais: "R$ 1.234,56".
func FormatBRL(amount float64) string {
	s := FormatNumber(amount, 2)
	if strings.HasPrefix(s, "-") {
		return "-R$ " + s[1:]
	}
	return "R$ " + s
}

// FormatBRLCompact formats an amount in reais with a scale suffix.
// e.g. 1500 → "R$ 1,5 mil", 2.3e6 → "R$ 2,3 mi", 4.12e9 → "R$ 4,12 bi"
func FormatBRLCompact(amount float64) string {
	prefix := "R$ "
	if amount < 0 {
		prefix = "-R$ "
	}
	a := math.Abs(amount)

	switch {
	case a >= 1e12:
		return prefix + trimDecimals(a/1e12) + " tri"
	case a >= 1e9:
		return prefix + trimDecimals(a/1e9) + " bi"
	case a >= 1e6:
		return prefix + trimDecimals(a/1e6) + " mi"
	case a >= 1e3:
		return prefix + trimDecimals(a/1e3) + " mil"
	default:
		return prefix + FormatNumber(a, 2)
	}
}

// FromThousands converts an amount reported in thousands (the DFP unit) to reais.
func FromThousands(amount float64) float64 {
	return amount * 1e3
}

// FormatPercent formats a ratio as a percentage: 0.1875 → "18,75%".
func FormatPercent(ratio float64) string {
	return FormatNumber(ratio*100, 2) + "%"
}

// FormatPct formats a percentage value with sign and suffix.
// e.g., 2.45 → "+2,45%", -1.23 → "-1,23%"
func FormatPct(pct float64) string {
	if pct >= 0 {
		return "+" + FormatNumber(pct, 2) + "%"
	}
	return FormatNumber(pct, 2) + "%"
}

// ParseNumber parses a Brazilian-formatted number ("1.234,56", "-0,5").
// Plain "1234.56" is accepted when no comma is present.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return v, nil
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// trimDecimals formats with up to 2 decimals, removing trailing zeros.
func trimDecimals(n float64) string {
	s := FormatNumber(n, 2)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ",")
	return s
}
