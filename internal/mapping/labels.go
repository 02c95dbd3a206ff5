package mapping

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// NormalizeLabel folds a header or account description for comparison:
// accents removed, lower case, inner whitespace collapsed.
func NormalizeLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Key columns of a panel workbook.
const (
	ColumnTicker = "ticker"
	ColumnYear   = "year"
	ColumnCode   = "code"
	ColumnName   = "name"
	ColumnSector = "sector"
)

var keyAliases = map[string][]string{
	ColumnTicker: {"Ticker", "Código de Negociação", "CD_NEGOCIACAO"},
	ColumnYear:   {"Ano", "Year", "DT_REFER", "Exercício"},
	ColumnCode:   {"CD_CVM", "Código CVM"},
	ColumnName:   {"DENOM_CIA", "DENOM_SOCIAL", "Empresa", "Razão Social"},
	ColumnSector: {"SETOR_ATIV", "Setor"},
}

// ColumnAliases maps normalized spreadsheet headers to raw fields: the field
// name itself, the account description and every alias of t.
// When two fields share a description only the first is kept.
func ColumnAliases(t Table) map[string]models.Field {
	out := make(map[string]models.Field)
	add := func(label string, f models.Field) {
		k := NormalizeLabel(label)
		if k == "" {
			return
		}
		if _, taken := out[k]; !taken {
			out[k] = f
		}
	}
	// Aliases first: they disambiguate descriptions shared between entries,
	// e.g. current and non-current borrowings.
	for _, e := range t.Entries {
		add(string(e.Field), e.Field)
		for _, a := range e.Aliases {
			add(a, e.Field)
		}
	}
	for _, e := range t.Entries {
		add(e.Description, e.Field)
	}
	return out
}

// KeyColumn returns the key column a normalized header names, if any.
func KeyColumn(header string) (string, bool) {
	h := NormalizeLabel(header)
	for col, aliases := range keyAliases {
		if h == col {
			return col, true
		}
		for _, a := range aliases {
			if h == NormalizeLabel(a) {
				return col, true
			}
		}
	}
	return "", false
}
