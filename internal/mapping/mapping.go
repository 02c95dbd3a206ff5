// Package mapping maps regulatory-filing accounts and spreadsheet headers to
// the fixed raw fields of a panel.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// Entry maps one raw field to a filing account.
type Entry struct {
	Field       models.Field     `yaml:"field"               toml:"field"`
	Statement   models.Statement `yaml:"statement"           toml:"statement"`
	Code        string           `yaml:"code,omitempty"      toml:"code,omitempty"` // CD_CONTA; empty matches by description only
	Description string           `yaml:"description"         toml:"description"`    // DS_CONTA

	// Aliases are extra labels accepted for the field, both as spreadsheet
	// headers and as account descriptions.
	Aliases []string `yaml:"aliases,omitempty" toml:"aliases,omitempty"`
}

// Table is an ordered account mapping. Earlier entries win on conflicts.
type Table struct {
	Entries []Entry `yaml:"entries" toml:"entries"`
}

// DefaultTable returns the standard DFP chart of accounts for
// non-financial companies. Amounts are reported in thousands of BRL.
func DefaultTable() Table {
	return Table{Entries: []Entry{
		{Field: models.FieldTotalAssets, Statement: models.StatementBalance, Code: "1", Description: "Ativo Total"},
		{Field: models.FieldCurrentLiabilities, Statement: models.StatementBalance, Code: "2.01", Description: "Passivo Circulante"},
		{Field: models.FieldCurrentBorrowings, Statement: models.StatementBalance, Code: "2.01.04",
			Description: "Empréstimos e Financiamentos",
			Aliases:     []string{"Empréstimos e Financiamentos - Circulante"}},
		{Field: models.FieldNonCurrentLiabilities, Statement: models.StatementBalance, Code: "2.02", Description: "Passivo Não Circulante"},
		{Field: models.FieldNonCurrentBorrowings, Statement: models.StatementBalance, Code: "2.02.01",
			Description: "Empréstimos e Financiamentos",
			Aliases:     []string{"Empréstimos e Financiamentos - Não Circulante"}},
		{Field: models.FieldEquity, Statement: models.StatementBalance, Code: "2.03",
			Description: "Patrimônio Líquido Consolidado",
			Aliases:     []string{"Patrimônio Líquido"}},
		{Field: models.FieldTotalLiabilities, Statement: models.StatementBalance, Code: "2", Description: "Passivo Total"},

		{Field: models.FieldRevenue, Statement: models.StatementIncome, Code: "3.01",
			Description: "Receita de Venda de Bens e/ou Serviços",
			Aliases:     []string{"Receita Líquida"}},
		{Field: models.FieldCOGS, Statement: models.StatementIncome, Code: "3.02", Description: "Custo dos Bens e/ou Serviços Vendidos"},
		{Field: models.FieldGrossProfit, Statement: models.StatementIncome, Code: "3.03", Description: "Resultado Bruto"},
		{Field: models.FieldOperatingResult, Statement: models.StatementIncome, Code: "3.05",
			Description: "Resultado Antes do Resultado Financeiro e dos Tributos"},
		{Field: models.FieldFinancialResult, Statement: models.StatementIncome, Code: "3.06", Description: "Resultado Financeiro"},
		{Field: models.FieldFinancialIncome, Statement: models.StatementIncome, Code: "3.06.01", Description: "Receitas Financeiras"},
		{Field: models.FieldFinancialExp, Statement: models.StatementIncome, Code: "3.06.02", Description: "Despesas Financeiras"},
		{Field: models.FieldPreTaxResult, Statement: models.StatementIncome, Code: "3.07", Description: "Resultado Antes dos Tributos sobre o Lucro"},
		{Field: models.FieldNetIncome, Statement: models.StatementIncome, Code: "3.11",
			Description: "Lucro/Prejuízo Consolidado do Período",
			Aliases:     []string{"Lucro Líquido"}},

		// The dividends line sits under 6.03 with a company-specific code.
		{Field: models.FieldDividendsPaid, Statement: models.StatementCashFlow, Description: "Pagamento de Dividendos",
			Aliases: []string{"Dividendos Pagos"}},
	}}
}

// LoadFile reads a mapping table from YAML, or from TOML when path ends in
// .toml. An empty path returns DefaultTable.
func LoadFile(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading mapping %s: %w", path, err)
	}
	var t Table
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &t)
	} else {
		err = yaml.Unmarshal(data, &t)
	}
	if err != nil {
		return Table{}, fmt.Errorf("parsing mapping %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, fmt.Errorf("mapping %s: %w", path, err)
	}
	return t, nil
}

// Validate checks that every entry names a known field, a statement and
// something to match on.
func (t Table) Validate() error {
	if len(t.Entries) == 0 {
		return errors.New("empty mapping table")
	}
	var errs []error
	for i, e := range t.Entries {
		if !e.Field.Valid() {
			errs = append(errs, fmt.Errorf("entry %d: unknown field %q", i, e.Field))
		}
		switch e.Statement {
		case models.StatementBalance, models.StatementIncome, models.StatementCashFlow:
		default:
			errs = append(errs, fmt.Errorf("entry %d: unknown statement %q", i, e.Statement))
		}
		if e.Code == "" && e.Description == "" {
			errs = append(errs, fmt.Errorf("entry %d (%s): needs a code or a description", i, e.Field))
		}
	}
	return errors.Join(errs...)
}

// Fields returns the distinct fields the table maps, in table order.
func (t Table) Fields() []models.Field {
	seen := make(map[models.Field]bool)
	var out []models.Field
	for _, e := range t.Entries {
		if !seen[e.Field] {
			seen[e.Field] = true
			out = append(out, e.Field)
		}
	}
	return out
}
