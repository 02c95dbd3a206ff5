package models

import (
	"strings"

	"github.com/seenimoa/cvmratios/pkg/utils"
)

// Entity is a reporting company.
type Entity struct {
	Code   string `json:"code"`   // CVM registration code
	Ticker string `json:"ticker"` // B3 symbol, e.g. "CPFE3"
	Name   string `json:"name,omitempty"`
	Sector string `json:"sector,omitempty"`
}

// Key returns the identifier used to group an entity's periods: the
// normalized ticker when present, otherwise the CVM code. Share classes of
// one issuer (PETR3, PETR4) file under a single CVM code, so the code alone
// does not identify a series.
func (e Entity) Key() string {
	if t := utils.NormalizeTicker(e.Ticker); t != "" {
		return t
	}
	return strings.TrimSpace(e.Code)
}

// Matches reports whether id names this entity, either as its ticker or,
// when id is numeric, as its CVM code with leading zeros ignored.
func (e Entity) Matches(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if t := utils.NormalizeTicker(e.Ticker); t != "" && t == utils.NormalizeTicker(id) {
		return true
	}
	if !numeric(id) {
		return false
	}
	code := strings.TrimSpace(e.Code)
	return code != "" && strings.TrimLeft(code, "0") == strings.TrimLeft(id, "0")
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Label returns the ticker when set, otherwise the key.
func (e Entity) Label() string {
	if e.Ticker != "" {
		return e.Ticker
	}
	return e.Key()
}

// PeriodRecord is one (entity, fiscal year) row of raw statement values.
type PeriodRecord struct {
	Entity          Entity          `json:"entity"`
	Year            int             `json:"year"`
	BalanceSheet    BalanceSheet    `json:"balance_sheet"`
	IncomeStatement IncomeStatement `json:"income_statement"`
	CashFlow        CashFlow        `json:"cash_flow"`
}

// Get returns the raw value stored under f. Unknown fields are absent.
func (r *PeriodRecord) Get(f Field) Num {
	if p := r.slot(f); p != nil {
		return *p
	}
	return None
}

// Set stores v under f. It reports false for unknown fields.
func (r *PeriodRecord) Set(f Field, v Num) bool {
	p := r.slot(f)
	if p == nil {
		return false
	}
	*p = v
	return true
}

func (r *PeriodRecord) slot(f Field) *Num {
	bs, is := &r.BalanceSheet, &r.IncomeStatement
	switch f {
	case FieldTotalAssets:
		return &bs.TotalAssets
	case FieldCurrentLiabilities:
		return &bs.CurrentLiabilities
	case FieldNonCurrentLiabilities:
		return &bs.NonCurrentLiabilities
	case FieldCurrentBorrowings:
		return &bs.CurrentBorrowings
	case FieldNonCurrentBorrowings:
		return &bs.NonCurrentBorrowings
	case FieldEquity:
		return &bs.Equity
	case FieldTotalLiabilities:
		return &bs.TotalLiabilities
	case FieldRevenue:
		return &is.Revenue
	case FieldCOGS:
		return &is.COGS
	case FieldGrossProfit:
		return &is.GrossProfit
	case FieldOperatingResult:
		return &is.OperatingResult
	case FieldFinancialResult:
		return &is.FinancialResult
	case FieldFinancialIncome:
		return &is.FinancialIncome
	case FieldFinancialExp:
		return &is.FinancialExpense
	case FieldPreTaxResult:
		return &is.PreTaxResult
	case FieldNetIncome:
		return &is.NetIncome
	case FieldDividendsPaid:
		return &r.CashFlow.DividendsPaid
	}
	return nil
}

// Panel is the raw per-company per-year panel handed to the engine.
type Panel struct {
	Records []PeriodRecord `json:"records"`

	// Columns lists the raw fields the loader found in its source.
	// Nil means unknown: a field then counts as present when any record
	// carries a value for it.
	Columns map[Field]bool `json:"columns,omitempty"`
}

// HasColumn reports whether f is part of the panel's schema.
func (p *Panel) HasColumn(f Field) bool {
	if p.Columns != nil {
		return p.Columns[f]
	}
	for i := range p.Records {
		if p.Records[i].Get(f).Valid {
			return true
		}
	}
	return false
}
