package models

// Statement identifies the financial statement a raw field is reported on.
type Statement string

const (
	StatementBalance  Statement = "BP"  // Balanço Patrimonial
	StatementIncome   Statement = "DRE" // Demonstração do Resultado
	StatementCashFlow Statement = "DFC" // Demonstração dos Fluxos de Caixa
)

// Field is the stable name of a raw financial-statement line item.
type Field string

// Balance-sheet fields.
const (
	FieldTotalAssets           Field = "total_assets"
	FieldCurrentLiabilities    Field = "current_liabilities"
	FieldNonCurrentLiabilities Field = "noncurrent_liabilities"
	FieldCurrentBorrowings     Field = "current_borrowings"
	FieldNonCurrentBorrowings  Field = "noncurrent_borrowings"
	FieldEquity                Field = "equity"
	FieldTotalLiabilities      Field = "total_liabilities"
)

// Income-statement fields.
const (
	FieldRevenue         Field = "revenue"
	FieldCOGS            Field = "cogs"
	FieldGrossProfit     Field = "gross_profit"
	FieldOperatingResult Field = "operating_result" // EBIT-equivalent, before financial result and taxes
	FieldFinancialResult Field = "financial_result"
	FieldFinancialIncome Field = "financial_income"
	FieldFinancialExp    Field = "financial_expense"
	FieldPreTaxResult    Field = "pretax_result"
	FieldNetIncome       Field = "net_income"
)

// Cash-flow fields.
const (
	FieldDividendsPaid Field = "dividends_paid"
)

var rawFields = []Field{
	FieldTotalAssets,
	FieldCurrentLiabilities,
	FieldNonCurrentLiabilities,
	FieldCurrentBorrowings,
	FieldNonCurrentBorrowings,
	FieldEquity,
	FieldTotalLiabilities,
	FieldRevenue,
	FieldCOGS,
	FieldGrossProfit,
	FieldOperatingResult,
	FieldFinancialResult,
	FieldFinancialIncome,
	FieldFinancialExp,
	FieldPreTaxResult,
	FieldNetIncome,
	FieldDividendsPaid,
}

// RawFields returns every raw field in canonical order.
func RawFields() []Field {
	out := make([]Field, len(rawFields))
	copy(out, rawFields)
	return out
}

// Valid reports whether f is one of the fixed raw fields.
func (f Field) Valid() bool {
	for _, r := range rawFields {
		if r == f {
			return true
		}
	}
	return false
}

// Statement returns the statement f belongs to.
func (f Field) Statement() Statement {
	switch f {
	case FieldTotalAssets, FieldCurrentLiabilities, FieldNonCurrentLiabilities,
		FieldCurrentBorrowings, FieldNonCurrentBorrowings, FieldEquity, FieldTotalLiabilities:
		return StatementBalance
	case FieldDividendsPaid:
		return StatementCashFlow
	default:
		return StatementIncome
	}
}

// BalanceSheet holds the balance-sheet line items of one period, in thousands.
type BalanceSheet struct {
	TotalAssets           Num `json:"total_assets"`
	CurrentLiabilities    Num `json:"current_liabilities"`
	NonCurrentLiabilities Num `json:"noncurrent_liabilities"`
	CurrentBorrowings     Num `json:"current_borrowings"`
	NonCurrentBorrowings  Num `json:"noncurrent_borrowings"`
	Equity                Num `json:"equity"` // consolidated
	TotalLiabilities      Num `json:"total_liabilities"`
}

// IncomeStatement holds the income-statement line items of one period, in thousands.
// Expenses keep the sign they are reported with.
type IncomeStatement struct {
	Revenue          Num `json:"revenue"`
	COGS             Num `json:"cogs"`
	GrossProfit      Num `json:"gross_profit"`
	OperatingResult  Num `json:"operating_result"`
	FinancialResult  Num `json:"financial_result"`
	FinancialIncome  Num `json:"financial_income"`
	FinancialExpense Num `json:"financial_expense"`
	PreTaxResult     Num `json:"pretax_result"`
	NetIncome        Num `json:"net_income"`
}

// CashFlow holds the cash-flow line items of one period, in thousands.
type CashFlow struct {
	DividendsPaid Num `json:"dividends_paid"`
}
