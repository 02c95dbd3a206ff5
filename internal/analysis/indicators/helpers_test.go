package indicators

import (
	"math"
	"testing"

	"github.com/seenimoa/cvmratios/pkg/models"
)

type vals map[models.Field]float64

func record(code string, year int, v vals) models.PeriodRecord {
	r := models.PeriodRecord{
		Entity: models.Entity{Code: code, Ticker: code + "3", Sector: "Energia"},
		Year:   year,
	}
	for f, x := range v {
		r.Set(f, models.Some(x))
	}
	return r
}

// panelOf declares every raw field as a column so per-test data may leave
// fields blank without tripping the schema check.
func panelOf(records ...models.PeriodRecord) *models.Panel {
	cols := make(map[models.Field]bool)
	for _, f := range models.RawFields() {
		cols[f] = true
	}
	return &models.Panel{Records: records, Columns: cols}
}

// fullYears is a two-year history with every field populated.
//
//	AvgAssets 2100, AvgEquity 800, AIBL 400, AIC 1200,
//	ki 0.10, ke 0.075, WACC 1/12, ROI 0.25.
func fullYears() []models.PeriodRecord {
	return []models.PeriodRecord{
		record("9512", 2022, vals{
			models.FieldTotalAssets:          2000,
			models.FieldEquity:               700,
			models.FieldCurrentBorrowings:    100,
			models.FieldNonCurrentBorrowings: 300,
		}),
		record("9512", 2023, vals{
			models.FieldTotalAssets:           2200,
			models.FieldEquity:                900,
			models.FieldCurrentBorrowings:     100,
			models.FieldNonCurrentBorrowings:  300,
			models.FieldCurrentLiabilities:    400,
			models.FieldNonCurrentLiabilities: 500,
			models.FieldRevenue:               1000,
			models.FieldGrossProfit:           400,
			models.FieldOperatingResult:       300,
			models.FieldNetIncome:             150,
			models.FieldFinancialExp:          -40,
			models.FieldDividendsPaid:         -60,
		}),
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func wantNum(t *testing.T, name string, got models.Num, want float64) {
	t.Helper()
	if !got.Valid {
		t.Errorf("%s: got absent, want %v", name, want)
		return
	}
	if !near(got.Value, want) {
		t.Errorf("%s: got %v, want %v", name, got.Value, want)
	}
}

func wantAbsent(t *testing.T, name string, got models.Num) {
	t.Helper()
	if got.Valid {
		t.Errorf("%s: got %v, want absent", name, got.Value)
	}
}
