package indicators

import (
	"math"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// calc carries one record through the rule table.
type calc struct {
	rules Rules
	cur   *models.PeriodRecord
	prior *models.PeriodRecord // nil when the prior fiscal year is not in the panel
	ind   *models.Indicators
}

func (c *calc) raw(f models.Field) models.Num { return c.cur.Get(f) }

// rule computes one indicator. Rules run in table order, so a rule may read
// any indicator computed by an earlier entry.
type rule struct {
	metric models.Metric
	eval   func(c *calc) models.Num
}

// ruleTable is the formula set identified by RulesVersion.
var ruleTable = []rule{
	// Averages over the current and prior fiscal year.
	{models.MetricAvgAssets, func(c *calc) models.Num {
		return average(c.rules.Averaging, balanceHeld, c.cur, c.prior, models.FieldTotalAssets)
	}},
	{models.MetricAvgEquity, func(c *calc) models.Num {
		return average(c.rules.Averaging, balanceHeld, c.cur, c.prior, models.FieldEquity)
	}},
	{models.MetricAvgInterestBearing, func(c *calc) models.Num {
		return average(c.rules.Averaging, balanceOwed, c.cur, c.prior,
			models.FieldCurrentBorrowings, models.FieldNonCurrentBorrowings)
	}},
	{models.MetricAvgInvestedCapital, func(c *calc) models.Num {
		return add(c.ind.AvgInterestBearing, c.ind.AvgEquity)
	}},

	// Returns.
	{models.MetricROA, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldOperatingResult), c.ind.AvgAssets)
	}},
	{models.MetricROI, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldOperatingResult), c.ind.AvgInvestedCapital)
	}},
	{models.MetricROE, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldNetIncome), c.ind.AvgEquity)
	}},

	// Margins.
	{models.MetricGrossMargin, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldGrossProfit), c.raw(models.FieldRevenue))
	}},
	{models.MetricOperatingMargin, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldOperatingResult), c.raw(models.FieldRevenue))
	}},
	{models.MetricNetMargin, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldNetIncome), c.raw(models.FieldRevenue))
	}},

	// Capital structure.
	{models.MetricTotalLiabilities, func(c *calc) models.Num {
		return sumPresent(c.raw(models.FieldCurrentLiabilities), c.raw(models.FieldNonCurrentLiabilities), c.raw(models.FieldEquity))
	}},
	{models.MetricThirdPartyCapital, func(c *calc) models.Num {
		third := sumPresent(c.raw(models.FieldCurrentLiabilities), c.raw(models.FieldNonCurrentLiabilities))
		if !third.Valid {
			third = models.Some(0)
		}
		return ratio(third, c.ind.TotalLiabilities)
	}},
	{models.MetricOwnCapital, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldEquity), c.ind.TotalLiabilities)
	}},

	// Cost of capital.
	{models.MetricKi, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldFinancialExp).Abs(), c.ind.AvgInterestBearing)
	}},
	{models.MetricKe, func(c *calc) models.Num {
		return ratio(c.raw(models.FieldDividendsPaid).Abs(), c.ind.AvgEquity)
	}},
	{models.MetricWACC, wacc},

	// EBITDA approximation: the source carries no depreciation or
	// amortization, so financial expense is the only add-back.
	{models.MetricEBITDA, func(c *calc) models.Num {
		return add(c.raw(models.FieldOperatingResult), c.raw(models.FieldFinancialExp).Abs())
	}},
	{models.MetricROIEBITDA, func(c *calc) models.Num {
		return ratio(c.ind.EBITDA, c.ind.AvgInvestedCapital)
	}},

	// Economic profit.
	{models.MetricEconomicProfit1, func(c *calc) models.Num {
		return spreadProfit(c.ind.ROI, c.ind.WACC, c.ind.AvgInvestedCapital)
	}},
	{models.MetricEconomicProfit2, incomeProfit},
	{models.MetricEconomicProfitEBITDA, func(c *calc) models.Num {
		return spreadProfit(c.ind.ROIEBITDA, c.ind.WACC, c.ind.AvgInvestedCapital)
	}},
	{models.MetricEconomicProfitGap, func(c *calc) models.Num {
		return absDiff(c.ind.EconomicProfit1, c.ind.EconomicProfit2)
	}},
}

func wacc(c *calc) models.Num {
	ki, ke := c.ind.Ki, c.ind.Ke
	if !ki.Valid || !ke.Valid {
		return models.None
	}
	switch c.rules.WACC {
	case WACCStructureWeighted:
		third, own := c.ind.ThirdPartyCapital, c.ind.OwnCapital
		if !third.Valid || !own.Valid {
			return models.None
		}
		return models.Some(ki.Value*third.Value + ke.Value*own.Value)
	default:
		debt, equity := c.ind.AvgInterestBearing, c.ind.AvgEquity
		if !debt.Valid || !equity.Valid {
			return models.None
		}
		return ratio(models.Some(ki.Value*debt.Value+ke.Value*equity.Value), models.Some(debt.Value+equity.Value))
	}
}

func incomeProfit(c *calc) models.Num {
	ni := c.raw(models.FieldNetIncome)
	if !ni.Valid {
		return models.None
	}
	switch c.rules.EconomicProfit {
	case EconomicProfitCashCharge:
		fe, div := c.raw(models.FieldFinancialExp), c.raw(models.FieldDividendsPaid)
		if !fe.Valid || !div.Valid {
			return models.None
		}
		return models.Some(ni.Value - math.Abs(fe.Value) - math.Abs(div.Value))
	default:
		w, capital := c.ind.WACC, c.ind.AvgInvestedCapital
		if !w.Valid || !capital.Valid {
			return models.None
		}
		return models.Some(ni.Value - w.Value*capital.Value)
	}
}

// derive applies the rule table and the boolean classifications to one record.
func (r Rules) derive(cur, prior *models.PeriodRecord) models.Indicators {
	var ind models.Indicators
	c := &calc{rules: r, cur: cur, prior: prior, ind: &ind}
	for _, rl := range ruleTable {
		ind.Set(rl.metric, rl.eval(c))
	}
	ind.LeverageEffective = leverageEffective(ind.ROE, ind.ROA, ind.ROI)
	ind.Divergent = divergent(ind.EconomicProfit1, ind.EconomicProfit2, r.Tolerance)
	return ind
}

// leverageEffective reports whether equity returns beat both asset and
// invested-capital returns. Any absent input classifies as false.
func leverageEffective(roe, roa, roi models.Num) bool {
	if !roe.Valid || !roa.Valid || !roi.Valid {
		return false
	}
	return roe.Value > roa.Value && roe.Value > roi.Value
}

// divergent reports whether the two economic-profit figures differ by more
// than tolerance times the larger magnitude.
func divergent(ep1, ep2 models.Num, tolerance float64) bool {
	gap := absDiff(ep1, ep2)
	if !gap.Valid {
		return false
	}
	scale := math.Max(math.Abs(ep1.Value), math.Abs(ep2.Value))
	return gap.Value > tolerance*scale
}

// --- guarded arithmetic ---

// ratio divides num by den. den must be present and strictly positive.
func ratio(num, den models.Num) models.Num {
	if !num.Valid || !den.Positive() {
		return models.None
	}
	return models.Some(num.Value / den.Value)
}

// add sums a and b; both must be present.
func add(a, b models.Num) models.Num {
	if !a.Valid || !b.Valid {
		return models.None
	}
	return models.Some(a.Value + b.Value)
}

// sumPresent sums the present terms; absent only when every term is absent.
func sumPresent(terms ...models.Num) models.Num {
	total, seen := 0.0, false
	for _, t := range terms {
		if t.Valid {
			total += t.Value
			seen = true
		}
	}
	if !seen {
		return models.None
	}
	return models.Some(total)
}

// spreadProfit is (return - wacc) * capital.
func spreadProfit(ret, w, capital models.Num) models.Num {
	if !ret.Valid || !w.Valid || !capital.Valid {
		return models.None
	}
	return models.Some((ret.Value - w.Value) * capital.Value)
}

func absDiff(a, b models.Num) models.Num {
	if !a.Valid || !b.Valid {
		return models.None
	}
	return models.Some(math.Abs(a.Value - b.Value))
}
