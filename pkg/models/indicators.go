package models

import "sort"

// Metric is the stable name of a derived indicator.
type Metric string

const (
	MetricAvgAssets            Metric = "avg_assets"
	MetricAvgEquity            Metric = "avg_equity"
	MetricAvgInterestBearing   Metric = "avg_interest_bearing_liabilities"
	MetricAvgInvestedCapital   Metric = "avg_invested_capital"
	MetricROA                  Metric = "roa"
	MetricROE                  Metric = "roe"
	MetricROI                  Metric = "roi"
	MetricGrossMargin          Metric = "gross_margin"
	MetricOperatingMargin      Metric = "operating_margin"
	MetricNetMargin            Metric = "net_margin"
	MetricTotalLiabilities     Metric = "total_liabilities"
	MetricThirdPartyCapital    Metric = "third_party_capital_pct"
	MetricOwnCapital           Metric = "own_capital_pct"
	MetricKi                   Metric = "ki"
	MetricKe                   Metric = "ke"
	MetricWACC                 Metric = "wacc"
	MetricEBITDA               Metric = "ebitda"
	MetricROIEBITDA            Metric = "roi_ebitda"
	MetricEconomicProfit1      Metric = "economic_profit_1"
	MetricEconomicProfit2      Metric = "economic_profit_2"
	MetricEconomicProfitEBITDA Metric = "economic_profit_ebitda"
	MetricEconomicProfitGap    Metric = "economic_profit_gap"
)

var metrics = []Metric{
	MetricAvgAssets,
	MetricAvgEquity,
	MetricAvgInterestBearing,
	MetricAvgInvestedCapital,
	MetricROA,
	MetricROE,
	MetricROI,
	MetricGrossMargin,
	MetricOperatingMargin,
	MetricNetMargin,
	MetricTotalLiabilities,
	MetricThirdPartyCapital,
	MetricOwnCapital,
	MetricKi,
	MetricKe,
	MetricWACC,
	MetricEBITDA,
	MetricROIEBITDA,
	MetricEconomicProfit1,
	MetricEconomicProfit2,
	MetricEconomicProfitEBITDA,
	MetricEconomicProfitGap,
}

// Metrics returns every numeric indicator in canonical order.
func Metrics() []Metric {
	out := make([]Metric, len(metrics))
	copy(out, metrics)
	return out
}

// Indicators holds the derived fields of one period record.
// Ratios are plain fractions (0.1875, not 18.75).
type Indicators struct {
	AvgAssets            Num `json:"avg_assets"`
	AvgEquity            Num `json:"avg_equity"`
	AvgInterestBearing   Num `json:"avg_interest_bearing_liabilities"`
	AvgInvestedCapital   Num `json:"avg_invested_capital"`
	ROA                  Num `json:"roa"`
	ROE                  Num `json:"roe"`
	ROI                  Num `json:"roi"`
	GrossMargin          Num `json:"gross_margin"`
	OperatingMargin      Num `json:"operating_margin"`
	NetMargin            Num `json:"net_margin"`
	TotalLiabilities     Num `json:"total_liabilities"`
	ThirdPartyCapital    Num `json:"third_party_capital_pct"`
	OwnCapital           Num `json:"own_capital_pct"`
	Ki                   Num `json:"ki"`
	Ke                   Num `json:"ke"`
	WACC                 Num `json:"wacc"`
	EBITDA               Num `json:"ebitda"` // operating result + |financial expense|; no D&A add-back
	ROIEBITDA            Num `json:"roi_ebitda"`
	EconomicProfit1      Num `json:"economic_profit_1"`
	EconomicProfit2      Num `json:"economic_profit_2"`
	EconomicProfitEBITDA Num `json:"economic_profit_ebitda"`

	LeverageEffective bool `json:"leverage_effective"`

	// EconomicProfitGap is |EconomicProfit1 - EconomicProfit2|.
	EconomicProfitGap Num  `json:"economic_profit_gap"`
	Divergent         bool `json:"divergent"`
}

// Get returns the indicator named m. Unknown metrics are absent.
func (ind *Indicators) Get(m Metric) Num {
	if p := ind.slot(m); p != nil {
		return *p
	}
	return None
}

// Set stores v under m. It reports false for unknown metrics.
func (ind *Indicators) Set(m Metric, v Num) bool {
	p := ind.slot(m)
	if p == nil {
		return false
	}
	*p = v
	return true
}

func (ind *Indicators) slot(m Metric) *Num {
	switch m {
	case MetricAvgAssets:
		return &ind.AvgAssets
	case MetricAvgEquity:
		return &ind.AvgEquity
	case MetricAvgInterestBearing:
		return &ind.AvgInterestBearing
	case MetricAvgInvestedCapital:
		return &ind.AvgInvestedCapital
	case MetricROA:
		return &ind.ROA
	case MetricROE:
		return &ind.ROE
	case MetricROI:
		return &ind.ROI
	case MetricGrossMargin:
		return &ind.GrossMargin
	case MetricOperatingMargin:
		return &ind.OperatingMargin
	case MetricNetMargin:
		return &ind.NetMargin
	case MetricTotalLiabilities:
		return &ind.TotalLiabilities
	case MetricThirdPartyCapital:
		return &ind.ThirdPartyCapital
	case MetricOwnCapital:
		return &ind.OwnCapital
	case MetricKi:
		return &ind.Ki
	case MetricKe:
		return &ind.Ke
	case MetricWACC:
		return &ind.WACC
	case MetricEBITDA:
		return &ind.EBITDA
	case MetricROIEBITDA:
		return &ind.ROIEBITDA
	case MetricEconomicProfit1:
		return &ind.EconomicProfit1
	case MetricEconomicProfit2:
		return &ind.EconomicProfit2
	case MetricEconomicProfitEBITDA:
		return &ind.EconomicProfitEBITDA
	case MetricEconomicProfitGap:
		return &ind.EconomicProfitGap
	}
	return nil
}

// DerivedRecord is a period record augmented with its indicators.
type DerivedRecord struct {
	PeriodRecord
	HasPrior   bool       `json:"has_prior"`
	Indicators Indicators `json:"indicators"`
}

// RunSummary counts what a derivation run produced.
type RunSummary struct {
	Records   int `json:"records"`
	Entities  int `json:"entities"`
	WithPrior int `json:"with_prior"`
	Divergent int `json:"divergent"`
}

// DerivedPanel is the output of the indicator engine. It is immutable once built.
type DerivedPanel struct {
	Rules   string          `json:"rules"` // rule-set description, e.g. "v2/asymmetric/capital-weighted/capital-charge"
	Records []DerivedRecord `json:"records"`
	Summary RunSummary      `json:"summary"`
}

// Years returns the distinct fiscal years in the panel, ascending.
func (p *DerivedPanel) Years() []int {
	seen := make(map[int]bool)
	var years []int
	for i := range p.Records {
		y := p.Records[i].Year
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years
}

// Sectors returns the distinct non-empty sectors in the panel, sorted.
func (p *DerivedPanel) Sectors() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range p.Records {
		s := p.Records[i].Entity.Sector
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
