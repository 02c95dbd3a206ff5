// Package ranking filters, ranks and summarises a derived panel for display.
package ranking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/seenimoa/cvmratios/pkg/models"
	"github.com/seenimoa/cvmratios/pkg/utils"
)

// ErrUnknownMetric is returned for a metric name outside the catalogue.
var ErrUnknownMetric = errors.New("unknown metric")

// ErrEntityNotFound is returned when no record matches a ticker or code.
var ErrEntityNotFound = errors.New("entity not found")

// Unit tells how a metric is displayed.
type Unit string

const (
	UnitRatio    Unit = "ratio"    // fraction, shown as a percentage
	UnitCurrency Unit = "currency" // thousands of BRL
)

// MetricInfo describes a rankable indicator.
type MetricInfo struct {
	Metric      models.Metric `json:"metric"`
	Label       string        `json:"label"`
	Unit        Unit          `json:"unit"`
	LowerBetter bool          `json:"lower_better"`
}

var catalogue = []MetricInfo{
	{models.MetricAvgAssets, "Average total assets", UnitCurrency, false},
	{models.MetricAvgEquity, "Average equity", UnitCurrency, false},
	{models.MetricAvgInterestBearing, "Average interest-bearing liabilities", UnitCurrency, true},
	{models.MetricAvgInvestedCapital, "Average invested capital", UnitCurrency, false},
	{models.MetricROA, "ROA", UnitRatio, false},
	{models.MetricROE, "ROE", UnitRatio, false},
	{models.MetricROI, "ROI", UnitRatio, false},
	{models.MetricGrossMargin, "Gross margin", UnitRatio, false},
	{models.MetricOperatingMargin, "Operating margin", UnitRatio, false},
	{models.MetricNetMargin, "Net margin", UnitRatio, false},
	{models.MetricTotalLiabilities, "Total liabilities and equity", UnitCurrency, false},
	{models.MetricThirdPartyCapital, "Third-party capital", UnitRatio, true},
	{models.MetricOwnCapital, "Own capital", UnitRatio, false},
	{models.MetricKi, "Cost of debt (Ki)", UnitRatio, true},
	{models.MetricKe, "Cost of equity (Ke)", UnitRatio, true},
	{models.MetricWACC, "WACC", UnitRatio, true},
	{models.MetricEBITDA, "EBITDA", UnitCurrency, false},
	{models.MetricROIEBITDA, "ROI (EBITDA)", UnitRatio, false},
	{models.MetricEconomicProfit1, "Economic profit (spread)", UnitCurrency, false},
	{models.MetricEconomicProfit2, "Economic profit (income)", UnitCurrency, false},
	{models.MetricEconomicProfitEBITDA, "Economic profit (EBITDA)", UnitCurrency, false},
	{models.MetricEconomicProfitGap, "Economic profit gap", UnitCurrency, true},
}

// Metrics returns the catalogue of rankable indicators in canonical order.
func Metrics() []MetricInfo {
	out := make([]MetricInfo, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the catalogue entry for name. Names are matched
// case-insensitively; "-" is accepted for "_".
func Lookup(name string) (MetricInfo, error) {
	m := models.Metric(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	for _, info := range catalogue {
		if info.Metric == m {
			return info, nil
		}
	}
	return MetricInfo{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

// Format renders v in the metric's unit with Brazilian conventions.
func (mi MetricInfo) Format(v models.Num) string {
	x, ok := v.Get()
	if !ok {
		return utils.Absent
	}
	if mi.Unit == UnitRatio {
		return utils.FormatPercent(x)
	}
	return utils.FormatNumber(x, 0)
}

// Order is the direction of a ranking.
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// ParseOrder accepts "asc", "desc" or "" (best first for the metric).
func ParseOrder(s string, mi MetricInfo) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case OrderAsc:
		return OrderAsc, nil
	case OrderDesc:
		return OrderDesc, nil
	case "":
		if mi.LowerBetter {
			return OrderAsc, nil
		}
		return OrderDesc, nil
	}
	return "", fmt.Errorf("invalid order %q (want asc or desc)", s)
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Year   int    `json:"year,omitempty"`
	Ticker string `json:"ticker,omitempty"` // ticker or CVM code
	Sector string `json:"sector,omitempty"`
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec *models.DerivedRecord) bool {
	if f.Year != 0 && rec.Year != f.Year {
		return false
	}
	if f.Ticker != "" && !rec.Entity.Matches(f.Ticker) {
		return false
	}
	if f.Sector != "" && !strings.EqualFold(strings.TrimSpace(rec.Entity.Sector), strings.TrimSpace(f.Sector)) {
		return false
	}
	return true
}

// Apply returns the matching records in panel order.
func (f Filter) Apply(p *models.DerivedPanel) []models.DerivedRecord {
	var out []models.DerivedRecord
	for i := range p.Records {
		if f.Match(&p.Records[i]) {
			out = append(out, p.Records[i])
		}
	}
	return out
}

// Entry is one ranked record.
type Entry struct {
	Rank   int           `json:"rank"`
	Entity models.Entity `json:"entity"`
	Year   int           `json:"year"`
	Value  float64       `json:"value"`
}

// Ranking is an ordered view of one metric.
type Ranking struct {
	Metric  MetricInfo `json:"metric"`
	Order   Order      `json:"order"`
	Entries []Entry    `json:"entries"`
	Absent  int        `json:"absent"` // records excluded for lack of a value
}

// Rank orders records by metric. Records where the metric is absent are
// left out and counted. Ties keep entity then year order.
func Rank(records []models.DerivedRecord, metric models.Metric, order Order) (Ranking, error) {
	mi, err := Lookup(string(metric))
	if err != nil {
		return Ranking{}, err
	}
	if order == "" {
		order, _ = ParseOrder("", mi)
	}
	if order != OrderAsc && order != OrderDesc {
		return Ranking{}, fmt.Errorf("invalid order %q", order)
	}

	r := Ranking{Metric: mi, Order: order}
	for i := range records {
		v, ok := records[i].Indicators.Get(mi.Metric).Get()
		if !ok {
			r.Absent++
			continue
		}
		r.Entries = append(r.Entries, Entry{Entity: records[i].Entity, Year: records[i].Year, Value: v})
	}

	sort.SliceStable(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if a.Value != b.Value {
			if order == OrderAsc {
				return a.Value < b.Value
			}
			return a.Value > b.Value
		}
		if a.Entity.Label() != b.Entity.Label() {
			return a.Entity.Label() < b.Entity.Label()
		}
		return a.Year < b.Year
	})
	for i := range r.Entries {
		r.Entries[i].Rank = i + 1
	}
	return r, nil
}

// Top returns the first n entries, or all of them when n <= 0.
func (r Ranking) Top(n int) []Entry {
	if n <= 0 || n >= len(r.Entries) {
		return r.Entries
	}
	return r.Entries[:n]
}

// DrillDown returns every record of one entity in ascending year order.
// id is a ticker or a CVM code. A code shared by several share classes
// returns each class's series in turn, grouped by entity key.
func DrillDown(p *models.DerivedPanel, id string) ([]models.DerivedRecord, error) {
	out := Filter{Ticker: id}.Apply(p)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := out[i].Entity.Key(), out[j].Entity.Key()
		if ki != kj {
			return ki < kj
		}
		return out[i].Year < out[j].Year
	})
	return out, nil
}

// Divergences returns the records whose two economic-profit figures
// disagree beyond the engine tolerance, largest gap first.
func Divergences(records []models.DerivedRecord) []models.DerivedRecord {
	var out []models.DerivedRecord
	for i := range records {
		if records[i].Indicators.Divergent {
			out = append(out, records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Indicators.EconomicProfitGap.Value > out[j].Indicators.EconomicProfitGap.Value
	})
	return out
}
