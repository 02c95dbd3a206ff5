// Package indicators derives financial indicators from a raw per-company
// per-year panel.
//
// Derivation runs in two steps. A keyed index attaches each record's prior
// fiscal year for the same entity; a fixed rule table then computes every
// indicator from the record and its prior. Absent inputs and non-positive
// denominators always produce absent indicators, never errors. Only schema
// and key defects in the input panel fail the run.
package indicators

import (
	"fmt"
	"strings"
)

// RulesVersion identifies the formula table.
const RulesVersion = "v2"

// DefaultTolerance is the relative gap above which the two economic-profit
// figures of a record are flagged as divergent.
const DefaultTolerance = 0.01

// AveragingPolicy decides how "average" balances treat absent terms.
type AveragingPolicy string

const (
	// AveragingAsymmetric zero-fills borrowings (no debt is a real value)
	// and requires both periods for assets and equity.
	AveragingAsymmetric AveragingPolicy = "asymmetric"
	// AveragingZeroFill treats every absent term, including a missing prior
	// year, as zero.
	AveragingZeroFill AveragingPolicy = "zero-fill"
	// AveragingNullPropagate requires every term of both periods.
	AveragingNullPropagate AveragingPolicy = "null-propagate"
)

// WACCMethod selects how ki and ke are blended.
type WACCMethod string

const (
	// WACCCapitalWeighted weights ki and ke by average interest-bearing
	// liabilities and average equity.
	WACCCapitalWeighted WACCMethod = "capital-weighted"
	// WACCStructureWeighted weights ki and ke by the third-party and own
	// capital shares of total liabilities.
	WACCStructureWeighted WACCMethod = "structure-weighted"
)

// EconomicProfitMethod selects the income-based economic profit formula.
type EconomicProfitMethod string

const (
	// EconomicProfitCapitalCharge is net income minus WACC times average
	// invested capital.
	EconomicProfitCapitalCharge EconomicProfitMethod = "capital-charge"
	// EconomicProfitCashCharge is net income minus |financial expense| minus
	// |dividends paid|.
	EconomicProfitCashCharge EconomicProfitMethod = "cash-charge"
)

// Rules selects the formula variants used by a derivation run.
type Rules struct {
	Averaging      AveragingPolicy      `mapstructure:"averaging"       json:"averaging"`
	WACC           WACCMethod           `mapstructure:"wacc"            json:"wacc"`
	EconomicProfit EconomicProfitMethod `mapstructure:"economic_profit" json:"economic_profit"`
	Tolerance      float64              `mapstructure:"tolerance"       json:"tolerance"`
}

// DefaultRules returns the recommended rule set.
func DefaultRules() Rules {
	return Rules{
		Averaging:      AveragingAsymmetric,
		WACC:           WACCCapitalWeighted,
		EconomicProfit: EconomicProfitCapitalCharge,
		Tolerance:      DefaultTolerance,
	}
}

// Validate rejects unknown variant names and negative tolerances.
func (r Rules) Validate() error {
	var problems []string
	switch r.Averaging {
	case AveragingAsymmetric, AveragingZeroFill, AveragingNullPropagate:
	default:
		problems = append(problems, fmt.Sprintf("unknown averaging policy %q", r.Averaging))
	}
	switch r.WACC {
	case WACCCapitalWeighted, WACCStructureWeighted:
	default:
		problems = append(problems, fmt.Sprintf("unknown wacc method %q", r.WACC))
	}
	switch r.EconomicProfit {
	case EconomicProfitCapitalCharge, EconomicProfitCashCharge:
	default:
		problems = append(problems, fmt.Sprintf("unknown economic profit method %q", r.EconomicProfit))
	}
	if r.Tolerance < 0 {
		problems = append(problems, fmt.Sprintf("negative tolerance %g", r.Tolerance))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid rules: %s", strings.Join(problems, "; "))
	}
	return nil
}

// String describes the rule set, e.g. "v2/asymmetric/capital-weighted/capital-charge".
func (r Rules) String() string {
	return strings.Join([]string{RulesVersion, string(r.Averaging), string(r.WACC), string(r.EconomicProfit)}, "/")
}

// zeroFills reports whether absent terms of a balance of kind k count as zero.
func (p AveragingPolicy) zeroFills(k balanceKind) bool {
	switch p {
	case AveragingZeroFill:
		return true
	case AveragingNullPropagate:
		return false
	default:
		return k == balanceOwed
	}
}
