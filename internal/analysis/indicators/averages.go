package indicators

import "github.com/seenimoa/cvmratios/pkg/models"

// balanceKind classifies a stock-type balance for the averaging policy.
type balanceKind int

const (
	// balanceHeld is an amount whose absence means missing data (assets, equity).
	balanceHeld balanceKind = iota
	// balanceOwed is an amount whose absence means nothing is owed (borrowings).
	balanceOwed
)

// average returns the mean of the summed fields across the current and
// prior period: (Σ current + Σ prior) / 2.
//
// When the policy zero-fills k, absent terms and a missing prior record
// count as zero. Owed balances with no term reported average to zero, since
// no debt is a real value; held balances with no term reported stay absent.
// Otherwise the prior record and every term must be present.
func average(policy AveragingPolicy, k balanceKind, cur, prior *models.PeriodRecord, fields ...models.Field) models.Num {
	zeroFill := policy.zeroFills(k)
	if prior == nil && !zeroFill {
		return models.None
	}

	total := 0.0
	seen := false
	for _, rec := range [2]*models.PeriodRecord{cur, prior} {
		for _, f := range fields {
			var v models.Num
			if rec != nil {
				v = rec.Get(f)
			}
			if !v.Valid {
				if !zeroFill {
					return models.None
				}
				continue
			}
			seen = true
			total += v.Value
		}
	}

	if !seen && k != balanceOwed {
		return models.None
	}
	return models.Some(total / 2)
}
