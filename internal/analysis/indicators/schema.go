package indicators

import (
	"fmt"
	"strings"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// requiredFields are the raw fields the rule table reads.
var requiredFields = []models.Field{
	models.FieldTotalAssets,
	models.FieldCurrentLiabilities,
	models.FieldNonCurrentLiabilities,
	models.FieldCurrentBorrowings,
	models.FieldNonCurrentBorrowings,
	models.FieldEquity,
	models.FieldRevenue,
	models.FieldGrossProfit,
	models.FieldOperatingResult,
	models.FieldFinancialExp,
	models.FieldNetIncome,
	models.FieldDividendsPaid,
}

// RequiredFields returns the raw fields a panel must carry.
func RequiredFields() []models.Field {
	out := make([]models.Field, len(requiredFields))
	copy(out, requiredFields)
	return out
}

// SchemaError reports required raw fields missing from the whole panel.
// It points at a loader or account-mapping defect, not at absent data.
type SchemaError struct {
	Missing []models.Field
}

func (e *SchemaError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("panel schema: missing required field(s): %s", strings.Join(names, ", "))
}

// CheckSchema returns a *SchemaError listing every required field the panel
// does not carry, or nil.
func CheckSchema(p *models.Panel) error {
	var missing []models.Field
	for _, f := range requiredFields {
		if !p.HasColumn(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}
