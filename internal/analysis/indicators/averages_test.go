package indicators

import (
	"testing"

	"github.com/seenimoa/cvmratios/pkg/models"
)

func TestAverage(t *testing.T) {
	borrowings := []models.Field{models.FieldCurrentBorrowings, models.FieldNonCurrentBorrowings}
	cur := record("A", 2023, vals{
		models.FieldEquity:               900,
		models.FieldCurrentBorrowings:    100,
		models.FieldNonCurrentBorrowings: 200,
	})
	prior := record("A", 2022, vals{
		models.FieldEquity:               700,
		models.FieldNonCurrentBorrowings: 50,
	})
	empty := record("A", 2022, nil)

	tests := []struct {
		name   string
		policy AveragingPolicy
		kind   balanceKind
		prior  *models.PeriodRecord
		fields []models.Field
		want   models.Num
	}{
		{"equity with prior", AveragingAsymmetric, balanceHeld, &prior, []models.Field{models.FieldEquity}, models.Some(800)},
		{"equity without prior", AveragingAsymmetric, balanceHeld, nil, []models.Field{models.FieldEquity}, models.None},
		{"equity prior blank", AveragingAsymmetric, balanceHeld, &empty, []models.Field{models.FieldEquity}, models.None},
		{"borrowings partial prior", AveragingAsymmetric, balanceOwed, &prior, borrowings, models.Some(175)},
		{"borrowings without prior", AveragingAsymmetric, balanceOwed, nil, borrowings, models.Some(150)},
		{"zero-fill equity", AveragingZeroFill, balanceHeld, nil, []models.Field{models.FieldEquity}, models.Some(450)},
		{"null-propagate borrowings", AveragingNullPropagate, balanceOwed, &prior, borrowings, models.None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := average(tt.policy, tt.kind, &cur, tt.prior, tt.fields...)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAverageAllTermsAbsent(t *testing.T) {
	cur := record("A", 2023, nil)
	prior := record("A", 2022, nil)

	tests := []struct {
		name   string
		policy AveragingPolicy
		kind   balanceKind
		fields []models.Field
		want   models.Num
	}{
		{"asymmetric borrowings", AveragingAsymmetric, balanceOwed,
			[]models.Field{models.FieldCurrentBorrowings, models.FieldNonCurrentBorrowings}, models.Some(0)},
		{"zero-fill borrowings", AveragingZeroFill, balanceOwed,
			[]models.Field{models.FieldCurrentBorrowings, models.FieldNonCurrentBorrowings}, models.Some(0)},
		{"zero-fill equity", AveragingZeroFill, balanceHeld,
			[]models.Field{models.FieldEquity}, models.None},
		{"null-propagate borrowings", AveragingNullPropagate, balanceOwed,
			[]models.Field{models.FieldCurrentBorrowings, models.FieldNonCurrentBorrowings}, models.None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := average(tt.policy, tt.kind, &cur, &prior, tt.fields...); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
