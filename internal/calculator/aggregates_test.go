package calculator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmynk/ledgersync/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name          string
		principal     string
		settled       string
		wantRemaining string
		wantInterest  string
		wantStatus    models.Status
	}{
		{"nothing paid", "100", "0", "100", "0", models.StatusPending},
		{"partial", "100", "40", "60", "0", models.StatusPartiallySettled},
		{"exact", "100", "100", "0", "0", models.StatusSettled},
		{"overpayment", "100", "130", "0", "30", models.StatusSettled},
		{"zero principal", "0", "0", "0", "0", models.StatusSettled},
		{"decimal cents", "10.10", "3.03", "7.07", "0", models.StatusPartiallySettled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(d(tt.principal), d(tt.settled))
			assert.True(t, got.Remaining.Equal(d(tt.wantRemaining)), "remaining = %s", got.Remaining)
			assert.True(t, got.Interest.Equal(d(tt.wantInterest)), "interest = %s", got.Interest)
			assert.True(t, got.Settled.Equal(d(tt.settled)))
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestSumActive_SkipsTombstones(t *testing.T) {
	deletedAt := int64(1)
	settlements := []*models.Settlement{
		{ID: "a", Amount: d("60")},
		{ID: "b", Amount: d("70")},
		{ID: "c", Amount: d("999"), DeletedAt: &deletedAt},
	}

	assert.True(t, SumActive(settlements).Equal(d("130")))
	assert.True(t, SumActive(nil).IsZero())
}

func TestRecompute_Overpayment(t *testing.T) {
	ob := &models.Obligation{PrincipalAmount: d("100")}
	Recompute(ob, []*models.Settlement{{Amount: d("60")}, {Amount: d("70")}})

	assert.True(t, ob.SettlementAmount.Equal(d("130")))
	assert.True(t, ob.RemainingAmount.IsZero())
	assert.True(t, ob.InterestAmount.Equal(d("30")))
	assert.Equal(t, models.StatusSettled, ob.Status)
}
