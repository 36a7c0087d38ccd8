package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/ledgersync/internal/models"
)

// Aggregates holds the derived money state of one obligation.
type Aggregates struct {
	Principal decimal.Decimal
	Settled   decimal.Decimal
	Remaining decimal.Decimal
	Interest  decimal.Decimal
	Status    models.Status
}

// Compute derives remaining, interest and status from a principal and the
// total of its active settlements.
//
// Rules:
// - remaining = max(0, principal - settled)
// - interest  = max(0, settled - principal)
// - status    = SETTLED when nothing remains, PARTIALLY_SETTLED when something
//   was paid off, PENDING otherwise
func Compute(principal, settled decimal.Decimal) Aggregates {
	remaining := principal.Sub(settled)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	interest := settled.Sub(principal)
	if interest.IsNegative() {
		interest = decimal.Zero
	}
	return Aggregates{
		Principal: principal,
		Settled:   settled,
		Remaining: remaining,
		Interest:  interest,
		Status:    DeriveStatus(remaining, principal),
	}
}

// DeriveStatus is the obligation state machine as a pure function.
func DeriveStatus(remaining, principal decimal.Decimal) models.Status {
	switch {
	case remaining.Sign() <= 0:
		return models.StatusSettled
	case remaining.LessThan(principal):
		return models.StatusPartiallySettled
	default:
		return models.StatusPending
	}
}

// SumActive adds up the amounts of settlements that carry no tombstone.
func SumActive(settlements []*models.Settlement) decimal.Decimal {
	total := decimal.Zero
	for _, s := range settlements {
		if s.IsDeleted() {
			continue
		}
		total = total.Add(s.Amount)
	}
	return total
}

// Apply writes the aggregates onto an obligation.
func (a Aggregates) Apply(ob *models.Obligation) {
	ob.PrincipalAmount = a.Principal
	ob.SettlementAmount = a.Settled
	ob.RemainingAmount = a.Remaining
	ob.InterestAmount = a.Interest
	ob.Status = a.Status
}

// Recompute re-derives an obligation's aggregates from its settlement history.
func Recompute(ob *models.Obligation, settlements []*models.Settlement) {
	Compute(ob.PrincipalAmount, SumActive(settlements)).Apply(ob)
}
