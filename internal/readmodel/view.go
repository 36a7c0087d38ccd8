// Package readmodel projects ledger rows into the shape a UI displays.
package readmodel

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ledgersync/internal/models"
)

// DefaultOverdueAfter is how long an obligation may stay outstanding before
// it is shown as overdue.
const DefaultOverdueAfter = 30 * 24 * time.Hour

// Label is the human status shown next to an obligation.
type Label string

const (
	LabelUnpaid    Label = "unpaid"
	LabelPartial   Label = "partial"
	LabelPaid      Label = "paid"
	LabelCollected Label = "collected"
	LabelOverdue   Label = "overdue"
)

// Transaction is one settlement in an obligation's history.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        int64           `json:"date"`
	Description string          `json:"description,omitempty"`
}

// ObligationView is the display shape of an obligation.
type ObligationView struct {
	ID           string           `json:"id"`
	Direction    models.Direction `json:"direction"`
	Counterparty string           `json:"counterparty"`
	Date         int64            `json:"date"`
	Description  string           `json:"description,omitempty"`
	Currency     string           `json:"currency"`
	MobileNumber string           `json:"mobile_number,omitempty"`
	Principal    decimal.Decimal  `json:"principal"`
	Remaining    decimal.Decimal  `json:"remaining"`
	Settled      decimal.Decimal  `json:"settled"`
	Interest     decimal.Decimal  `json:"interest"`
	Status       models.Status    `json:"status"`
	Label        Label            `json:"label"`
	Transactions []Transaction    `json:"transactions"`
}

// LabelFor maps the status state machine to a display label. Settled
// obligations read "paid" or "collected" by direction; outstanding ones turn
// "overdue" once Date is older than overdueAfter (zero disables overdue).
func LabelFor(ob *models.Obligation, now time.Time, overdueAfter time.Duration) Label {
	if ob.Status == models.StatusSettled {
		if ob.Direction == models.DirectionCollect {
			return LabelCollected
		}
		return LabelPaid
	}
	if overdueAfter > 0 && now.Sub(time.UnixMilli(ob.Date)) > overdueAfter {
		return LabelOverdue
	}
	if ob.Status == models.StatusPartiallySettled {
		return LabelPartial
	}
	return LabelUnpaid
}

// Project builds the view of one obligation from its active settlements,
// newest transaction first. Tombstoned settlements are skipped.
func Project(ob *models.Obligation, settlements []*models.Settlement, now time.Time, overdueAfter time.Duration) ObligationView {
	txs := make([]Transaction, 0, len(settlements))
	for _, s := range settlements {
		if s.IsDeleted() {
			continue
		}
		txs = append(txs, Transaction{
			ID:          s.ID,
			Amount:      s.Amount,
			Date:        s.Date,
			Description: s.Description,
		})
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date > txs[j].Date })

	return ObligationView{
		ID:           ob.ID,
		Direction:    ob.Direction,
		Counterparty: ob.Counterparty,
		Date:         ob.Date,
		Description:  ob.Description,
		Currency:     ob.Currency,
		MobileNumber: ob.MobileNumber,
		Principal:    ob.PrincipalAmount,
		Remaining:    ob.RemainingAmount,
		Settled:      ob.SettlementAmount,
		Interest:     ob.InterestAmount,
		Status:       ob.Status,
		Label:        LabelFor(ob, now, overdueAfter),
		Transactions: txs,
	}
}
