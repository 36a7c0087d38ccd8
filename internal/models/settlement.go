package models

import "github.com/shopspring/decimal"

// Settlement is a payment recorded against exactly one Obligation.
type Settlement struct {
	// ID is the client-generated identifier (UUID format).
	ID string

	// ObligationID is the parent obligation.
	ObligationID string

	// Amount is the payment amount. Expected positive but not enforced.
	Amount decimal.Decimal

	// Date is when the payment happened (Unix milliseconds).
	Date int64

	// Description is an optional note for the payment.
	Description string

	RemoteID  string
	IsDirty   bool
	CreatedAt int64
	UpdatedAt int64
	DeletedAt *int64
}

// IsDeleted reports whether the settlement carries a tombstone.
func (s *Settlement) IsDeleted() bool {
	return s.DeletedAt != nil
}
