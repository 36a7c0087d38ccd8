package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Direction says which side of the debt the owner is on.
type Direction string

const (
	// DirectionPay is money the owner owes to the counterparty.
	DirectionPay Direction = "PAY"
	// DirectionCollect is money the counterparty owes to the owner.
	DirectionCollect Direction = "COLLECT"
)

// ParseDirection maps a loosely formatted string to a Direction.
// The boolean is false when the value is not recognized.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionPay:
		return DirectionPay, true
	case DirectionCollect:
		return DirectionCollect, true
	}
	return DirectionPay, false
}

// Status is derived from RemainingAmount against PrincipalAmount.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPartiallySettled Status = "PARTIALLY_SETTLED"
	StatusSettled          Status = "SETTLED"
)

// ParseStatus maps a loosely formatted string to a Status.
// Unknown values resolve to StatusPending with ok=false.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusPartiallySettled:
		return StatusPartiallySettled, true
	case StatusSettled:
		return StatusSettled, true
	}
	return StatusPending, false
}

// Obligation is one ledger entry: an amount owed in a single direction.
type Obligation struct {
	// ID is the client-generated identifier (UUID format).
	ID string

	// UserID is the owner of the ledger this entry belongs to.
	UserID string

	Direction Direction

	// Counterparty is the name of the other party.
	Counterparty string

	// Date is when the obligation was incurred (Unix milliseconds).
	Date int64

	Description string

	// Currency is a 3-letter code. Amounts are never converted.
	Currency string

	MobileNumber string

	// PrincipalAmount is the original amount.
	PrincipalAmount decimal.Decimal

	// RemainingAmount is what is still outstanding, clamped at zero.
	RemainingAmount decimal.Decimal

	// SettlementAmount is the sum of all active settlements.
	SettlementAmount decimal.Decimal

	// InterestAmount is the overpayment beyond the principal.
	InterestAmount decimal.Decimal

	Status Status

	// RemoteID is the server-side identifier, empty until the server assigns one.
	RemoteID string

	IsDirty   bool
	CreatedAt int64
	UpdatedAt int64

	// DeletedAt is the tombstone. Nil means the row is active.
	DeletedAt *int64

	// NotificationID is the opaque reminder handle. It is local-only and only
	// present while the obligation is outstanding.
	NotificationID string
}

// IsDeleted reports whether the obligation carries a tombstone.
func (o *Obligation) IsDeleted() bool {
	return o.DeletedAt != nil
}

// IsSettled reports whether nothing remains outstanding.
func (o *Obligation) IsSettled() bool {
	return o.Status == StatusSettled
}
