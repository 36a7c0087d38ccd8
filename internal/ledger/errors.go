package ledger

import "errors"

var (
	// ErrValidation marks input that was rejected before any write.
	// Callers must fix the input rather than retry.
	ErrValidation = errors.New("invalid input")

	ErrObligationNotFound = errors.New("obligation not found")
	ErrSettlementNotFound = errors.New("settlement not found")
)
