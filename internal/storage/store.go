// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ledgersync/internal/models"
)

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = errors.New("not found")

// Store defines the ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the engine or sync layers.
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. No other caller observes the
	// intermediate state.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetObligation retrieves an obligation by ID, tombstoned or not.
	GetObligation(ctx context.Context, id string) (*models.Obligation, error)

	// GetSettlement retrieves a settlement by ID, tombstoned or not.
	GetSettlement(ctx context.Context, id string) (*models.Settlement, error)

	// ListObligations returns the user's active obligations in one direction,
	// newest first.
	ListObligations(ctx context.Context, userID string, direction models.Direction) ([]*models.Obligation, error)

	// ListSettlements returns the active settlements of one obligation.
	ListSettlements(ctx context.Context, obligationID string) ([]*models.Settlement, error)

	// SumRemaining totals RemainingAmount over the user's active obligations
	// in one direction.
	SumRemaining(ctx context.Context, userID string, direction models.Direction) (decimal.Decimal, error)

	// SetNotificationID stores the reminder handle without marking the row
	// dirty. Settled or tombstoned rows are left alone and false is returned.
	SetNotificationID(ctx context.Context, obligationID, handle string) (bool, error)

	// DirtyObligations returns the user's obligations that carry unpushed changes,
	// tombstones included.
	DirtyObligations(ctx context.Context, userID string) ([]*models.Obligation, error)

	// DirtySettlements returns settlements with unpushed changes whose parent
	// obligation belongs to the user or is not stored locally.
	DirtySettlements(ctx context.Context, userID string) ([]*models.Settlement, error)

	// ClearObligationDirty clears the dirty flag only if the row was not
	// modified after updatedAt. Reports whether the flag was cleared.
	ClearObligationDirty(ctx context.Context, id string, updatedAt int64) (bool, error)

	// ClearSettlementDirty is ClearObligationDirty for settlements.
	ClearSettlementDirty(ctx context.Context, id string, updatedAt int64) (bool, error)

	// GetSyncState returns a sync bookkeeping value, empty if unset.
	GetSyncState(ctx context.Context, key string) (string, error)

	// SetSyncState stores a sync bookkeeping value.
	SetSyncState(ctx context.Context, key, value string) error

	// Close releases any resources held by the store.
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	GetObligation(ctx context.Context, id string) (*models.Obligation, error)
	InsertObligation(ctx context.Context, ob *models.Obligation) error
	// UpdateObligation overwrites every column of the row with the same ID.
	UpdateObligation(ctx context.Context, ob *models.Obligation) error

	GetSettlement(ctx context.Context, id string) (*models.Settlement, error)
	InsertSettlement(ctx context.Context, s *models.Settlement) error
	UpdateSettlement(ctx context.Context, s *models.Settlement) error

	// ListSettlements returns the active settlements of one obligation.
	ListSettlements(ctx context.Context, obligationID string) ([]*models.Settlement, error)
}
