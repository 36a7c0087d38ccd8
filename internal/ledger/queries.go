package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/readmodel"
	"github.com/mmynk/ledgersync/internal/storage"
)

// Get returns an obligation by ID, including tombstoned ones.
func (s *Service) Get(ctx context.Context, obligationID string) (*models.Obligation, error) {
	ob, err := s.store.GetObligation(ctx, obligationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrObligationNotFound, obligationID)
	}
	return ob, err
}

// GetSettlement returns a settlement by ID, including tombstoned ones.
func (s *Service) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	st, err := s.store.GetSettlement(ctx, settlementID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, settlementID)
	}
	return st, err
}

// ListObligations returns the user's active obligations in one direction.
func (s *Service) ListObligations(ctx context.Context, userID string, direction models.Direction) ([]*models.Obligation, error) {
	return s.store.ListObligations(ctx, userID, direction)
}

// Settlements returns the active settlements of an obligation.
func (s *Service) Settlements(ctx context.Context, obligationID string) ([]*models.Settlement, error) {
	return s.store.ListSettlements(ctx, obligationID)
}

// Outstanding totals what is still owed in one direction.
func (s *Service) Outstanding(ctx context.Context, userID string, direction models.Direction) (decimal.Decimal, error) {
	return s.store.SumRemaining(ctx, userID, direction)
}

// ListViews projects the user's active obligations for display.
func (s *Service) ListViews(ctx context.Context, userID string, direction models.Direction) ([]readmodel.ObligationView, error) {
	obligations, err := s.store.ListObligations(ctx, userID, direction)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]readmodel.ObligationView, 0, len(obligations))
	for _, ob := range obligations {
		settlements, err := s.store.ListSettlements(ctx, ob.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, readmodel.Project(ob, settlements, now, s.overdueAfter))
	}
	return views, nil
}
