// Package ledger implements the obligation engine: every mutation of an
// obligation or its settlements runs in one store transaction, keeps the
// aggregate columns consistent with the active settlement set and marks the
// touched rows dirty for the next push.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/ledgersync/internal/calculator"
	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/readmodel"
	"github.com/mmynk/ledgersync/internal/storage"
)

// validate checks input structs. Dates are bounded by
// 9999-12-31T23:59:59.999Z (253402300799999 ms).
var validate = validator.New()

// Service is the obligation engine.
type Service struct {
	store        storage.Store
	notifier     Notifier
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	overdueAfter time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how row IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithOverdueAfter sets how long an outstanding obligation may age before the
// read model labels it overdue.
func WithOverdueAfter(d time.Duration) Option {
	return func(s *Service) { s.overdueAfter = d }
}

// NewService creates the engine on top of a store. A nil notifier disables reminders.
func NewService(store storage.Store, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	s := &Service{
		store:        store,
		notifier:     notifier,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default(),
		overdueAfter: readmodel.DefaultOverdueAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncurInput describes a new obligation.
type IncurInput struct {
	UserID       string           `validate:"required"`
	Direction    models.Direction `validate:"required,oneof=PAY COLLECT"`
	Counterparty string           `validate:"required,max=200"`
	Date         int64            `validate:"gt=0,lte=253402300799999"`
	Principal    decimal.Decimal  `validate:"-"`
	Currency     string           `validate:"required,len=3,alpha"`
	Description  string           `validate:"max=1000"`
	MobileNumber string           `validate:"max=32"`
}

// AddSettlementInput describes a payment against an obligation.
type AddSettlementInput struct {
	ObligationID string          `validate:"required"`
	Amount       decimal.Decimal `validate:"-"`
	Date         int64           `validate:"gt=0,lte=253402300799999"`
	Description  string          `validate:"max=1000"`
}

// AmendInput changes the principal and optionally some terms of an obligation.
// Nil fields are left unchanged.
type AmendInput struct {
	ObligationID string          `validate:"required"`
	Principal    decimal.Decimal `validate:"-"`
	Counterparty *string         `validate:"-"`
	Currency     *string         `validate:"-"`
	Description  *string         `validate:"-"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func validateStruct(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// touch returns a timestamp strictly after prev, so a row's updated_at moves
// on every mutation even within one millisecond.
func (s *Service) touch(prev int64) int64 {
	now := s.now().UnixMilli()
	if now <= prev {
		return prev + 1
	}
	return now
}

// Incur records a new obligation and returns its ID.
// A zero principal is allowed and starts out SETTLED.
func (s *Service) Incur(ctx context.Context, in IncurInput) (id string, err error) {
	defer func() { observe("incur", err) }()

	in.Counterparty = strings.TrimSpace(in.Counterparty)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validateStruct(in); err != nil {
		return "", err
	}
	if in.Principal.IsNegative() {
		return "", invalid("principal must not be negative, got %s", in.Principal)
	}

	now := s.now().UnixMilli()
	ob := &models.Obligation{
		ID:           s.newID(),
		UserID:       in.UserID,
		Direction:    in.Direction,
		Counterparty: in.Counterparty,
		Date:         in.Date,
		Description:  in.Description,
		Currency:     in.Currency,
		MobileNumber: in.MobileNumber,
		IsDirty:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	calculator.Compute(in.Principal, decimal.Zero).Apply(ob)

	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertObligation(ctx, ob)
	})
	if err != nil {
		return "", fmt.Errorf("failed to incur obligation: %w", err)
	}

	s.logger.Info("Obligation incurred",
		"obligation_id", ob.ID,
		"direction", ob.Direction,
		"principal", ob.PrincipalAmount.String(),
		"status", ob.Status,
	)
	s.afterCommit(ctx, "incur", ob.ID, notifyPlan{schedule: !ob.IsSettled()})
	return ob.ID, nil
}

// AddSettlement records a payment and recomputes the parent's aggregates in
// the same transaction. A zero Date means now. It returns the new settlement
// ID, or "" when the obligation does not exist (or is deleted), which is
// logged and not an error.
func (s *Service) AddSettlement(ctx context.Context, in AddSettlementInput) (id string, err error) {
	defer func() { observe("add_settlement", err) }()

	if in.Date == 0 {
		in.Date = s.now().UnixMilli()
	}
	if err := validateStruct(in); err != nil {
		return "", err
	}

	var plan notifyPlan
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		ob, err := tx.GetObligation(ctx, in.ObligationID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && ob.IsDeleted()) {
			s.logger.Warn("AddSettlement: obligation missing, nothing recorded", "obligation_id", in.ObligationID)
			return nil
		}
		if err != nil {
			return err
		}

		now := s.touch(ob.UpdatedAt)
		st := &models.Settlement{
			ID:           s.newID(),
			ObligationID: ob.ID,
			Amount:       in.Amount,
			Date:         in.Date,
			Description:  in.Description,
			IsDirty:      true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertSettlement(ctx, st); err != nil {
			return err
		}

		active, err := tx.ListSettlements(ctx, ob.ID)
		if err != nil {
			return err
		}
		calculator.Recompute(ob, active)
		ob.IsDirty = true
		ob.UpdatedAt = now
		if ob.IsSettled() && ob.NotificationID != "" {
			plan.cancel = ob.NotificationID
			ob.NotificationID = ""
		}
		if err := tx.UpdateObligation(ctx, ob); err != nil {
			return err
		}

		id = st.ID
		s.logger.Info("Settlement added",
			"obligation_id", ob.ID,
			"settlement_id", st.ID,
			"amount", st.Amount.String(),
			"remaining", ob.RemainingAmount.String(),
			"status", ob.Status,
		)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to add settlement: %w", err)
	}

	s.afterCommit(ctx, "add_settlement", in.ObligationID, plan)
	return id, nil
}

// DeleteSettlement tombstones a settlement and re-derives the parent's
// aggregates from the settlements that remain active. Deleting an already
// deleted settlement is a no-op.
func (s *Service) DeleteSettlement(ctx context.Context, settlementID string) (err error) {
	defer func() { observe("delete_settlement", err) }()

	if settlementID == "" {
		return invalid("settlement id required")
	}

	var (
		plan         notifyPlan
		obligationID string
	)
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		st, err := tx.GetSettlement(ctx, settlementID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSettlementNotFound, settlementID)
		}
		if err != nil {
			return err
		}
		if st.IsDeleted() {
			return nil
		}

		now := s.touch(st.UpdatedAt)
		st.DeletedAt = &now
		st.UpdatedAt = now
		st.IsDirty = true
		if err := tx.UpdateSettlement(ctx, st); err != nil {
			return err
		}

		ob, err := tx.GetObligation(ctx, st.ObligationID)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("DeleteSettlement: parent obligation missing, aggregates not recomputed",
				"settlement_id", st.ID,
				"obligation_id", st.ObligationID,
			)
			return nil
		}
		if err != nil {
			return err
		}

		wasSettled := ob.IsSettled()
		active, err := tx.ListSettlements(ctx, ob.ID)
		if err != nil {
			return err
		}
		calculator.Recompute(ob, active)
		ob.IsDirty = true
		ob.UpdatedAt = s.touch(ob.UpdatedAt)
		if err := tx.UpdateObligation(ctx, ob); err != nil {
			return err
		}

		obligationID = ob.ID
		plan.schedule = wasSettled && !ob.IsSettled() && ob.NotificationID == "" && !ob.IsDeleted()
		s.logger.Info("Settlement deleted",
			"obligation_id", ob.ID,
			"settlement_id", st.ID,
			"remaining", ob.RemainingAmount.String(),
			"status", ob.Status,
		)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSettlementNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete settlement: %w", err)
	}

	if obligationID != "" {
		s.afterCommit(ctx, "delete_settlement", obligationID, plan)
	}
	return nil
}

// AmendPrincipal changes the principal (and optional terms) of an obligation,
// leaving its settlement history untouched. Any reminder is replaced because
// the terms it was scheduled for changed.
func (s *Service) AmendPrincipal(ctx context.Context, in AmendInput) (err error) {
	defer func() { observe("amend_principal", err) }()

	if err := validateStruct(in); err != nil {
		return err
	}
	if in.Principal.IsNegative() {
		return invalid("principal must not be negative, got %s", in.Principal)
	}
	if in.Counterparty != nil && strings.TrimSpace(*in.Counterparty) == "" {
		return invalid("counterparty must not be empty")
	}
	if in.Currency != nil && len(strings.TrimSpace(*in.Currency)) != 3 {
		return invalid("currency must be a 3-letter code, got %q", *in.Currency)
	}

	var plan notifyPlan
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		ob, err := tx.GetObligation(ctx, in.ObligationID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && ob.IsDeleted()) {
			return fmt.Errorf("%w: %s", ErrObligationNotFound, in.ObligationID)
		}
		if err != nil {
			return err
		}

		if in.Counterparty != nil {
			ob.Counterparty = strings.TrimSpace(*in.Counterparty)
		}
		if in.Currency != nil {
			ob.Currency = strings.ToUpper(strings.TrimSpace(*in.Currency))
		}
		if in.Description != nil {
			ob.Description = *in.Description
		}

		active, err := tx.ListSettlements(ctx, ob.ID)
		if err != nil {
			return err
		}
		ob.PrincipalAmount = in.Principal
		calculator.Recompute(ob, active)
		ob.IsDirty = true
		ob.UpdatedAt = s.touch(ob.UpdatedAt)

		plan.cancel = ob.NotificationID
		plan.schedule = !ob.IsSettled()
		ob.NotificationID = ""
		return tx.UpdateObligation(ctx, ob)
	})
	if err != nil {
		if errors.Is(err, ErrObligationNotFound) {
			return err
		}
		return fmt.Errorf("failed to amend obligation: %w", err)
	}

	s.logger.Info("Obligation amended", "obligation_id", in.ObligationID, "principal", in.Principal.String())
	s.afterCommit(ctx, "amend_principal", in.ObligationID, plan)
	return nil
}

// SoftDelete tombstones an obligation. Its settlements are left as they are;
// they stop showing up through the obligation but still take part in sync.
func (s *Service) SoftDelete(ctx context.Context, obligationID string) (err error) {
	defer func() { observe("soft_delete", err) }()

	if obligationID == "" {
		return invalid("obligation id required")
	}

	var plan notifyPlan
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		ob, err := tx.GetObligation(ctx, obligationID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrObligationNotFound, obligationID)
		}
		if err != nil {
			return err
		}
		if ob.IsDeleted() {
			return nil
		}

		now := s.touch(ob.UpdatedAt)
		plan.cancel = ob.NotificationID
		ob.NotificationID = ""
		ob.DeletedAt = &now
		ob.UpdatedAt = now
		ob.IsDirty = true
		return tx.UpdateObligation(ctx, ob)
	})
	if err != nil {
		if errors.Is(err, ErrObligationNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete obligation: %w", err)
	}

	s.logger.Info("Obligation deleted", "obligation_id", obligationID)
	s.afterCommit(ctx, "soft_delete", obligationID, plan)
	return nil
}
