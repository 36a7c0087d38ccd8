// Package service exposes the ledger to a UI process as a Connect service.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/ledgersync/internal/ledger"
	"github.com/mmynk/ledgersync/internal/middleware"
	"github.com/mmynk/ledgersync/internal/models"
	lsync "github.com/mmynk/ledgersync/internal/sync"
	"github.com/mmynk/ledgersync/internal/transport"
)

// LedgerServiceName is the fully-qualified name of the local API.
const LedgerServiceName = "ledgersync.v1.LedgerService"

// Procedures of the local API.
const (
	IncurProcedure            = "/" + LedgerServiceName + "/Incur"
	AddSettlementProcedure    = "/" + LedgerServiceName + "/AddSettlement"
	DeleteSettlementProcedure = "/" + LedgerServiceName + "/DeleteSettlement"
	AmendPrincipalProcedure   = "/" + LedgerServiceName + "/AmendPrincipal"
	DeleteObligationProcedure = "/" + LedgerServiceName + "/DeleteObligation"
	ListObligationsProcedure  = "/" + LedgerServiceName + "/ListObligations"
	GetSummaryProcedure       = "/" + LedgerServiceName + "/GetSummary"
	SyncNowProcedure          = "/" + LedgerServiceName + "/SyncNow"
)

// Syncer runs one sync cycle for a user.
type Syncer interface {
	Sync(ctx context.Context, userID string) (*lsync.Report, error)
}

// LedgerService implements the local API on top of the obligation engine.
type LedgerService struct {
	ledger *ledger.Service
	syncer Syncer
	logger *slog.Logger
}

// NewLedgerService creates the service. A nil syncer makes SyncNow report
// Unimplemented.
func NewLedgerService(l *ledger.Service, syncer Syncer, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{ledger: l, syncer: syncer, logger: logger}
}

func requireUser(ctx context.Context) (string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
	}
	return userID, nil
}

func parseDirection(s string) (models.Direction, error) {
	d, ok := models.ParseDirection(s)
	if !ok {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown direction %q", s))
	}
	return d, nil
}

// Incur records a new obligation for the caller.
func (s *LedgerService) Incur(ctx context.Context, req *connect.Request[IncurRequest]) (*connect.Response[IncurResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	direction, err := parseDirection(req.Msg.Direction)
	if err != nil {
		return nil, err
	}

	id, err := s.ledger.Incur(ctx, ledger.IncurInput{
		UserID:       userID,
		Direction:    direction,
		Counterparty: req.Msg.Counterparty,
		Date:         req.Msg.Date,
		Principal:    req.Msg.Principal,
		Currency:     req.Msg.Currency,
		Description:  req.Msg.Description,
		MobileNumber: req.Msg.MobileNumber,
	})
	if err != nil {
		s.logger.Error("Incur failed", "user_id", userID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&IncurResponse{ObligationID: id}), nil
}

// AddSettlement records a payment against one of the caller's obligations.
func (s *LedgerService) AddSettlement(ctx context.Context, req *connect.Request[AddSettlementRequest]) (*connect.Response[AddSettlementResponse], error) {
	if _, err := s.owned(ctx, req.Msg.ObligationID); err != nil {
		return nil, err
	}

	id, err := s.ledger.AddSettlement(ctx, ledger.AddSettlementInput{
		ObligationID: req.Msg.ObligationID,
		Amount:       req.Msg.Amount,
		Date:         req.Msg.Date,
		Description:  req.Msg.Description,
	})
	if err != nil {
		s.logger.Error("AddSettlement failed", "obligation_id", req.Msg.ObligationID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AddSettlementResponse{SettlementID: id, Recorded: id != ""}), nil
}

// DeleteSettlement tombstones a settlement of one of the caller's obligations.
func (s *LedgerService) DeleteSettlement(ctx context.Context, req *connect.Request[DeleteSettlementRequest]) (*connect.Response[Empty], error) {
	if _, err := s.ownedSettlement(ctx, req.Msg.SettlementID); err != nil {
		return nil, err
	}

	if err := s.ledger.DeleteSettlement(ctx, req.Msg.SettlementID); err != nil {
		s.logger.Error("DeleteSettlement failed", "settlement_id", req.Msg.SettlementID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// AmendPrincipal changes the principal and optional terms of an obligation.
func (s *LedgerService) AmendPrincipal(ctx context.Context, req *connect.Request[AmendPrincipalRequest]) (*connect.Response[Empty], error) {
	if _, err := s.owned(ctx, req.Msg.ObligationID); err != nil {
		return nil, err
	}

	err := s.ledger.AmendPrincipal(ctx, ledger.AmendInput{
		ObligationID: req.Msg.ObligationID,
		Principal:    req.Msg.Principal,
		Counterparty: req.Msg.Counterparty,
		Currency:     req.Msg.Currency,
		Description:  req.Msg.Description,
	})
	if err != nil {
		s.logger.Error("AmendPrincipal failed", "obligation_id", req.Msg.ObligationID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// DeleteObligation soft-deletes one of the caller's obligations.
func (s *LedgerService) DeleteObligation(ctx context.Context, req *connect.Request[DeleteObligationRequest]) (*connect.Response[Empty], error) {
	if _, err := s.owned(ctx, req.Msg.ObligationID); err != nil {
		return nil, err
	}

	if err := s.ledger.SoftDelete(ctx, req.Msg.ObligationID); err != nil {
		s.logger.Error("DeleteObligation failed", "obligation_id", req.Msg.ObligationID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ListObligations returns display views of the caller's active obligations.
func (s *LedgerService) ListObligations(ctx context.Context, req *connect.Request[ListObligationsRequest]) (*connect.Response[ListObligationsResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	direction, err := parseDirection(req.Msg.Direction)
	if err != nil {
		return nil, err
	}

	views, err := s.ledger.ListViews(ctx, userID, direction)
	if err != nil {
		s.logger.Error("ListObligations failed", "user_id", userID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListObligationsResponse{Obligations: views}), nil
}

// GetSummary totals the caller's outstanding amounts per direction.
func (s *LedgerService) GetSummary(ctx context.Context, _ *connect.Request[GetSummaryRequest]) (*connect.Response[GetSummaryResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	resp := &GetSummaryResponse{}
	for _, d := range []models.Direction{models.DirectionPay, models.DirectionCollect} {
		total, err := s.ledger.Outstanding(ctx, userID, d)
		if err != nil {
			return nil, toConnectError(err)
		}
		obligations, err := s.ledger.ListObligations(ctx, userID, d)
		if err != nil {
			return nil, toConnectError(err)
		}
		if d == models.DirectionPay {
			resp.Payable, resp.PayCount = total, len(obligations)
		} else {
			resp.Receivable, resp.CollectCount = total, len(obligations)
		}
	}
	return connect.NewResponse(resp), nil
}

// SyncNow runs a sync cycle for the caller. Failures surface as Unavailable
// with a "sync pending" message.
func (s *LedgerService) SyncNow(ctx context.Context, _ *connect.Request[SyncNowRequest]) (*connect.Response[SyncNowResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if s.syncer == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("no remote configured"))
	}

	report, err := s.syncer.Sync(ctx, userID)
	if err != nil {
		s.logger.Warn("SyncNow incomplete", "user_id", userID, "error", err)
		return nil, syncPending(err)
	}
	return connect.NewResponse(&SyncNowResponse{
		Pushed:    report.Push.Sent,
		Cleared:   report.Push.Cleared,
		Conflicts: report.Push.Conflicts,
		Pulled:    report.Pull.Applied,
	}), nil
}

// owned checks that the obligation exists and belongs to the caller.
func (s *LedgerService) owned(ctx context.Context, obligationID string) (*models.Obligation, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if obligationID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("obligation_id required"))
	}
	ob, err := s.ledger.Get(ctx, obligationID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if ob.UserID != userID {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ledger.ErrObligationNotFound, obligationID))
	}
	return ob, nil
}

// ownedSettlement checks that the settlement exists and that its obligation
// belongs to the caller. Settlements of other users, or whose obligation is
// not stored locally, are reported as not found.
func (s *LedgerService) ownedSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}
	if settlementID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("settlement_id required"))
	}
	st, err := s.ledger.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if _, err := s.owned(ctx, st.ObligationID); err != nil {
		if connect.CodeOf(err) == connect.CodeNotFound {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ledger.ErrSettlementNotFound, settlementID))
		}
		return nil, err
	}
	return st, nil
}

// NewLedgerServiceHandler builds an HTTP handler serving every procedure of
// the local API. It returns the path to mount it on.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(transport.JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(IncurProcedure, connect.NewUnaryHandler(IncurProcedure, svc.Incur, opts...))
	mux.Handle(AddSettlementProcedure, connect.NewUnaryHandler(AddSettlementProcedure, svc.AddSettlement, opts...))
	mux.Handle(DeleteSettlementProcedure, connect.NewUnaryHandler(DeleteSettlementProcedure, svc.DeleteSettlement, opts...))
	mux.Handle(AmendPrincipalProcedure, connect.NewUnaryHandler(AmendPrincipalProcedure, svc.AmendPrincipal, opts...))
	mux.Handle(DeleteObligationProcedure, connect.NewUnaryHandler(DeleteObligationProcedure, svc.DeleteObligation, opts...))
	mux.Handle(ListObligationsProcedure, connect.NewUnaryHandler(ListObligationsProcedure, svc.ListObligations, opts...))
	mux.Handle(GetSummaryProcedure, connect.NewUnaryHandler(GetSummaryProcedure, svc.GetSummary, opts...))
	mux.Handle(SyncNowProcedure, connect.NewUnaryHandler(SyncNowProcedure, svc.SyncNow, opts...))
	return "/" + LedgerServiceName + "/", mux
}
