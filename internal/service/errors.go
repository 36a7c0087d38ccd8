package service

import (
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/mmynk/ledgersync/internal/ledger"
)

var errUnauthenticated = errors.New("authentication required")

// errSyncPending is what callers see when a sync could not complete. The
// ledger stays usable; the changes go out on a later cycle.
var errSyncPending = errors.New("sync pending")

// toConnectError maps engine errors onto Connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ledger.ErrObligationNotFound), errors.Is(err, ledger.ErrSettlementNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func syncPending(err error) error {
	return connect.NewError(connect.CodeUnavailable, fmt.Errorf("%w: %v", errSyncPending, err))
}
