package ledger

import (
	"context"

	"github.com/mmynk/ledgersync/internal/models"
)

// Notifier schedules and cancels reminders for outstanding obligations.
// The ledger stores the returned handle but never interprets it.
type Notifier interface {
	// Schedule requests a reminder. An empty handle means nothing was scheduled.
	Schedule(ctx context.Context, ob models.Obligation) (string, error)

	// Cancel drops a previously scheduled reminder.
	Cancel(ctx context.Context, handle string) error
}

type noopNotifier struct{}

func (noopNotifier) Schedule(context.Context, models.Obligation) (string, error) { return "", nil }
func (noopNotifier) Cancel(context.Context, string) error                        { return nil }

// notifyPlan is decided inside a transaction and carried out after commit.
type notifyPlan struct {
	cancel   string
	schedule bool
}

// afterCommit runs the reminder calls for a committed mutation. Failures are
// logged: the ledger commit already happened and must not be undone by an
// external subsystem.
func (s *Service) afterCommit(ctx context.Context, op, obligationID string, plan notifyPlan) {
	if plan.cancel != "" {
		if err := s.notifier.Cancel(ctx, plan.cancel); err != nil {
			s.logger.Warn("notification cancel failed",
				"operation", op,
				"obligation_id", obligationID,
				"handle", plan.cancel,
				"error", err,
			)
		}
	}
	if !plan.schedule {
		return
	}

	ob, err := s.store.GetObligation(ctx, obligationID)
	if err != nil {
		s.logger.Warn("notification schedule skipped", "operation", op, "obligation_id", obligationID, "error", err)
		return
	}
	handle, err := s.notifier.Schedule(ctx, *ob)
	if err != nil {
		s.logger.Warn("notification schedule failed", "operation", op, "obligation_id", obligationID, "error", err)
		return
	}
	if handle == "" {
		return
	}
	stored, err := s.store.SetNotificationID(ctx, obligationID, handle)
	if err != nil {
		s.logger.Warn("failed to store notification handle", "obligation_id", obligationID, "error", err)
	}
	if stored {
		return
	}
	// The obligation was settled or deleted after commit; nothing tracks this
	// handle any more.
	if err := s.notifier.Cancel(ctx, handle); err != nil {
		s.logger.Warn("notification cancel failed",
			"operation", op,
			"obligation_id", obligationID,
			"handle", handle,
			"error", err,
		)
	}
}
