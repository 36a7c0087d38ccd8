// Package notify provides a reminder scheduler that keeps reminders in
// memory and reports them through the logger. Delivering OS-level
// notifications is left to the embedding application.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/ledgersync/internal/models"
)

// Reminder is what a handle stands for.
type Reminder struct {
	Handle       string
	ObligationID string
	Direction    models.Direction
	Counterparty string
	Remaining    string
	Currency     string
}

// LogNotifier implements ledger.Notifier.
type LogNotifier struct {
	mu      sync.Mutex
	pending map[string]Reminder
	logger  *slog.Logger
	newID   func() string
}

// NewLogNotifier creates a notifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{
		pending: make(map[string]Reminder),
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Schedule registers a reminder for ob and returns its handle.
func (n *LogNotifier) Schedule(ctx context.Context, ob models.Obligation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r := Reminder{
		Handle:       n.newID(),
		ObligationID: ob.ID,
		Direction:    ob.Direction,
		Counterparty: ob.Counterparty,
		Remaining:    ob.RemainingAmount.String(),
		Currency:     ob.Currency,
	}

	n.mu.Lock()
	n.pending[r.Handle] = r
	n.mu.Unlock()

	n.logger.Info("Reminder scheduled",
		"handle", r.Handle,
		"obligation_id", r.ObligationID,
		"counterparty", r.Counterparty,
		"remaining", r.Remaining,
		"currency", r.Currency,
	)
	return r.Handle, nil
}

// Cancel drops a reminder. Unknown handles are ignored.
func (n *LogNotifier) Cancel(_ context.Context, handle string) error {
	n.mu.Lock()
	r, ok := n.pending[handle]
	delete(n.pending, handle)
	n.mu.Unlock()

	if ok {
		n.logger.Info("Reminder cancelled", "handle", handle, "obligation_id", r.ObligationID)
	}
	return nil
}

// Pending returns the scheduled reminders ordered by counterparty.
func (n *LogNotifier) Pending() []Reminder {
	n.mu.Lock()
	out := make([]Reminder, 0, len(n.pending))
	for _, r := range n.pending {
		out = append(out, r)
	}
	n.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Counterparty != out[j].Counterparty {
			return out[i].Counterparty < out[j].Counterparty
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}
