// Package sync reconciles the local ledger with a remote authority.
//
// Push sends every dirty row (tombstones as delete records) and clears the
// dirty flag of rows the server processed without conflict. Pull applies the
// server's changes in one transaction with a server-wins policy and advances
// the stored cursor only after that transaction commits. A failed transport
// call never mutates local state, so every step is safe to retry.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/storage"
)

// ErrRejected marks a transport error the server answered definitively.
// Retrying the same request will not help.
var ErrRejected = errors.New("rejected by server")

// Sync state keys.
const (
	StateCursor     = "pull_cursor"
	StateServerTime = "last_server_time"
)

const (
	defaultPullLimit    = 500
	defaultMaxPages     = 20
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// Transport moves sync payloads to and from the remote.
type Transport interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, req *PullRequest) (*PullResponse, error)
}

// Reminders cancels reminder handles. Pulled rows that arrive settled or
// deleted lose their local handle, and the engine cancels it after commit.
type Reminders interface {
	Cancel(ctx context.Context, handle string) error
}

// Config holds the collaborators and tuning of an Engine.
type Config struct {
	Store     storage.Store
	Transport Transport

	// Reminders is optional. When nil, dropped handles are only logged.
	Reminders Reminders

	// DeviceID is sent with every push.
	DeviceID string

	// PullLimit caps rows per pull page. MaxPages caps pages per Pull call.
	PullLimit int
	MaxPages  int

	// MaxAttempts per transport call; RetryBackoff doubles after each failure.
	MaxAttempts  int
	RetryBackoff time.Duration

	Logger *slog.Logger
	NewID  func() string
}

// Engine runs push and pull cycles for one local store.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// PushResult summarizes one push.
type PushResult struct {
	Sent      int
	Cleared   int
	Conflicts int
}

// PullResult summarizes one pull.
type PullResult struct {
	Pages   int
	Applied int
}

// Report summarizes a full sync cycle.
type Report struct {
	Push PushResult
	Pull PullResult
}

// NewEngine creates a sync engine, filling in defaults for zero values.
func NewEngine(cfg Config) *Engine {
	if cfg.PullLimit <= 0 {
		cfg.PullLimit = defaultPullLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger.With("component", "sync")}
}

// BuildPushPayload collects the user's dirty rows. Tombstoned rows become
// delete records; live rows become full upserts.
func (e *Engine) BuildPushPayload(ctx context.Context, userID string) (*PushRequest, error) {
	obligations, err := e.cfg.Store.DirtyObligations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dirty obligations: %w", err)
	}
	settlements, err := e.cfg.Store.DirtySettlements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dirty settlements: %w", err)
	}

	tables := NewTables()
	for _, ob := range obligations {
		book := &tables.PayBook
		if ob.Direction == models.DirectionCollect {
			book = &tables.CollectBook
		}
		if ob.IsDeleted() {
			book.Deletes = append(book.Deletes, deleteRecord(ob.ID, ob.UpdatedAt))
			continue
		}
		book.Upserts = append(book.Upserts, obligationRecord(ob))
	}
	for _, st := range settlements {
		if st.IsDeleted() {
			tables.Settlements.Deletes = append(tables.Settlements.Deletes, deleteRecord(st.ID, st.UpdatedAt))
			continue
		}
		tables.Settlements.Upserts = append(tables.Settlements.Upserts, settlementRecord(st))
	}

	return &PushRequest{
		DeviceID:  e.cfg.DeviceID,
		RequestID: e.cfg.NewID(),
		Tables:    tables,
	}, nil
}

// AcknowledgePush clears the dirty flag of rows the server processed and did
// not report as conflicts. A row only clears if it still carries the
// timestamp that was pushed; rows changed since the scan stay dirty for the
// next cycle. It returns the number of rows cleared.
func (e *Engine) AcknowledgePush(ctx context.Context, req *PushRequest, resp *PushResponse) (int, error) {
	if req == nil || resp == nil {
		return 0, nil
	}

	processed := make(map[string]struct{}, len(resp.ProcessedIDs))
	for _, id := range resp.ProcessedIDs {
		processed[id] = struct{}{}
	}
	for _, c := range resp.Conflicts {
		delete(processed, c.ClientID)
		e.logger.Info("push conflict", "client_id", c.ClientID, "table", c.Table, "reason", c.Reason)
	}

	cleared := 0
	ack := func(fn func(context.Context, string, int64) (bool, error), id string, at Time) error {
		if _, ok := processed[id]; !ok {
			return nil
		}
		ok, err := fn(ctx, id, int64(at))
		if err != nil {
			return err
		}
		if ok {
			cleared++
		} else {
			e.logger.Debug("row changed after push, kept dirty", "client_id", id)
		}
		return nil
	}

	t := req.Tables
	for _, book := range []ObligationChanges{t.PayBook, t.CollectBook} {
		for _, rec := range book.Upserts {
			if err := ack(e.cfg.Store.ClearObligationDirty, rec.ClientID, rec.ClientUpdatedAt); err != nil {
				return cleared, fmt.Errorf("failed to acknowledge obligation %s: %w", rec.ClientID, err)
			}
		}
		for _, del := range book.Deletes {
			if err := ack(e.cfg.Store.ClearObligationDirty, del.ClientID, del.ClientUpdatedAt); err != nil {
				return cleared, fmt.Errorf("failed to acknowledge obligation %s: %w", del.ClientID, err)
			}
		}
	}
	for _, rec := range t.Settlements.Upserts {
		if err := ack(e.cfg.Store.ClearSettlementDirty, rec.ClientID, rec.ClientUpdatedAt); err != nil {
			return cleared, fmt.Errorf("failed to acknowledge settlement %s: %w", rec.ClientID, err)
		}
	}
	for _, del := range t.Settlements.Deletes {
		if err := ack(e.cfg.Store.ClearSettlementDirty, del.ClientID, del.ClientUpdatedAt); err != nil {
			return cleared, fmt.Errorf("failed to acknowledge settlement %s: %w", del.ClientID, err)
		}
	}
	return cleared, nil
}

// Push sends the user's dirty rows and acknowledges the response. Nothing is
// sent when there are no dirty rows. On transport failure no local state
// changes.
func (e *Engine) Push(ctx context.Context, userID string) (result PushResult, err error) {
	start := time.Now()
	defer func() { recordRun("push", time.Since(start).Seconds(), err) }()

	req, err := e.BuildPushPayload(ctx, userID)
	if err != nil {
		return result, err
	}
	result.Sent = req.Tables.Len()
	if result.Sent == 0 {
		return result, nil
	}

	var resp *PushResponse
	err = e.retry(ctx, "push", func(ctx context.Context) error {
		var err error
		resp, err = e.cfg.Transport.Push(ctx, req)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("push failed: %w", err)
	}
	if resp == nil {
		return result, errors.New("push failed: empty response")
	}
	recordRows("push", req.Tables)

	result.Conflicts = len(resp.Conflicts)
	result.Cleared, err = e.AcknowledgePush(ctx, req, resp)
	if err != nil {
		return result, err
	}

	e.logger.Info("push complete",
		"request_id", req.RequestID,
		"sent", result.Sent,
		"cleared", result.Cleared,
		"conflicts", result.Conflicts,
	)
	return result, nil
}

// ApplyPull applies one pull response in a single transaction. Applying the
// same response again leaves the store unchanged.
func (e *Engine) ApplyPull(ctx context.Context, resp *PullResponse, userID string) error {
	_, err := e.applyPull(ctx, resp, userID)
	return err
}

func (e *Engine) applyPull(ctx context.Context, resp *PullResponse, userID string) (int, error) {
	if resp == nil {
		return 0, nil
	}
	serverTime := int64(resp.ServerTime)
	applied := 0
	var dropped []string

	err := e.cfg.Store.WithTx(ctx, func(tx storage.Tx) error {
		applied = 0
		dropped = dropped[:0]
		drop := func(handle string) {
			if handle != "" {
				dropped = append(dropped, handle)
			}
		}
		books := []struct {
			direction models.Direction
			changes   ObligationChanges
		}{
			{models.DirectionPay, resp.Tables.PayBook},
			{models.DirectionCollect, resp.Tables.CollectBook},
		}
		for _, book := range books {
			for _, rec := range book.changes.Upserts {
				ok, err := e.upsertObligation(ctx, tx, rec, book.direction, userID, serverTime, drop)
				if err != nil {
					return err
				}
				if ok {
					applied++
				}
			}
			for _, del := range book.changes.Deletes {
				ok, err := e.deleteObligation(ctx, tx, del, serverTime, drop)
				if err != nil {
					return err
				}
				if ok {
					applied++
				}
			}
		}

		for _, rec := range resp.Tables.Settlements.Upserts {
			ok, err := e.upsertSettlement(ctx, tx, rec, serverTime)
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
		}
		for _, del := range resp.Tables.Settlements.Deletes {
			ok, err := e.deleteSettlement(ctx, tx, del, serverTime)
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to apply pull: %w", err)
	}

	e.cancelReminders(ctx, dropped)
	return applied, nil
}

// cancelReminders runs after the pull commits. Failures are logged only.
func (e *Engine) cancelReminders(ctx context.Context, handles []string) {
	for _, handle := range handles {
		if e.cfg.Reminders == nil {
			e.logger.Debug("reminder handle dropped by pull", "handle", handle)
			continue
		}
		if err := e.cfg.Reminders.Cancel(ctx, handle); err != nil {
			e.logger.Warn("reminder cancel failed", "handle", handle, "error", err)
		}
	}
}

func (e *Engine) upsertObligation(ctx context.Context, tx storage.Tx, rec ObligationRecord, table models.Direction, userID string, serverTime int64, drop func(string)) (bool, error) {
	if rec.ClientID == "" {
		e.logger.Warn("pulled obligation without client_id, skipped", "remote_id", rec.ID)
		return false, nil
	}

	existing, err := tx.GetObligation(ctx, rec.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, tx.InsertObligation(ctx, pulledObligation(rec, table, userID, serverTime, nil))
	}
	if err != nil {
		return false, err
	}
	ob := pulledObligation(rec, table, userID, serverTime, existing)
	if ob.NotificationID != existing.NotificationID {
		drop(existing.NotificationID)
	}
	return true, tx.UpdateObligation(ctx, ob)
}

// deleteObligation tombstones a row the server deleted. A row that is
// already tombstoned keeps its tombstone; the server knowing about the delete
// is enough to consider it pushed.
func (e *Engine) deleteObligation(ctx context.Context, tx storage.Tx, del DeleteRecord, serverTime int64, drop func(string)) (bool, error) {
	ob, err := tx.GetObligation(ctx, del.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if ob.IsDeleted() {
		if !ob.IsDirty {
			return false, nil
		}
		ob.IsDirty = false
		return true, tx.UpdateObligation(ctx, ob)
	}

	at := firstSet(del.ClientUpdatedAt, Time(serverTime))
	if at == 0 {
		at = ob.UpdatedAt
	}
	drop(ob.NotificationID)
	ob.NotificationID = ""
	ob.DeletedAt = &at
	ob.UpdatedAt = at
	ob.IsDirty = false
	return true, tx.UpdateObligation(ctx, ob)
}

func (e *Engine) upsertSettlement(ctx context.Context, tx storage.Tx, rec SettlementRecord, serverTime int64) (bool, error) {
	if rec.ClientID == "" {
		e.logger.Warn("pulled settlement without client_id, skipped", "remote_id", rec.ID)
		return false, nil
	}

	existing, err := tx.GetSettlement(ctx, rec.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		if rec.BookEntryID == "" {
			e.logger.Warn("pulled settlement without book_entry_id, skipped", "client_id", rec.ClientID)
			return false, nil
		}
		return true, tx.InsertSettlement(ctx, pulledSettlement(rec, serverTime, nil))
	}
	if err != nil {
		return false, err
	}
	return true, tx.UpdateSettlement(ctx, pulledSettlement(rec, serverTime, existing))
}

func (e *Engine) deleteSettlement(ctx context.Context, tx storage.Tx, del DeleteRecord, serverTime int64) (bool, error) {
	st, err := tx.GetSettlement(ctx, del.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if st.IsDeleted() {
		if !st.IsDirty {
			return false, nil
		}
		st.IsDirty = false
		return true, tx.UpdateSettlement(ctx, st)
	}

	at := firstSet(del.ClientUpdatedAt, Time(serverTime))
	if at == 0 {
		at = st.UpdatedAt
	}
	st.DeletedAt = &at
	st.UpdatedAt = at
	st.IsDirty = false
	return true, tx.UpdateSettlement(ctx, st)
}

// Pull fetches and applies pages of remote changes. The cursor and the last
// server time are stored only after a page's transaction commits.
func (e *Engine) Pull(ctx context.Context, userID string) (result PullResult, err error) {
	start := time.Now()
	defer func() { recordRun("pull", time.Since(start).Seconds(), err) }()

	cursor, err := e.cfg.Store.GetSyncState(ctx, StateCursor)
	if err != nil {
		return result, err
	}
	since, err := e.lastServerTime(ctx)
	if err != nil {
		return result, err
	}

	for result.Pages < e.cfg.MaxPages {
		req := &PullRequest{Cursor: cursor, Limit: e.cfg.PullLimit}
		if cursor == "" {
			req.Since = Time(since)
		}

		var resp *PullResponse
		err = e.retry(ctx, "pull", func(ctx context.Context) error {
			var err error
			resp, err = e.cfg.Transport.Pull(ctx, req)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("pull failed: %w", err)
		}
		if resp == nil {
			return result, errors.New("pull failed: empty response")
		}

		applied, err := e.applyPull(ctx, resp, userID)
		if err != nil {
			return result, err
		}
		recordRows("pull", resp.Tables)
		result.Pages++
		result.Applied += applied

		if err := e.advance(ctx, resp); err != nil {
			return result, err
		}

		if resp.NextCursor == "" || resp.NextCursor == cursor || resp.Tables.Len() == 0 {
			break
		}
		cursor = resp.NextCursor
	}

	e.logger.Info("pull complete", "pages", result.Pages, "applied", result.Applied)
	return result, nil
}

func (e *Engine) lastServerTime(ctx context.Context) (int64, error) {
	raw, err := e.cfg.Store.GetSyncState(ctx, StateServerTime)
	if err != nil || raw == "" {
		return 0, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Warn("ignoring unreadable last server time", "value", raw)
		return 0, nil
	}
	return ms, nil
}

func (e *Engine) advance(ctx context.Context, resp *PullResponse) error {
	if resp.NextCursor != "" {
		if err := e.cfg.Store.SetSyncState(ctx, StateCursor, resp.NextCursor); err != nil {
			return err
		}
	}
	if resp.ServerTime != 0 {
		if err := e.cfg.Store.SetSyncState(ctx, StateServerTime, strconv.FormatInt(int64(resp.ServerTime), 10)); err != nil {
			return err
		}
	}
	return nil
}

// Sync runs a push followed by a pull. The pull still runs when the push
// fails, so remote changes arrive even while local ones are stuck; the first
// error is returned.
func (e *Engine) Sync(ctx context.Context, userID string) (*Report, error) {
	report := &Report{}

	var pushErr, pullErr error
	report.Push, pushErr = e.Push(ctx, userID)
	if pushErr != nil {
		e.logger.Warn("push failed, sync pending", "error", pushErr)
	}
	if ctx.Err() == nil {
		report.Pull, pullErr = e.Pull(ctx, userID)
		if pullErr != nil {
			e.logger.Warn("pull failed, sync pending", "error", pullErr)
		}
	}
	return report, errors.Join(pushErr, pullErr)
}

// retry runs fn up to MaxAttempts times with exponential backoff. Rejections
// and context cancellation end it early.
func (e *Engine) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := e.cfg.RetryBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRejected) || ctx.Err() != nil {
			return lastErr
		}
		e.logger.Warn("transport call failed",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"error", lastErr,
		)
	}
	return lastErr
}
