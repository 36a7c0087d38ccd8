package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/ledgersync/internal/models"
)

// DirtyObligations retrieves the user's obligations with unpushed changes,
// tombstones included until the server acknowledges them.
func (s *SQLiteStore) DirtyObligations(ctx context.Context, userID string) ([]*models.Obligation, error) {
	// Tombstones are selected by is_dirty alone: every local delete sets it and
	// pulled deletes clear it, since the server already knows about them.
	return queryObligations(ctx, s.db,
		"SELECT "+obligationColumns+` FROM obligations
		 WHERE user_id = ? AND is_dirty = 1
		 ORDER BY updated_at ASC, id ASC`,
		userID,
	)
}

// DirtySettlements retrieves settlements with unpushed changes for the user.
// Settlements carry no owner column; ownership comes from the parent
// obligation. Settlements pulled before their parent have no local owner and
// go out with this device's push, otherwise their tombstones would never leave.
func (s *SQLiteStore) DirtySettlements(ctx context.Context, userID string) ([]*models.Settlement, error) {
	return querySettlements(ctx, s.db,
		`SELECT s.id, s.obligation_id, s.amount, s.date, s.description, s.remote_id, s.is_dirty,
			s.created_at, s.updated_at, s.deleted_at
		 FROM settlements s
		 LEFT JOIN obligations o ON o.id = s.obligation_id
		 WHERE s.is_dirty = 1 AND (o.user_id = ? OR o.id IS NULL)
		 ORDER BY s.updated_at ASC, s.id ASC`,
		userID,
	)
}

// ClearObligationDirty marks an obligation as pushed if it has not changed
// since updatedAt.
func (s *SQLiteStore) ClearObligationDirty(ctx context.Context, id string, updatedAt int64) (bool, error) {
	return s.clearDirty(ctx, "UPDATE obligations SET is_dirty = 0 WHERE id = ? AND updated_at = ? AND is_dirty = 1", id, updatedAt)
}

// ClearSettlementDirty marks a settlement as pushed if it has not changed
// since updatedAt.
func (s *SQLiteStore) ClearSettlementDirty(ctx context.Context, id string, updatedAt int64) (bool, error) {
	return s.clearDirty(ctx, "UPDATE settlements SET is_dirty = 0 WHERE id = ? AND updated_at = ? AND is_dirty = 1", id, updatedAt)
}

func (s *SQLiteStore) clearDirty(ctx context.Context, query, id string, updatedAt int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, id, updatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// GetSyncState retrieves a sync bookkeeping value. Missing keys return "".
func (s *SQLiteStore) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sync state %q: %w", key, err)
	}
	return value, nil
}

// SetSyncState stores a sync bookkeeping value.
func (s *SQLiteStore) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set sync state %q: %w", key, err)
	}
	return nil
}
