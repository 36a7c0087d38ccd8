package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/storage"
)

const obligationColumns = `id, user_id, type, counterparty, date, description, currency, mobile_number,
	principal_amount, remaining_amount, settlement_amount, interest_amount, status,
	notification_id, remote_id, is_dirty, created_at, updated_at, deleted_at`

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (*models.Obligation, error) {
	ob := &models.Obligation{}
	var (
		direction, status              string
		mobile, notification, remoteID sql.NullString
		dirty                          int
		deletedAt                      sql.NullInt64
	)
	err := row.Scan(
		&ob.ID, &ob.UserID, &direction, &ob.Counterparty, &ob.Date, &ob.Description, &ob.Currency, &mobile,
		&ob.PrincipalAmount, &ob.RemainingAmount, &ob.SettlementAmount, &ob.InterestAmount, &status,
		&notification, &remoteID, &dirty, &ob.CreatedAt, &ob.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	ob.Direction = models.Direction(direction)
	ob.Status = models.Status(status)
	ob.MobileNumber = mobile.String
	ob.NotificationID = notification.String
	ob.RemoteID = remoteID.String
	ob.IsDirty = dirty == 1
	ob.DeletedAt = int64Ptr(deletedAt)
	return ob, nil
}

func getObligation(ctx context.Context, q querier, id string) (*models.Obligation, error) {
	ob, err := scanObligation(q.QueryRowContext(ctx,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("obligation %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get obligation: %w", err)
	}
	return ob, nil
}

func insertObligation(ctx context.Context, q querier, ob *models.Obligation) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO obligations ("+obligationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ob.ID, ob.UserID, string(ob.Direction), ob.Counterparty, ob.Date, ob.Description, ob.Currency,
		nullString(ob.MobileNumber),
		ob.PrincipalAmount, ob.RemainingAmount, ob.SettlementAmount, ob.InterestAmount, string(ob.Status),
		nullString(ob.NotificationID), nullString(ob.RemoteID), boolToInt(ob.IsDirty),
		ob.CreatedAt, ob.UpdatedAt, nullInt64(ob.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

func updateObligation(ctx context.Context, q querier, ob *models.Obligation) error {
	res, err := q.ExecContext(ctx,
		`UPDATE obligations SET
			user_id = ?, type = ?, counterparty = ?, date = ?, description = ?, currency = ?, mobile_number = ?,
			principal_amount = ?, remaining_amount = ?, settlement_amount = ?, interest_amount = ?, status = ?,
			notification_id = ?, remote_id = ?, is_dirty = ?, created_at = ?, updated_at = ?, deleted_at = ?
		 WHERE id = ?`,
		ob.UserID, string(ob.Direction), ob.Counterparty, ob.Date, ob.Description, ob.Currency,
		nullString(ob.MobileNumber),
		ob.PrincipalAmount, ob.RemainingAmount, ob.SettlementAmount, ob.InterestAmount, string(ob.Status),
		nullString(ob.NotificationID), nullString(ob.RemoteID), boolToInt(ob.IsDirty),
		ob.CreatedAt, ob.UpdatedAt, nullInt64(ob.DeletedAt),
		ob.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("obligation %s: %w", ob.ID, storage.ErrNotFound)
	}
	return nil
}

func queryObligations(ctx context.Context, q querier, query string, args ...any) ([]*models.Obligation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list obligations: %w", err)
	}
	defer rows.Close()

	var obligations []*models.Obligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		obligations = append(obligations, ob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate obligations: %w", err)
	}
	return obligations, nil
}

// ListObligations retrieves the user's active obligations in one direction.
func (s *SQLiteStore) ListObligations(ctx context.Context, userID string, direction models.Direction) ([]*models.Obligation, error) {
	return queryObligations(ctx, s.db,
		"SELECT "+obligationColumns+` FROM obligations
		 WHERE user_id = ? AND type = ? AND deleted_at IS NULL
		 ORDER BY date DESC, created_at DESC`,
		userID, string(direction),
	)
}

// SetNotificationID stores the reminder handle for an obligation that is
// still outstanding. It reports false when the row has since been settled or
// tombstoned. The row is not marked dirty: the handle never leaves the device.
func (s *SQLiteStore) SetNotificationID(ctx context.Context, obligationID, handle string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE obligations SET notification_id = ?
		 WHERE id = ? AND status != 'SETTLED' AND deleted_at IS NULL`,
		nullString(handle), obligationID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set notification id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := getObligation(ctx, s.db, obligationID); err != nil {
		return false, err
	}
	return false, nil
}
