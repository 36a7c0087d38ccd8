package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/storage"
)

const settlementColumns = `id, obligation_id, amount, date, description, remote_id, is_dirty,
	created_at, updated_at, deleted_at`

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	st := &models.Settlement{}
	var (
		remoteID  sql.NullString
		dirty     int
		deletedAt sql.NullInt64
	)
	err := row.Scan(
		&st.ID, &st.ObligationID, &st.Amount, &st.Date, &st.Description, &remoteID, &dirty,
		&st.CreatedAt, &st.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	st.RemoteID = remoteID.String
	st.IsDirty = dirty == 1
	st.DeletedAt = int64Ptr(deletedAt)
	return st, nil
}

func getSettlement(ctx context.Context, q querier, id string) (*models.Settlement, error) {
	st, err := scanSettlement(q.QueryRowContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return st, nil
}

func insertSettlement(ctx context.Context, q querier, st *models.Settlement) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO settlements ("+settlementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ObligationID, st.Amount, st.Date, st.Description, nullString(st.RemoteID),
		boolToInt(st.IsDirty), st.CreatedAt, st.UpdatedAt, nullInt64(st.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func updateSettlement(ctx context.Context, q querier, st *models.Settlement) error {
	res, err := q.ExecContext(ctx,
		`UPDATE settlements SET
			obligation_id = ?, amount = ?, date = ?, description = ?, remote_id = ?, is_dirty = ?,
			created_at = ?, updated_at = ?, deleted_at = ?
		 WHERE id = ?`,
		st.ObligationID, st.Amount, st.Date, st.Description, nullString(st.RemoteID),
		boolToInt(st.IsDirty), st.CreatedAt, st.UpdatedAt, nullInt64(st.DeletedAt),
		st.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("settlement %s: %w", st.ID, storage.ErrNotFound)
	}
	return nil
}

func querySettlements(ctx context.Context, q querier, query string, args ...any) ([]*models.Settlement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*models.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return settlements, nil
}

// listSettlements retrieves the active settlements of an obligation, oldest first.
func listSettlements(ctx context.Context, q querier, obligationID string) ([]*models.Settlement, error) {
	return querySettlements(ctx, q,
		"SELECT "+settlementColumns+` FROM settlements
		 WHERE obligation_id = ? AND deleted_at IS NULL
		 ORDER BY date ASC, created_at ASC`,
		obligationID,
	)
}
