// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
//
// The pool holds a single connection, so write transactions are serialized
// and a reader never observes a transaction that has not committed.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so row helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories, applies pragmas and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sqliteTx implements storage.Tx on top of an open *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*sqliteTx)(nil)

func (t *sqliteTx) GetObligation(ctx context.Context, id string) (*models.Obligation, error) {
	return getObligation(ctx, t.tx, id)
}

func (t *sqliteTx) InsertObligation(ctx context.Context, ob *models.Obligation) error {
	return insertObligation(ctx, t.tx, ob)
}

func (t *sqliteTx) UpdateObligation(ctx context.Context, ob *models.Obligation) error {
	return updateObligation(ctx, t.tx, ob)
}

func (t *sqliteTx) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return getSettlement(ctx, t.tx, id)
}

func (t *sqliteTx) InsertSettlement(ctx context.Context, st *models.Settlement) error {
	return insertSettlement(ctx, t.tx, st)
}

func (t *sqliteTx) UpdateSettlement(ctx context.Context, st *models.Settlement) error {
	return updateSettlement(ctx, t.tx, st)
}

func (t *sqliteTx) ListSettlements(ctx context.Context, obligationID string) ([]*models.Settlement, error) {
	return listSettlements(ctx, t.tx, obligationID)
}

// GetObligation retrieves an obligation by ID.
func (s *SQLiteStore) GetObligation(ctx context.Context, id string) (*models.Obligation, error) {
	return getObligation(ctx, s.db, id)
}

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return getSettlement(ctx, s.db, id)
}

// ListSettlements retrieves the active settlements of an obligation.
func (s *SQLiteStore) ListSettlements(ctx context.Context, obligationID string) ([]*models.Settlement, error) {
	return listSettlements(ctx, s.db, obligationID)
}

// SumRemaining totals the outstanding amount of the user's active obligations.
// The sum is done in Go: SQLite would coerce the TEXT amounts to REAL.
func (s *SQLiteStore) SumRemaining(ctx context.Context, userID string, direction models.Direction) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT remaining_amount FROM obligations WHERE user_id = ? AND type = ? AND deleted_at IS NULL",
		userID, string(direction),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum remaining amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan remaining amount: %w", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to iterate remaining amounts: %w", err)
	}
	return total, nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt64 maps a nil pointer to SQL NULL.
func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// int64Ptr converts a scanned nullable integer back to a pointer.
func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
