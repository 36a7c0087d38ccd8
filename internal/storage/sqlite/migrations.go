package sqlite

import (
	"database/sql"
	"fmt"
)

// currentSchemaVersion is stored in PRAGMA user_version once the schema is applied.
const currentSchemaVersion = 1

// schema contains the SQL statements to set up the ledger tables.
// These run on startup to ensure tables exist.
// Both obligation directions share one table, discriminated by type.
// settlements.obligation_id is a logical link only: pulled settlements may
// arrive for obligations that were never materialized locally.
const schema = `
CREATE TABLE IF NOT EXISTS obligations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL CHECK (type IN ('PAY', 'COLLECT')),
    counterparty TEXT NOT NULL,
    date INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL,
    mobile_number TEXT,
    principal_amount TEXT NOT NULL,
    remaining_amount TEXT NOT NULL,
    settlement_amount TEXT NOT NULL DEFAULT '0',
    interest_amount TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL,
    notification_id TEXT,
    remote_id TEXT,
    is_dirty INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS settlements (
    id TEXT PRIMARY KEY,
    obligation_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    date INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    remote_id TEXT,
    is_dirty INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_obligations_user_type ON obligations(user_id, type, deleted_at);
CREATE INDEX IF NOT EXISTS idx_obligations_dirty ON obligations(user_id, is_dirty);
CREATE INDEX IF NOT EXISTS idx_settlements_obligation_id ON settlements(obligation_id, deleted_at);
CREATE INDEX IF NOT EXISTS idx_settlements_dirty ON settlements(is_dirty);
`

// runMigrations executes the schema setup and records the schema version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
