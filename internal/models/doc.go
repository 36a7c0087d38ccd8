// Package models defines the core domain records for ledgersync.
//
// # Records
//
//   - Obligation: one debt in a single direction (PAY: I owe, COLLECT: I am owed)
//   - Settlement: a partial or full payment recorded against one Obligation
//
// Both records carry the same sync metadata: a nullable RemoteID, an IsDirty
// flag set by every local mutation, epoch-millisecond CreatedAt/UpdatedAt and a
// nullable DeletedAt tombstone. Rows are never hard-deleted locally.
//
// # Conventions
//
//  1. Money is decimal.Decimal, never float64
//  2. Timestamps are Unix milliseconds (int64)
//  3. Relationships use ID strings, not pointers
//  4. Aggregate columns on Obligation are derived; see package calculator
package models
