// Package writer persists sim account ledgers to Postgres.
//
// Each settled trading day becomes rows in three tables:
//   - sim_trades: one row per fill
//   - sim_positions: one row per held symbol at settlement
//   - sim_settlements: the account ledger after settlement
//
// Writes are append-only and keyed by (account_id, trading_day, ...), so
// replaying a day is a no-op. Money columns are NUMERIC; NaN is NULL.
package writer
