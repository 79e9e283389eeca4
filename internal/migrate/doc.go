// Package migrate brings a live SQLite database of unknown prior schema
// version up to the current desired schema at process startup.
//
// The desired schema is a hard-coded data structure versioned with the
// binary. At startup the engine inspects the actual tables and columns via
// sqlite_master and pragma_table_info, computes a purely additive plan
// (missing tables, then missing columns), backs up the database file
// best-effort, and applies the plan with per-table transaction units.
// Duplicate-column races with concurrent workers are tolerated as no-ops,
// so the pass is idempotent and safe to re-run.
//
// After schema work the engine seeds a default admin account when the user
// table is empty, and backfills ownership of pre-existing rows when this
// pass introduced the user_id column. Only schema inspection failures and
// seed-password policy violations abort startup; everything else degrades
// with a log line.
package migrate
