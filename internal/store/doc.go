// Package store provides persistent storage for bibliotheca using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with multiple
// specialized interfaces:
//
//   - UserStore: Accounts, including the security state persisted per row
//   - BookStore: Per-user library CRUD and status queries
//   - ReadingLogStore: Daily reading activity
//   - SessionStore: Browser sessions
//   - ResetTokenStore: Single-use password reset tokens
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Schema Ownership
//
// The store does not create or alter tables. Open returns a raw *sql.DB with
// connection pragmas applied; the migration engine in internal/migrate brings
// the schema up to date before New wraps the handle. This keeps the store
// free of hidden startup behavior and makes the migration pass explicit.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Each entity has sentinel errors (ErrUserNotFound, ErrBookNotFound,
// ErrDuplicateISBN, ...) checked with errors.Is. All methods accept
// context.Context for cancellation support.
//
// # Time Storage
//
// Timestamps are stored as RFC3339 strings in UTC; date-only columns
// (reading log dates, start/finish dates) use YYYY-MM-DD.
package store
