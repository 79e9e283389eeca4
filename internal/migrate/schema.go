// ABOUTME: Hard-coded desired schema description and DDL builders
// ABOUTME: The schema is data, not code, so migration planning stays a pure diff

package migrate

import (
	"fmt"
	"strings"
)

// ColumnSpec declares one column of the desired schema.
type ColumnSpec struct {
	Name       string
	Type       string
	NotNull    bool
	Default    string // SQL literal, empty for none
	PrimaryKey bool
	Unique     bool
}

// TableSpec declares one table of the desired schema. Column order is the
// order in which missing columns are added.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Schema is the full set of tables the current application version requires.
type Schema []TableSpec

// DesiredSchema returns the target schema. Every table and column the
// application reads or writes must be declared here; the engine adds whatever
// a live database is missing, and never drops or alters anything.
func DesiredSchema() Schema {
	return Schema{
		{
			Name: "user",
			Columns: []ColumnSpec{
				{Name: "id", Type: "TEXT", PrimaryKey: true},
				{Name: "username", Type: "TEXT", NotNull: true, Unique: true},
				{Name: "email", Type: "TEXT", NotNull: true, Unique: true},
				{Name: "password_hash", Type: "TEXT", NotNull: true},
				{Name: "is_admin", Type: "BOOLEAN", Default: "0"},
				{Name: "is_active", Type: "BOOLEAN", Default: "1"},
				{Name: "created_at", Type: "DATETIME", NotNull: true},
				{Name: "failed_login_attempts", Type: "INTEGER", Default: "0"},
				{Name: "locked_until", Type: "DATETIME"},
				{Name: "last_login", Type: "DATETIME"},
				{Name: "password_must_change", Type: "BOOLEAN", Default: "0"},
				{Name: "password_changed_at", Type: "DATETIME"},
				{Name: "share_current_reading", Type: "BOOLEAN", Default: "1"},
				{Name: "share_reading_activity", Type: "BOOLEAN", Default: "1"},
				{Name: "share_library", Type: "BOOLEAN", Default: "1"},
			},
		},
		{
			Name: "book",
			Columns: []ColumnSpec{
				{Name: "id", Type: "TEXT", PrimaryKey: true},
				{Name: "uid", Type: "TEXT", NotNull: true, Unique: true},
				{Name: "title", Type: "TEXT", NotNull: true},
				{Name: "author", Type: "TEXT", NotNull: true},
				{Name: "isbn", Type: "TEXT", NotNull: true},
				{Name: "start_date", Type: "DATE"},
				{Name: "finish_date", Type: "DATE"},
				{Name: "cover_url", Type: "TEXT"},
				{Name: "want_to_read", Type: "BOOLEAN", Default: "0"},
				{Name: "library_only", Type: "BOOLEAN", Default: "0"},
				{Name: "description", Type: "TEXT"},
				{Name: "published_date", Type: "TEXT"},
				{Name: "page_count", Type: "INTEGER"},
				{Name: "categories", Type: "TEXT"},
				{Name: "publisher", Type: "TEXT"},
				{Name: "language", Type: "TEXT"},
				{Name: "average_rating", Type: "REAL"},
				{Name: "rating_count", Type: "INTEGER"},
				{Name: "review", Type: "TEXT"},
				// Ownership column; pre-existing rows are backfilled to the
				// first admin after this column is introduced.
				{Name: "user_id", Type: "TEXT"},
			},
		},
		{
			Name: "reading_log",
			Columns: []ColumnSpec{
				{Name: "id", Type: "TEXT", PrimaryKey: true},
				{Name: "book_id", Type: "TEXT", NotNull: true},
				{Name: "date", Type: "DATE", NotNull: true},
				{Name: "user_id", Type: "TEXT"},
			},
		},
		{
			Name: "password_reset_token",
			Columns: []ColumnSpec{
				{Name: "id", Type: "TEXT", PrimaryKey: true},
				{Name: "user_id", Type: "TEXT", NotNull: true},
				{Name: "token", Type: "TEXT", NotNull: true, Unique: true},
				{Name: "created_at", Type: "DATETIME", NotNull: true},
				{Name: "expires_at", Type: "DATETIME", NotNull: true},
				{Name: "used", Type: "BOOLEAN", Default: "0"},
			},
		},
		{
			Name: "session",
			Columns: []ColumnSpec{
				{Name: "id", Type: "TEXT", PrimaryKey: true},
				{Name: "user_id", Type: "TEXT", NotNull: true},
				{Name: "created_at", Type: "DATETIME", NotNull: true},
				{Name: "expires_at", Type: "DATETIME", NotNull: true},
			},
		},
	}
}

// indexDDL holds idempotent index statements applied on every startup pass.
var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_user_username ON user(username)`,
	`CREATE INDEX IF NOT EXISTS idx_book_user ON book(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_book_uid ON book(uid)`,
	`CREATE INDEX IF NOT EXISTS idx_reading_log_book ON reading_log(book_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reading_log_user_date ON reading_log(user_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_reset_token_token ON password_reset_token(token)`,
	`CREATE INDEX IF NOT EXISTS idx_session_expires ON session(expires_at)`,
}

// createTableSQL renders a CREATE TABLE IF NOT EXISTS statement for a table.
func createTableSQL(t TableSpec) string {
	var defs []string
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(defs, ",\n\t"))
}

func columnDef(c ColumnSpec) string {
	parts := []string{c.Name, c.Type}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.Unique {
		parts = append(parts, "UNIQUE")
	}
	if c.NotNull && !c.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	return strings.Join(parts, " ")
}

// addColumnSQL renders an ALTER TABLE ADD COLUMN statement. SQLite cannot add
// a NOT NULL column without a default, and cannot add PRIMARY KEY or UNIQUE
// columns at all, so those qualifiers are only emitted where legal.
func addColumnSQL(table string, c ColumnSpec) string {
	parts := []string{"ALTER TABLE", table, "ADD COLUMN", c.Name, c.Type}
	if c.NotNull && c.Default != "" {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	return strings.Join(parts, " ")
}
