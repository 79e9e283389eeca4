// ABOUTME: Tests for schema inspection, planning, backup, and apply
// ABOUTME: Uses throwaway SQLite files under t.TempDir()

package migrate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestPlanMigrationFreshStore(t *testing.T) {
	plan := PlanMigration(Snapshot{}, DesiredSchema())

	require.Len(t, plan.Ops, len(DesiredSchema()))
	var names []string
	for _, op := range plan.Ops {
		assert.Equal(t, OpCreateTable, op.Kind)
		names = append(names, op.Table)
	}
	// Alphabetical by table name
	assert.Equal(t, []string{"book", "password_reset_token", "reading_log", "session", "user"}, names)
}

func TestPlanMigrationUpToDate(t *testing.T) {
	snapshot := Snapshot{}
	for _, table := range DesiredSchema() {
		cols := map[string]bool{}
		for _, c := range table.Columns {
			cols[c.Name] = true
		}
		snapshot[table.Name] = cols
	}

	plan := PlanMigration(snapshot, DesiredSchema())
	assert.True(t, plan.Empty())
}

func TestPlanMigrationMissingColumns(t *testing.T) {
	snapshot := Snapshot{}
	for _, table := range DesiredSchema() {
		cols := map[string]bool{}
		for _, c := range table.Columns {
			cols[c.Name] = true
		}
		snapshot[table.Name] = cols
	}
	delete(snapshot["book"], "average_rating")
	delete(snapshot["book"], "rating_count")
	delete(snapshot["user"], "locked_until")

	plan := PlanMigration(snapshot, DesiredSchema())

	require.Len(t, plan.Ops, 3)
	// Alphabetical by table, then declared column order within a table
	assert.Equal(t, "book", plan.Ops[0].Table)
	assert.Equal(t, "average_rating", plan.Ops[0].Column.Name)
	assert.Equal(t, "book", plan.Ops[1].Table)
	assert.Equal(t, "rating_count", plan.Ops[1].Column.Name)
	assert.Equal(t, "user", plan.Ops[2].Table)
	assert.Equal(t, "locked_until", plan.Ops[2].Column.Name)
}

func TestNeedsMigration(t *testing.T) {
	desired := DesiredSchema()

	// Empty store is created fresh, not migrated
	freshPlan := PlanMigration(Snapshot{}, desired)
	assert.False(t, NeedsMigration(Snapshot{}, freshPlan))

	// Partial store with a pending plan needs migrating
	partial := Snapshot{"user": {"id": true}}
	assert.True(t, NeedsMigration(partial, PlanMigration(partial, desired)))

	// Up-to-date store does not
	full := Snapshot{}
	for _, table := range desired {
		cols := map[string]bool{}
		for _, c := range table.Columns {
			cols[c.Name] = true
		}
		full[table.Name] = cols
	}
	assert.False(t, NeedsMigration(full, PlanMigration(full, desired)))
}

func TestPlanMigrationDeterministic(t *testing.T) {
	snapshot := Snapshot{"book": {"id": true, "uid": true, "title": true, "author": true, "isbn": true}}

	first := PlanMigration(snapshot, DesiredSchema())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, PlanMigration(snapshot, DesiredSchema()))
	}
}

func TestRunFreshStore(t *testing.T) {
	db, path := openTestDB(t)
	engine := NewEngine(db, Config{Path: path})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.FreshStore)
	assert.Nil(t, result.Backup, "fresh store must not be backed up")
	assert.Equal(t, len(DesiredSchema()), result.Applied)
	assert.NotEmpty(t, result.SeededAdminID)

	// No backup directory appears for a fresh store
	_, statErr := os.Stat(filepath.Join(filepath.Dir(path), "backups"))
	assert.True(t, os.IsNotExist(statErr))

	snapshot, err := engine.Inspect(context.Background())
	require.NoError(t, err)
	for _, table := range DesiredSchema() {
		require.True(t, snapshot.HasTable(table.Name), "missing table %s", table.Name)
		for _, col := range table.Columns {
			assert.True(t, snapshot.HasColumn(table.Name, col.Name),
				"missing column %s.%s", table.Name, col.Name)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	db, path := openTestDB(t)
	engine := NewEngine(db, Config{Path: path})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	second, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, second.FreshStore)
	assert.True(t, second.Plan.Empty())
	assert.Zero(t, second.Applied)
	assert.Nil(t, second.Backup)
	assert.Empty(t, second.SeededAdminID, "admin must only be seeded once")
}

func TestRunAddsMissingColumnWithBackup(t *testing.T) {
	db, path := openTestDB(t)

	// Simulate an older deployment whose book table predates ratings.
	_, err := db.Exec(`CREATE TABLE book (
		id TEXT PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO book (id, uid, title, author, isbn)
		VALUES ('b1', 'u1', 'Dune', 'Frank Herbert', '9780441172719')`)
	require.NoError(t, err)

	engine := NewEngine(db, Config{Path: path})
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.FreshStore)
	assert.True(t, result.Plan.AddsColumn("book", "average_rating"))
	require.NotNil(t, result.Backup, "migrating an existing store must create a backup")
	_, statErr := os.Stat(result.Backup.Path)
	assert.NoError(t, statErr)

	// Existing row survives with NULL in the new column
	var rating sql.NullFloat64
	err = db.QueryRow(`SELECT average_rating FROM book WHERE id = 'b1'`).Scan(&rating)
	require.NoError(t, err)
	assert.False(t, rating.Valid)

	second, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Plan.Empty())
	assert.Zero(t, second.Applied)
}

func TestApplyToleratesExistingColumn(t *testing.T) {
	db, _ := openTestDB(t)

	_, err := db.Exec(`CREATE TABLE reading_log (id TEXT PRIMARY KEY, book_id TEXT NOT NULL, date DATE NOT NULL)`)
	require.NoError(t, err)

	engine := NewEngine(db, Config{})
	plan := Plan{Ops: []Operation{
		{Kind: OpAddColumn, Table: "reading_log", Column: ColumnSpec{Name: "user_id", Type: "TEXT"}},
	}}

	applied := engine.Apply(context.Background(), plan)
	assert.Equal(t, 1, applied)

	// Re-applying the same plan is a no-op, not an error
	applied = engine.Apply(context.Background(), plan)
	assert.Zero(t, applied)
}

func TestBackupFailureIsNotFatal(t *testing.T) {
	db, _ := openTestDB(t)

	engine := NewEngine(db, Config{Path: filepath.Join(t.TempDir(), "does-not-exist.db")})
	assert.Nil(t, engine.Backup())
}

func TestBackupNamesFileWithTimestamp(t *testing.T) {
	db, path := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE user (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	engine := NewEngine(db, Config{Path: path})
	engine.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC) }

	record := engine.Backup()
	require.NotNil(t, record)
	assert.Equal(t,
		filepath.Join(filepath.Dir(path), "backups", "test.db.backup_20250314_092653"),
		record.Path)
}

func TestInspectFailsOnClosedDB(t *testing.T) {
	db, _ := openTestDB(t)
	require.NoError(t, db.Close())

	engine := NewEngine(db, Config{})
	_, err := engine.Inspect(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
