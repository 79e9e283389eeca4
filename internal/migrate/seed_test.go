// ABOUTME: Tests for default admin seeding and ownership backfill
// ABOUTME: Covers env-var credential resolution and the fatal weak-password path

package migrate

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
)

func seedReadyDB(t *testing.T) *sql.DB {
	t.Helper()
	db, path := openTestDB(t)
	engine := NewEngine(db, Config{Path: path})
	plan := PlanMigration(Snapshot{}, DesiredSchema())
	engine.Apply(context.Background(), plan)
	return db
}

func TestSeedDefaultAdmin(t *testing.T) {
	db := seedReadyDB(t)
	engine := NewEngine(db, Config{})

	id, err := engine.SeedDefaultAdminIfEmpty(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var username, email, hash string
	var isAdmin, mustChange bool
	err = db.QueryRow(`SELECT username, email, password_hash, is_admin, password_must_change
		FROM user WHERE id = ?`, id).Scan(&username, &email, &hash, &isAdmin, &mustChange)
	require.NoError(t, err)

	assert.Equal(t, "admin", username)
	assert.Equal(t, "admin@bibliotheca.local", email)
	assert.True(t, isAdmin)
	assert.True(t, mustChange, "seeded admin must be forced to change password")
	assert.True(t, auth.CheckPassword(hash, "TempAdmin123!@#"))
}

func TestSeedSkipsNonEmptyUserTable(t *testing.T) {
	db := seedReadyDB(t)
	_, err := db.Exec(`INSERT INTO user (id, username, email, password_hash, created_at)
		VALUES ('u1', 'alice', 'alice@example.com', 'x', '2025-01-01T00:00:00Z')`)
	require.NoError(t, err)

	engine := NewEngine(db, Config{})
	id, err := engine.SeedDefaultAdminIfEmpty(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSeedUsesEnvironmentCredentials(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "librarian")
	t.Setenv("ADMIN_EMAIL", "librarian@example.com")
	t.Setenv("ADMIN_PASSWORD", "Sufficient1yStr0ng!")

	db := seedReadyDB(t)
	engine := NewEngine(db, Config{})

	id, err := engine.SeedDefaultAdminIfEmpty(context.Background())
	require.NoError(t, err)

	var username, email string
	err = db.QueryRow(`SELECT username, email FROM user WHERE id = ?`, id).Scan(&username, &email)
	require.NoError(t, err)
	assert.Equal(t, "librarian", username)
	assert.Equal(t, "librarian@example.com", email)
}

func TestSeedConfigOverridesEnvironment(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "env-admin")

	db := seedReadyDB(t)
	engine := NewEngine(db, Config{Seed: SeedCredentials{Username: "cfg-admin"}})

	id, err := engine.SeedDefaultAdminIfEmpty(context.Background())
	require.NoError(t, err)

	var username string
	err = db.QueryRow(`SELECT username FROM user WHERE id = ?`, id).Scan(&username)
	require.NoError(t, err)
	assert.Equal(t, "cfg-admin", username)
}

func TestSeedRejectsWeakOperatorPassword(t *testing.T) {
	db := seedReadyDB(t)
	engine := NewEngine(db, Config{Seed: SeedCredentials{Password: "weak"}})

	_, err := engine.SeedDefaultAdminIfEmpty(context.Background())
	assert.ErrorIs(t, err, ErrSeedPasswordPolicy)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user`).Scan(&count))
	assert.Zero(t, count, "no account may be written with a weak password")
}

func TestBackfillOwnership(t *testing.T) {
	db := seedReadyDB(t)
	engine := NewEngine(db, Config{})

	adminID, err := engine.SeedDefaultAdminIfEmpty(context.Background())
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO book (id, uid, title, author, isbn) VALUES
		('b1', 'u1', 'Dune', 'Frank Herbert', '1'),
		('b2', 'u2', 'Hyperion', 'Dan Simmons', '2')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO book (id, uid, title, author, isbn, user_id)
		VALUES ('b3', 'u3', 'Solaris', 'Stanislaw Lem', '3', 'someone-else')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO reading_log (id, book_id, date) VALUES ('l1', 'b1', '2025-01-02')`)
	require.NoError(t, err)

	books, logs := engine.BackfillOwnership(context.Background())
	assert.Equal(t, int64(2), books)
	assert.Equal(t, int64(1), logs)

	var owner string
	require.NoError(t, db.QueryRow(`SELECT user_id FROM book WHERE id = 'b1'`).Scan(&owner))
	assert.Equal(t, adminID, owner)
	require.NoError(t, db.QueryRow(`SELECT user_id FROM book WHERE id = 'b3'`).Scan(&owner))
	assert.Equal(t, "someone-else", owner, "already-owned rows must not be reassigned")
}

func TestBackfillWithoutAdminIsNoOp(t *testing.T) {
	db := seedReadyDB(t)
	engine := NewEngine(db, Config{})

	books, logs := engine.BackfillOwnership(context.Background())
	assert.Zero(t, books)
	assert.Zero(t, logs)
}
