// ABOUTME: Default admin seeding and ownership backfill after migration
// ABOUTME: Runs inside the startup migration pass, before the server accepts traffic

package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
)

// ErrSeedPasswordPolicy is returned when an operator-supplied seed password
// fails the strength policy. Fatal: a weak admin password must never be
// written silently.
var ErrSeedPasswordPolicy = errors.New("seed admin password violates password policy")

// Default seed credentials, used when neither config nor environment supply
// them. The password is deliberately strong and flagged must-change.
const (
	defaultAdminUsername = "admin"
	defaultAdminEmail    = "admin@bibliotheca.local"
	defaultAdminPassword = "TempAdmin123!@#"
)

// SeedCredentials carries operator-supplied admin seed credentials from
// configuration. Empty fields fall back to environment variables, then to
// built-in defaults.
type SeedCredentials struct {
	Username string
	Email    string
	Password string
}

func (c SeedCredentials) resolve() (username, email, password string, operatorPassword bool) {
	username = firstNonEmpty(c.Username, os.Getenv("ADMIN_USERNAME"), defaultAdminUsername)
	email = firstNonEmpty(c.Email, os.Getenv("ADMIN_EMAIL"), defaultAdminEmail)
	password = firstNonEmpty(c.Password, os.Getenv("ADMIN_PASSWORD"))
	if password != "" {
		return username, email, password, true
	}
	return username, email, defaultAdminPassword, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SeedDefaultAdminIfEmpty creates the bootstrap admin account when the user
// table has no rows. The password bypasses interactive validation but the
// account is created with password_must_change set, so the first login forces
// a change. An operator-supplied password that fails the policy aborts the
// whole startup with ErrSeedPasswordPolicy.
//
// Returns the new admin's ID, or empty when no seeding happened.
func (e *Engine) SeedDefaultAdminIfEmpty(ctx context.Context) (string, error) {
	var count int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user`).Scan(&count); err != nil {
		return "", fmt.Errorf("%w: counting users: %v", ErrStoreUnavailable, err)
	}
	if count > 0 {
		return "", nil
	}

	username, email, password, operatorSupplied := e.cfg.Seed.resolve()

	if operatorSupplied && !auth.IsPasswordStrong(password) {
		return "", fmt.Errorf("%w: password for %q does not meet requirements", ErrSeedPasswordPolicy, username)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed admin password: %w", err)
	}

	id := uuid.New().String()
	now := e.now().UTC().Format(time.RFC3339)
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO user (id, username, email, password_hash, is_admin, is_active,
			created_at, failed_login_attempts, password_must_change)
		VALUES (?, ?, ?, ?, 1, 1, ?, 0, 1)`,
		id, username, email, hash, now)
	if err != nil {
		return "", fmt.Errorf("inserting seed admin: %w", err)
	}

	e.logger.Info("seeded default admin account, password change required at first login",
		"username", username, "email", email)
	return id, nil
}

// BackfillOwnership assigns orphaned book and reading_log rows to the first
// admin account. Called only when this migration pass introduced the user_id
// ownership column; rows predating multi-user support belong to the original
// operator. No admin means nothing to backfill.
func (e *Engine) BackfillOwnership(ctx context.Context) (books, logs int64) {
	var adminID string
	err := e.db.QueryRowContext(ctx,
		`SELECT id FROM user WHERE is_admin = 1 ORDER BY created_at LIMIT 1`).Scan(&adminID)
	if err != nil {
		e.logger.Warn("no admin account found, skipping ownership backfill", "error", err)
		return 0, 0
	}

	if res, err := e.db.ExecContext(ctx,
		`UPDATE book SET user_id = ? WHERE user_id IS NULL`, adminID); err != nil {
		e.logger.Warn("book ownership backfill failed, continuing", "error", err)
	} else {
		books, _ = res.RowsAffected()
	}

	if res, err := e.db.ExecContext(ctx,
		`UPDATE reading_log SET user_id = ? WHERE user_id IS NULL`, adminID); err != nil {
		e.logger.Warn("reading log ownership backfill failed, continuing", "error", err)
	} else {
		logs, _ = res.RowsAffected()
	}

	e.logger.Info("backfilled ownership to first admin",
		"admin_id", adminID, "books", books, "reading_logs", logs)
	return books, logs
}
