// ABOUTME: Password reset token type and store methods
// ABOUTME: Tokens are single-use and expire an hour after issuance

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrResetTokenNotFound is returned when a reset token doesn't exist.
var ErrResetTokenNotFound = errors.New("password reset token not found")

// ErrResetTokenUsed is returned when a reset token has already been consumed.
var ErrResetTokenUsed = errors.New("password reset token already used")

// PasswordResetToken is a single-use credential for the password reset flow.
type PasswordResetToken struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// IsExpired reports whether the token has passed its expiry.
func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ResetTokenStore defines the interface for reset token persistence.
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, token *PasswordResetToken) error
	GetResetToken(ctx context.Context, token string) (*PasswordResetToken, error)
	UseResetToken(ctx context.Context, id string) error
}

// Ensure SQLiteStore implements ResetTokenStore.
var _ ResetTokenStore = (*SQLiteStore)(nil)

// CreateResetToken stores a new reset token.
func (s *SQLiteStore) CreateResetToken(ctx context.Context, token *PasswordResetToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_reset_token (id, user_id, token, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, 0)
	`,
		token.ID,
		token.UserID,
		token.Token,
		token.CreatedAt.UTC().Format(time.RFC3339),
		token.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reset token: %w", err)
	}

	s.logger.Info("created password reset token", "id", token.ID, "user_id", token.UserID)
	return nil
}

// GetResetToken retrieves a reset token by its opaque value.
func (s *SQLiteStore) GetResetToken(ctx context.Context, token string) (*PasswordResetToken, error) {
	var t PasswordResetToken
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, created_at, expires_at, used
		FROM password_reset_token
		WHERE token = ?
	`, token).Scan(&t.ID, &t.UserID, &t.Token, &createdAtStr, &expiresAtStr, &t.Used)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResetTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reset token: %w", err)
	}

	t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	t.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &t, nil
}

// UseResetToken atomically marks a token as used. Returns ErrResetTokenUsed
// if another request consumed it first.
func (s *SQLiteStore) UseResetToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE password_reset_token SET used = 1 WHERE id = ? AND used = 0`, id)
	if err != nil {
		return fmt.Errorf("marking reset token used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrResetTokenUsed
	}
	return nil
}
