// ABOUTME: User account type and store methods including security state persistence
// ABOUTME: Lockout counters, privacy flags and password metadata live on the user row

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUserNotFound is returned when a user doesn't exist.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrEmailExists is returned when trying to create a user with an existing email.
var ErrEmailExists = errors.New("email already exists")

// User represents an account. The lockout and password-hygiene fields are
// mutated by the account security state machine in internal/auth; the store
// only persists them.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	PasswordMustChange  bool
	PasswordChangedAt   *time.Time

	ShareCurrentReading  bool
	ShareReadingActivity bool
	ShareLibrary         bool
}

// IsLocked reports whether the account is inside an active lockout window.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// UserStore defines the interface for user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
	CountAdmins(ctx context.Context) (int, error)
	UpdateUserSecurity(ctx context.Context, user *User) error
	UpdateUserPassword(ctx context.Context, user *User) error
	UpdateUserPrivacy(ctx context.Context, user *User) error
	UpdateUserProfile(ctx context.Context, user *User) error
	SetUserActive(ctx context.Context, id string, active bool) error
	SetUserAdmin(ctx context.Context, id string, admin bool) error
}

// Ensure SQLiteStore implements UserStore.
var _ UserStore = (*SQLiteStore)(nil)

const userColumns = `id, username, email, password_hash, is_admin, is_active, created_at,
		failed_login_attempts, locked_until, last_login, password_must_change, password_changed_at,
		share_current_reading, share_reading_activity, share_library`

// CreateUser creates a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO user (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsAdmin,
		user.IsActive,
		user.CreatedAt.UTC().Format(time.RFC3339),
		user.FailedLoginAttempts,
		nullTime(user.LockedUntil),
		nullTime(user.LastLogin),
		user.PasswordMustChange,
		nullTime(user.PasswordChangedAt),
		user.ShareCurrentReading,
		user.ShareReadingActivity,
		user.ShareLibrary,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "email") {
				return ErrEmailExists
			}
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "username", user.Username, "is_admin", user.IsAdmin)
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string
	var lockedUntil, lastLogin, passwordChangedAt sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.IsActive,
		&createdAtStr,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&user.PasswordMustChange,
		&passwordChangedAt,
		&user.ShareCurrentReading,
		&user.ShareReadingActivity,
		&user.ShareLibrary,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.LockedUntil, err = parseNullTime(lockedUntil); err != nil {
		return nil, err
	}
	if user.LastLogin, err = parseNullTime(lastLogin); err != nil {
		return nil, err
	}
	if user.PasswordChangedAt, err = parseNullTime(passwordChangedAt); err != nil {
		return nil, err
	}

	return &user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE id = ?`, id)
	return s.scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE username = ?`, username)
	return s.scanUser(row)
}

// GetUserByLogin retrieves a user by username or email. Login forms accept
// either, so both columns are checked.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE username = ? OR email = ?`,
		usernameOrEmail, usernameOrEmail)
	return s.scanUser(row)
}

// ListUsers returns all users ordered by creation time.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM user ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		var user User
		var createdAtStr string
		var lockedUntil, lastLogin, passwordChangedAt sql.NullString

		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&user.IsAdmin,
			&user.IsActive,
			&createdAtStr,
			&user.FailedLoginAttempts,
			&lockedUntil,
			&lastLogin,
			&user.PasswordMustChange,
			&passwordChangedAt,
			&user.ShareCurrentReading,
			&user.ShareReadingActivity,
			&user.ShareLibrary,
		); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}

		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if user.LockedUntil, err = parseNullTime(lockedUntil); err != nil {
			return nil, err
		}
		if user.LastLogin, err = parseNullTime(lastLogin); err != nil {
			return nil, err
		}
		if user.PasswordChangedAt, err = parseNullTime(passwordChangedAt); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// CountUsers returns the number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// CountAdmins returns the number of active admin users.
func (s *SQLiteStore) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user WHERE is_admin = 1 AND is_active = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return count, nil
}

// UpdateUserSecurity persists the lockout counters and last-login timestamp.
func (s *SQLiteStore) UpdateUserSecurity(ctx context.Context, user *User) error {
	query := `
		UPDATE user
		SET failed_login_attempts = ?, locked_until = ?, last_login = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		user.FailedLoginAttempts,
		nullTime(user.LockedUntil),
		nullTime(user.LastLogin),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user security state: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// UpdateUserPassword persists the password hash and hygiene flags.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, user *User) error {
	query := `
		UPDATE user
		SET password_hash = ?, password_must_change = ?, password_changed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		user.PasswordHash,
		user.PasswordMustChange,
		nullTime(user.PasswordChangedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}

	if err := requireRow(result, ErrUserNotFound); err != nil {
		return err
	}
	s.logger.Info("updated user password", "id", user.ID)
	return nil
}

// UpdateUserPrivacy persists the sharing preference flags.
func (s *SQLiteStore) UpdateUserPrivacy(ctx context.Context, user *User) error {
	query := `
		UPDATE user
		SET share_current_reading = ?, share_reading_activity = ?, share_library = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		user.ShareCurrentReading,
		user.ShareReadingActivity,
		user.ShareLibrary,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user privacy: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// UpdateUserProfile persists username and email changes.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, user *User) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE user SET username = ?, email = ? WHERE id = ?`,
		user.Username, user.Email, user.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "email") {
				return ErrEmailExists
			}
			return ErrUsernameExists
		}
		return fmt.Errorf("updating user profile: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// SetUserActive activates or deactivates an account.
func (s *SQLiteStore) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE user SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("updating user active flag: %w", err)
	}

	if err := requireRow(result, ErrUserNotFound); err != nil {
		return err
	}
	s.logger.Info("updated user active flag", "id", id, "active", active)
	return nil
}

// SetUserAdmin grants or revokes admin privileges. The last-admin guard is a
// caller concern; the store performs the update unconditionally.
func (s *SQLiteStore) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE user SET is_admin = ? WHERE id = ?`, admin, id)
	if err != nil {
		return fmt.Errorf("updating user admin flag: %w", err)
	}

	if err := requireRow(result, ErrUserNotFound); err != nil {
		return err
	}
	s.logger.Info("updated user admin flag", "id", id, "admin", admin)
	return nil
}

// requireRow converts a zero-rows-affected result into notFound.
func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
