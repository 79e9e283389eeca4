// ABOUTME: Account security state machine: lockout transitions and password changes
// ABOUTME: Operates on user rows through an injected store handle

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

// Lockout policy constants.
const (
	// LockoutThreshold is the failed-attempt count at which an account locks.
	LockoutThreshold = 5

	// LockoutDuration is the length of the lockout window. The window is
	// fixed at the moment the threshold is crossed; further failures while
	// locked increment the counter but never extend it.
	LockoutDuration = 30 * time.Minute
)

// Account security errors.
var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username/email or password")

	// ErrAccountLocked is returned while the account is inside a lockout window.
	ErrAccountLocked = errors.New("account is temporarily locked due to too many failed login attempts")

	// ErrAccountDisabled is returned for deactivated accounts.
	ErrAccountDisabled = errors.New("account has been deactivated")
)

// AccountStore is the slice of the store the state machine needs.
type AccountStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (*store.User, error)
	UpdateUserSecurity(ctx context.Context, user *store.User) error
	UpdateUserPassword(ctx context.Context, user *store.User) error
}

// Accounts implements the account security state machine over a store handle.
// The clock is injectable for tests.
type Accounts struct {
	store  AccountStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAccounts creates an account security service.
func NewAccounts(s AccountStore) *Accounts {
	return &Accounts{
		store:  s,
		logger: slog.Default().With("component", "auth"),
		now:    time.Now,
	}
}

// Authenticate checks credentials for a login attempt and drives the lockout
// state machine. On success the failure counter resets and last_login is
// stamped; on a wrong password the counter increments and may lock the
// account. Lock state is checked before the password so a locked account
// rejects even correct credentials.
func (a *Accounts) Authenticate(ctx context.Context, login, password string) (*store.User, error) {
	user, err := a.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			CompareDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	now := a.now()

	if user.IsLocked(now) {
		CompareDummy(password)
		return nil, ErrAccountLocked
	}

	if !user.IsActive {
		CompareDummy(password)
		return nil, ErrAccountDisabled
	}

	if !CheckPassword(user.PasswordHash, password) {
		RecordFailedAttempt(user, now)
		if err := a.store.UpdateUserSecurity(ctx, user); err != nil {
			a.logger.Error("persisting failed login attempt", "user_id", user.ID, "error", err)
		}
		if user.IsLocked(now) {
			a.logger.Warn("account locked after repeated failures",
				"user_id", user.ID, "attempts", user.FailedLoginAttempts)
		}
		return user, ErrInvalidCredentials
	}

	RecordSuccessfulLogin(user, now)
	if err := a.store.UpdateUserSecurity(ctx, user); err != nil {
		return nil, fmt.Errorf("persisting successful login: %w", err)
	}

	a.logger.Info("login successful", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// RecordFailedAttempt applies the failed-login transition to a user row.
// The lockout window is set once when the counter crosses the threshold and
// is not renewed by subsequent failures while locked.
func RecordFailedAttempt(u *store.User, now time.Time) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= LockoutThreshold && !u.IsLocked(now) {
		until := now.Add(LockoutDuration)
		u.LockedUntil = &until
	}
}

// RecordSuccessfulLogin resets the failure counter, clears any stale lock and
// stamps last_login. Callers must verify the account is unlocked first.
func RecordSuccessfulLogin(u *store.User, now time.Time) {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &now
}

// RemainingAttempts returns how many failures are left before lockout.
func RemainingAttempts(u *store.User) int {
	remaining := LockoutThreshold - u.FailedLoginAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AdminUnlock clears the lockout state unconditionally.
func (a *Accounts) AdminUnlock(ctx context.Context, userID string) error {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	if err := a.store.UpdateUserSecurity(ctx, user); err != nil {
		return fmt.Errorf("persisting unlock: %w", err)
	}

	a.logger.Info("account unlocked by admin", "user_id", userID)
	return nil
}

// SetPassword validates the policy, hashes and persists a new password. The
// must-change flag is cleared and password_changed_at stamped. On a weak
// password the user row is left untouched.
func (a *Accounts) SetPassword(ctx context.Context, user *store.User, password string) error {
	if !IsPasswordStrong(password) {
		return ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := a.now()
	user.PasswordHash = hash
	user.PasswordMustChange = false
	user.PasswordChangedAt = &now
	return a.store.UpdateUserPassword(ctx, user)
}

// SetPasswordUnchecked bypasses policy validation. It exists for scripted
// initialization only and must be paired with mustChange=true so the owner
// is forced through a validated change on first login.
func (a *Accounts) SetPasswordUnchecked(ctx context.Context, user *store.User, password string, mustChange bool) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := a.now()
	user.PasswordHash = hash
	user.PasswordMustChange = mustChange
	user.PasswordChangedAt = &now
	return a.store.UpdateUserPassword(ctx, user)
}

// AdminResetPassword sets a new password on behalf of an admin and forces the
// target to change it at next login. The policy still applies.
func (a *Accounts) AdminResetPassword(ctx context.Context, userID, password string) error {
	if !IsPasswordStrong(password) {
		return ErrWeakPassword
	}

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := a.now()
	user.PasswordHash = hash
	user.PasswordMustChange = true
	user.PasswordChangedAt = &now
	if err := a.store.UpdateUserPassword(ctx, user); err != nil {
		return err
	}

	a.logger.Info("password reset by admin", "user_id", userID)
	return nil
}

// WithClock overrides the time source. Intended for tests.
func (a *Accounts) WithClock(now func() time.Time) *Accounts {
	a.now = now
	return a
}
