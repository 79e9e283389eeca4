// Package auth implements account security for bibliotheca.
//
// # Components
//
//   - Password policy: IsPasswordStrong enforces length, character class and
//     blacklist rules; HashPassword/CheckPassword wrap bcrypt.
//   - Account state machine: Accounts drives the lockout transitions
//     (RecordFailedAttempt, RecordSuccessfulLogin, AdminUnlock) and password
//     changes (SetPassword, SetPasswordUnchecked, AdminResetPassword) over an
//     injected store handle.
//   - Tokens: TokenIssuer mints HS256 bearer tokens from a store.User and
//     verifies them back into typed Claims (user ID as subject, plus the
//     username and admin flag).
//
// # Lockout Model
//
// An account is Locked while locked_until is in the future, Unlocked
// otherwise. The fifth consecutive failed attempt sets locked_until to
// now + 30 minutes; further failures while locked increment the counter but
// never extend the window. A successful login resets the counter, clears the
// lock and stamps last_login.
//
// Under concurrent login attempts the counter is best-effort: the account
// reliably locks at or after the threshold, never before.
//
// # Forced Password Change
//
// password_must_change gates authenticated sessions into the password-change
// flow (enforced by internal/webapp middleware). SetPassword clears the flag;
// SetPasswordUnchecked and AdminResetPassword set it.
package auth
