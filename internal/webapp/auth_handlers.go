// ABOUTME: Authentication endpoints: register, login, logout, password and privacy
// ABOUTME: Login drives the lockout state machine and issues both session and token

package webapp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

// resetTokenDuration is how long a password reset token stays valid.
const resetTokenDuration = time.Hour

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister creates an account. The first account in an empty store
// becomes an admin so a fresh deployment is administrable.
func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if !usernameRegex.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-32 characters, letters, digits and underscores")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if !auth.IsPasswordStrong(req.Password) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":        "password does not meet security requirements",
			"requirements": auth.PasswordRequirements(),
		})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error("hashing password", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	count, err := a.store.CountUsers(r.Context())
	if err != nil {
		a.logger.Error("counting users", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	now := a.now()
	user := &store.User{
		ID:                   newID(),
		Username:             req.Username,
		Email:                req.Email,
		PasswordHash:         hash,
		IsAdmin:              count == 0,
		IsActive:             true,
		CreatedAt:            now,
		PasswordChangedAt:    &now,
		ShareCurrentReading:  true,
		ShareReadingActivity: true,
		ShareLibrary:         true,
	}

	if err := a.store.CreateUser(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, store.ErrUsernameExists):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, store.ErrEmailExists):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			a.logger.Error("creating user", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, userResponse(user))
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// handleLogin authenticates credentials, sets the session cookie and returns
// a bearer token. Failed attempts surface the remaining-attempt count so
// clients can warn before lockout.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.accounts.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			writeError(w, http.StatusForbidden, auth.ErrAccountLocked.Error())
		case errors.Is(err, auth.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, auth.ErrAccountDisabled.Error())
		case errors.Is(err, auth.ErrInvalidCredentials):
			msg := "invalid username/email or password"
			if user != nil {
				if remaining := auth.RemainingAttempts(user); remaining > 0 {
					msg = fmt.Sprintf("%s (%d attempts remaining before lockout)", msg, remaining)
				} else {
					msg = auth.ErrAccountLocked.Error()
				}
			}
			writeError(w, http.StatusUnauthorized, msg)
		default:
			a.logger.Error("authenticating", "error", err)
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	now := a.now()
	session := &store.Session{
		ID:        newSessionID(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.config.SessionDuration),
	}
	if err := a.store.CreateSession(r.Context(), session); err != nil {
		a.logger.Error("creating session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	// Expired sessions are swept opportunistically at login time
	if err := a.store.DeleteExpiredSessions(r.Context()); err != nil {
		a.logger.Warn("sweeping expired sessions", "error", err)
	}

	token, err := a.tokens.Issue(user, a.config.TokenDuration)
	if err != nil {
		a.logger.Error("generating token", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"token":                token,
		"user":                 userResponse(user),
		"password_must_change": user.PasswordMustChange,
	})
}

// handleLogout deletes the session and clears the cookie.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := a.store.DeleteSession(r.Context(), cookie.Value); err != nil &&
			!errors.Is(err, store.ErrSessionNotFound) {
			a.logger.Warn("deleting session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword verifies the current password then applies the policy
// to the new one. This endpoint stays reachable under a forced change.
func (a *App) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := currentUser(r)
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	if err := a.accounts.SetPassword(r.Context(), user, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":        "password does not meet security requirements",
				"requirements": auth.PasswordRequirements(),
			})
			return
		}
		a.logger.Error("setting password", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// handleProfile returns the caller's account details.
func (a *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userResponse(currentUser(r)))
}

type privacyRequest struct {
	ShareCurrentReading  *bool `json:"share_current_reading"`
	ShareReadingActivity *bool `json:"share_reading_activity"`
	ShareLibrary         *bool `json:"share_library"`
}

// handleUpdatePrivacy updates the caller's sharing toggles. Omitted fields
// keep their current value.
func (a *App) handleUpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	var req privacyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := currentUser(r)
	if req.ShareCurrentReading != nil {
		user.ShareCurrentReading = *req.ShareCurrentReading
	}
	if req.ShareReadingActivity != nil {
		user.ShareReadingActivity = *req.ShareReadingActivity
	}
	if req.ShareLibrary != nil {
		user.ShareLibrary = *req.ShareLibrary
	}

	if err := a.store.UpdateUserPrivacy(r.Context(), user); err != nil {
		a.logger.Error("updating privacy", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	writeJSON(w, http.StatusOK, userResponse(user))
}

type resetRequestBody struct {
	Email string `json:"email"`
}

// handleResetRequest creates a password reset token. The response never
// reveals whether the email exists; the token itself would be delivered out
// of band in a full deployment and is returned here for the API consumer.
func (a *App) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accepted := map[string]string{"status": "if the address is registered, a reset token has been issued"}

	user, err := a.store.GetUserByLogin(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	now := a.now()
	token := &store.PasswordResetToken{
		ID:        newID(),
		UserID:    user.ID,
		Token:     hex.EncodeToString(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(resetTokenDuration),
	}
	if err := a.store.CreateResetToken(r.Context(), token); err != nil {
		a.logger.Error("creating reset token", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	accepted["token"] = token.Token
	writeJSON(w, http.StatusAccepted, accepted)
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handleResetConfirm consumes a reset token and sets the new password.
func (a *App) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := a.store.GetResetToken(r.Context(), req.Token)
	if err != nil || token.Used || token.IsExpired(a.now()) {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}

	user, err := a.store.GetUser(r.Context(), token.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}

	if !auth.IsPasswordStrong(req.NewPassword) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":        "password does not meet security requirements",
			"requirements": auth.PasswordRequirements(),
		})
		return
	}

	// Consume the token before touching the password: of two confirms racing
	// on the same token, the loser of the atomic update must change nothing.
	if err := a.store.UseResetToken(r.Context(), token.ID); err != nil {
		if errors.Is(err, store.ErrResetTokenUsed) {
			writeError(w, http.StatusBadRequest, "invalid or expired reset token")
			return
		}
		a.logger.Error("marking reset token used", "token_id", token.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	if err := a.accounts.SetPassword(r.Context(), user, req.NewPassword); err != nil {
		a.logger.Error("resetting password", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset"})
}

// userResponse shapes a user for API output. The password hash never leaves
// the server.
func userResponse(u *store.User) map[string]any {
	resp := map[string]any{
		"id":                     u.ID,
		"username":               u.Username,
		"email":                  u.Email,
		"is_admin":               u.IsAdmin,
		"is_active":              u.IsActive,
		"created_at":             u.CreatedAt,
		"password_must_change":   u.PasswordMustChange,
		"share_current_reading":  u.ShareCurrentReading,
		"share_reading_activity": u.ShareReadingActivity,
		"share_library":          u.ShareLibrary,
	}
	if u.LastLogin != nil {
		resp["last_login"] = u.LastLogin
	}
	return resp
}
