// ABOUTME: Admin endpoints: user listing, unlock, password reset, role changes
// ABOUTME: Deactivation and demotion guard against removing the last admin

package webapp

import (
	"errors"
	"net/http"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

// handleAdminUsersList returns all accounts with their security state.
func (a *App) handleAdminUsersList(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.logger.Error("listing users", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	now := a.now()
	resp := make([]map[string]any, 0, len(users))
	for _, u := range users {
		entry := userResponse(u)
		entry["failed_login_attempts"] = u.FailedLoginAttempts
		entry["locked"] = u.IsLocked(now)
		if u.LockedUntil != nil {
			entry["locked_until"] = u.LockedUntil
		}
		resp = append(resp, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}

// handleAdminUnlock clears a user's lockout state.
func (a *App) handleAdminUnlock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.accounts.AdminUnlock(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.logger.Error("unlocking user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "unlock failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

type adminPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// handleAdminResetPassword sets a new password on a user's behalf. The target
// must change it at next login.
func (a *App) handleAdminResetPassword(w http.ResponseWriter, r *http.Request) {
	var req adminPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := a.accounts.AdminResetPassword(r.Context(), id, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, auth.ErrWeakPassword):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":        "password does not meet security requirements",
				"requirements": auth.PasswordRequirements(),
			})
		default:
			a.logger.Error("resetting password", "user_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "reset failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset, change required at next login"})
}

// handleAdminPromote grants admin to a user.
func (a *App) handleAdminPromote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.SetUserAdmin(r.Context(), id, true); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.logger.Error("promoting user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "promote failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

// handleAdminDeactivate disables an account. The last active admin cannot be
// deactivated, and admins cannot deactivate themselves.
func (a *App) handleAdminDeactivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == currentUser(r).ID {
		writeError(w, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	target, err := a.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.logger.Error("loading user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deactivate failed")
		return
	}

	if target.IsAdmin {
		admins, err := a.store.CountAdmins(r.Context())
		if err != nil {
			a.logger.Error("counting admins", "error", err)
			writeError(w, http.StatusInternalServerError, "deactivate failed")
			return
		}
		if admins <= 1 {
			writeError(w, http.StatusBadRequest, "cannot deactivate the last admin")
			return
		}
	}

	if err := a.store.SetUserActive(r.Context(), id, false); err != nil {
		a.logger.Error("deactivating user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deactivate failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
