// ABOUTME: JSON API surface: routing, session and token auth, request context
// ABOUTME: Handlers live in sibling files split by area (auth, books, admin)

package webapp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
	"github.com/bibliotheca-app/bibliotheca/internal/stats"
	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

// Username validation regex: starts with a letter, alphanumeric + underscores, 3-32 characters
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,31}$`)

const (
	// SessionCookieName is the name of the browser session cookie
	SessionCookieName = "bibliotheca_session"

	// DefaultSessionDuration is how long browser sessions last
	DefaultSessionDuration = 7 * 24 * time.Hour

	// DefaultTokenDuration is how long API bearer tokens last
	DefaultTokenDuration = 24 * time.Hour
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userContextKey contextKey = "current_user"

// Store combines the persistence interfaces the API needs.
type Store interface {
	store.UserStore
	store.BookStore
	store.ReadingLogStore
	store.SessionStore
	store.ResetTokenStore
}

// Config holds API configuration.
type Config struct {
	SessionDuration time.Duration
	TokenDuration   time.Duration
}

// App handles the JSON API routes.
type App struct {
	store    Store
	accounts *auth.Accounts
	tokens   *auth.TokenIssuer
	stats    *stats.Service
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the API handler.
func New(s Store, accounts *auth.Accounts, tokens *auth.TokenIssuer, statsService *stats.Service, cfg Config) *App {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultSessionDuration
	}
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = DefaultTokenDuration
	}
	return &App{
		store:    s,
		accounts: accounts,
		tokens:   tokens,
		stats:    statsService,
		config:   cfg,
		logger:   slog.Default().With("component", "webapp"),
		now:      time.Now,
	}
}

// Routes registers all API routes on the mux.
func (a *App) Routes(mux *http.ServeMux) {
	// Public
	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/auth/reset/request", a.handleResetRequest)
	mux.HandleFunc("POST /api/auth/reset/confirm", a.handleResetConfirm)

	// Authenticated; password change is reachable even when a change is forced
	mux.HandleFunc("POST /api/auth/logout", a.requireUser(a.handleLogout))
	mux.HandleFunc("POST /api/auth/password", a.requireUser(a.handleChangePassword))
	mux.HandleFunc("GET /api/profile", a.requireUser(a.handleProfile))

	// Authenticated and gated behind any forced password change
	mux.HandleFunc("PUT /api/profile/privacy", a.gated(a.handleUpdatePrivacy))
	mux.HandleFunc("GET /api/dashboard", a.gated(a.handleDashboard))

	mux.HandleFunc("GET /api/books", a.gated(a.handleBooksList))
	mux.HandleFunc("POST /api/books", a.gated(a.handleBookCreate))
	mux.HandleFunc("GET /api/books/{uid}", a.gated(a.handleBookGet))
	mux.HandleFunc("PUT /api/books/{uid}", a.gated(a.handleBookUpdate))
	mux.HandleFunc("DELETE /api/books/{uid}", a.gated(a.handleBookDelete))
	mux.HandleFunc("POST /api/books/{uid}/start", a.gated(a.handleBookStart))
	mux.HandleFunc("POST /api/books/{uid}/finish", a.gated(a.handleBookFinish))
	mux.HandleFunc("POST /api/books/{uid}/want", a.gated(a.handleBookWant))
	mux.HandleFunc("POST /api/books/{uid}/log", a.gated(a.handleLogCreate))
	mux.HandleFunc("GET /api/books/{uid}/logs", a.gated(a.handleLogsList))

	// Admin
	mux.HandleFunc("GET /api/admin/users", a.requireAdmin(a.handleAdminUsersList))
	mux.HandleFunc("POST /api/admin/users/{id}/unlock", a.requireAdmin(a.handleAdminUnlock))
	mux.HandleFunc("POST /api/admin/users/{id}/password", a.requireAdmin(a.handleAdminResetPassword))
	mux.HandleFunc("POST /api/admin/users/{id}/promote", a.requireAdmin(a.handleAdminPromote))
	mux.HandleFunc("POST /api/admin/users/{id}/deactivate", a.requireAdmin(a.handleAdminDeactivate))
}

// currentUser returns the authenticated user stored in the request context.
func currentUser(r *http.Request) *store.User {
	u, _ := r.Context().Value(userContextKey).(*store.User)
	return u
}

// authenticate resolves the request's user from the session cookie or a
// Bearer token. Returns nil when neither is present and valid.
func (a *App) authenticate(r *http.Request) *store.User {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if session, err := a.store.GetSession(r.Context(), cookie.Value); err == nil {
			if user, err := a.store.GetUser(r.Context(), session.UserID); err == nil {
				return user
			}
		}
	}

	if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
		if claims, err := a.tokens.Verify(header[7:]); err == nil {
			if user, err := a.store.GetUser(r.Context(), claims.Subject); err == nil {
				return user
			}
		}
	}

	return nil
}

// requireUser rejects unauthenticated and deactivated callers.
func (a *App) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := a.authenticate(r)
		if user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !user.IsActive {
			writeError(w, http.StatusForbidden, "account is deactivated")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// gated is requireUser plus the forced-password-change gate: a user flagged
// must-change can only log out, change the password, or read their profile.
func (a *App) gated(next http.HandlerFunc) http.HandlerFunc {
	return a.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).PasswordMustChange {
			writeError(w, http.StatusForbidden, "password change required before continuing")
			return
		}
		next(w, r)
	})
}

// requireAdmin is gated plus an admin check.
func (a *App) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.gated(func(w http.ResponseWriter, r *http.Request) {
		if !currentUser(r).IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

// newSessionID generates a random session identifier.
func newSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process is unusable anyway
		panic(err)
	}
	return hex.EncodeToString(b)
}

func newID() string {
	return uuid.New().String()
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
