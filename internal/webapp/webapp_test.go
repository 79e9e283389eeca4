// ABOUTME: End-to-end API tests over a migrated throwaway SQLite store
// ABOUTME: Covers auth flows, lockout messaging, the password gate, books and admin

package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
	"github.com/bibliotheca-app/bibliotheca/internal/migrate"
	"github.com/bibliotheca-app/bibliotheca/internal/stats"
	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

const strongPassword = "Correct-Horse7!"

func newTestApp(t *testing.T) (*App, *http.ServeMux) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := migrate.NewEngine(db, migrate.Config{Path: path})
	plan := migrate.PlanMigration(migrate.Snapshot{}, migrate.DesiredSchema())
	engine.Apply(t.Context(), plan)

	s := store.New(db)
	app := New(s, auth.NewAccounts(s), auth.NewTokenIssuer([]byte("test-secret")), stats.NewService(s), Config{})
	mux := http.NewServeMux()
	app.Routes(mux)
	return app, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func register(t *testing.T, mux *http.ServeMux, username string) {
	t.Helper()
	w := doJSON(t, mux, "POST", "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": strongPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func login(t *testing.T, mux *http.ServeMux, username string) string {
	t.Helper()
	w := doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login":    username,
		"password": strongPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decodeBody(t, w)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	_, mux := newTestApp(t)

	w := doJSON(t, mux, "POST", "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": strongPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["is_admin"])

	w = doJSON(t, mux, "POST", "/api/auth/register", "", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": strongPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["is_admin"])
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	_, mux := newTestApp(t)

	w := doJSON(t, mux, "POST", "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "weak",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w), "requirements")
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": strongPassword,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoginWrongPasswordReportsRemainingAttempts(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "alice", "password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "4 attempts remaining")
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")

	for i := 0; i < auth.LockoutThreshold; i++ {
		doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
			"login": "alice", "password": "wrong-password",
		})
	}

	// Correct credentials rejected while locked
	w := doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "alice", "password": strongPassword,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "locked")
}

func TestLoginSetsSessionCookie(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "alice", "password": strongPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)

	// Cookie authenticates without a bearer token
	req := httptest.NewRequest("GET", "/api/profile", nil)
	req.AddCookie(sessionCookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	_, mux := newTestApp(t)
	w := doJSON(t, mux, "GET", "/api/books", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForcedPasswordChangeGate(t *testing.T) {
	app, mux := newTestApp(t)
	register(t, mux, "alice")
	token := login(t, mux, "alice")

	// Flag the account for a forced change, as an admin reset would
	user, err := app.store.GetUserByUsername(t.Context(), "alice")
	require.NoError(t, err)
	require.NoError(t, app.accounts.SetPasswordUnchecked(t.Context(), user, strongPassword, true))

	w := doJSON(t, mux, "GET", "/api/books", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "password change required")

	// Profile and password change remain reachable
	w = doJSON(t, mux, "GET", "/api/profile", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, "POST", "/api/auth/password", token, map[string]string{
		"current_password": strongPassword,
		"new_password":     "Another-Passw0rd!",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Gate lifts after the change
	w = doJSON(t, mux, "GET", "/api/books", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")
	token := login(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/auth/password", token, map[string]string{
		"current_password": "wrong",
		"new_password":     "Another-Passw0rd!",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBookLifecycle(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")
	token := login(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/books", token, map[string]any{
		"title": "Dune", "author": "Frank Herbert", "isbn": "9780441172719",
		"review": "# Great\n\nA *classic*.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody(t, w)
	uid, _ := created["uid"].(string)
	require.NotEmpty(t, uid)
	assert.Contains(t, created["review_html"], "<em>classic</em>")

	// Start reading
	w = doJSON(t, mux, "POST", "/api/books/"+uid+"/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w), "start_date")

	// Log a reading day and see it on the dashboard streak
	w = doJSON(t, mux, "POST", "/api/books/"+uid+"/log", token, map[string]string{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, mux, "GET", "/api/dashboard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["streak"])

	// Duplicate log for the same day conflicts
	w = doJSON(t, mux, "POST", "/api/books/"+uid+"/log", token, map[string]string{})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Finish
	w = doJSON(t, mux, "POST", "/api/books/"+uid+"/finish", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w), "finish_date")

	// Delete removes it from the library
	w = doJSON(t, mux, "DELETE", "/api/books/"+uid, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, mux, "GET", "/api/books/"+uid, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBooksAreScopedToOwner(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")
	register(t, mux, "bob")
	aliceToken := login(t, mux, "alice")
	bobToken := login(t, mux, "bob")

	w := doJSON(t, mux, "POST", "/api/books", aliceToken, map[string]any{
		"title": "Dune", "author": "Frank Herbert",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	uid := decodeBody(t, w)["uid"].(string)

	// Bob cannot see or touch Alice's book
	w = doJSON(t, mux, "GET", "/api/books/"+uid, bobToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, mux, "DELETE", "/api/books/"+uid, bobToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice") // admin
	register(t, mux, "bob")
	bobToken := login(t, mux, "bob")

	w := doJSON(t, mux, "GET", "/api/admin/users", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminUnlockClearsLockout(t *testing.T) {
	app, mux := newTestApp(t)
	register(t, mux, "alice") // admin
	register(t, mux, "bob")
	adminToken := login(t, mux, "alice")

	for i := 0; i < auth.LockoutThreshold; i++ {
		doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
			"login": "bob", "password": "wrong-password",
		})
	}

	bob, err := app.store.GetUserByUsername(t.Context(), "bob")
	require.NoError(t, err)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/admin/users/%s/unlock", bob.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Bob can log in again immediately
	login(t, mux, "bob")
}

func TestAdminCannotDeactivateLastAdmin(t *testing.T) {
	app, mux := newTestApp(t)
	register(t, mux, "alice") // only admin
	register(t, mux, "bob")
	adminToken := login(t, mux, "alice")

	bob, err := app.store.GetUserByUsername(t.Context(), "bob")
	require.NoError(t, err)
	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/admin/users/%s/promote", bob.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Two admins now; demote attempt via deactivation of self is blocked
	alice, err := app.store.GetUserByUsername(t.Context(), "alice")
	require.NoError(t, err)
	w = doJSON(t, mux, "POST", fmt.Sprintf("/api/admin/users/%s/deactivate", alice.ID), adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Deactivating bob works, leaving alice the last admin
	w = doJSON(t, mux, "POST", fmt.Sprintf("/api/admin/users/%s/deactivate", bob.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAdminResetPasswordForcesChange(t *testing.T) {
	app, mux := newTestApp(t)
	register(t, mux, "alice")
	register(t, mux, "bob")
	adminToken := login(t, mux, "alice")

	bob, err := app.store.GetUserByUsername(t.Context(), "bob")
	require.NoError(t, err)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/admin/users/%s/password", bob.ID), adminToken,
		map[string]string{"new_password": "Reset-Passw0rd!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "bob", "password": "Reset-Passw0rd!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["password_must_change"])
}

func TestPasswordResetFlow(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/auth/reset/request", "", map[string]string{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	token, _ := decodeBody(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = doJSON(t, mux, "POST", "/api/auth/reset/confirm", "", map[string]string{
		"token": token, "new_password": "Fresh-Passw0rd!",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Token is single-use
	w = doJSON(t, mux, "POST", "/api/auth/reset/confirm", "", map[string]string{
		"token": token, "new_password": "Other-Passw0rd!",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// New password works
	w = doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "alice", "password": "Fresh-Passw0rd!",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

// staleResetReads reports reset tokens as unconsumed, the way a confirm
// racing another confirm observes the row before the atomic update settles.
type staleResetReads struct {
	Store
}

func (s staleResetReads) GetResetToken(ctx context.Context, token string) (*store.PasswordResetToken, error) {
	prt, err := s.Store.GetResetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	prt.Used = false
	return prt, nil
}

func TestResetConfirmLoserOfRaceChangesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := migrate.NewEngine(db, migrate.Config{Path: path})
	engine.Apply(t.Context(), migrate.PlanMigration(migrate.Snapshot{}, migrate.DesiredSchema()))

	s := store.New(db)
	app := New(staleResetReads{s}, auth.NewAccounts(s), auth.NewTokenIssuer([]byte("test-secret")), stats.NewService(s), Config{})
	mux := http.NewServeMux()
	app.Routes(mux)

	register(t, mux, "alice")
	w := doJSON(t, mux, "POST", "/api/auth/reset/request", "", map[string]string{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	token, _ := decodeBody(t, w)["token"].(string)
	require.NotEmpty(t, token)

	// A concurrent confirm wins the token between this request's read and
	// its attempt to consume it
	stored, err := s.GetResetToken(t.Context(), token)
	require.NoError(t, err)
	require.NoError(t, s.UseResetToken(t.Context(), stored.ID))

	w = doJSON(t, mux, "POST", "/api/auth/reset/confirm", "", map[string]string{
		"token": token, "new_password": "Stolen-Passw0rd!",
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// The losing confirm must not have touched the password
	w = doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "alice", "password": strongPassword,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, mux, "POST", "/api/auth/login", "", map[string]string{
		"login": "alice", "password": "Stolen-Passw0rd!",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResetConfirmRejectsWeakPasswordWithoutBurningToken(t *testing.T) {
	_, mux := newTestApp(t)
	register(t, mux, "alice")

	w := doJSON(t, mux, "POST", "/api/auth/reset/request", "", map[string]string{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	token, _ := decodeBody(t, w)["token"].(string)

	w = doJSON(t, mux, "POST", "/api/auth/reset/confirm", "", map[string]string{
		"token": token, "new_password": "weak",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// The rejected attempt must not have consumed the token
	w = doJSON(t, mux, "POST", "/api/auth/reset/confirm", "", map[string]string{
		"token": token, "new_password": "Fresh-Passw0rd!",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestResetRequestDoesNotRevealUnknownEmail(t *testing.T) {
	_, mux := newTestApp(t)

	w := doJSON(t, mux, "POST", "/api/auth/reset/request", "", map[string]string{
		"email": "nobody@example.com",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotContains(t, decodeBody(t, w), "token")
}
