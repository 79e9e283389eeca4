// ABOUTME: Server wiring tests: migration-before-listen and the health endpoint
// ABOUTME: Exercises New against a throwaway store without opening a socket

package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliotheca-app/bibliotheca/internal/config"
	"github.com/bibliotheca-app/bibliotheca/internal/migrate"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Auth:     config.AuthConfig{JWTSecret: "test-secret"},
	}
}

func TestNewMigratesAndSeedsBeforeServing(t *testing.T) {
	cfg := testConfig(t)

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.shutdown() })

	// Schema and seed admin are in place before Run is ever called
	engine := migrate.NewEngine(s.db, migrate.Config{})
	snapshot, err := engine.Inspect(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.HasTable("user"))
	assert.True(t, snapshot.HasTable("book"))

	var admins int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM user WHERE is_admin = 1`).Scan(&admins))
	assert.Equal(t, 1, admins)
}

func TestNewFailsOnWeakSeedPassword(t *testing.T) {
	cfg := testConfig(t)
	cfg.Seed.AdminPassword = "weak"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, migrate.ErrSeedPasswordPolicy)
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// A closed database reports unavailable
	require.NoError(t, s.db.Close())
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, 503, w.Code)
}
