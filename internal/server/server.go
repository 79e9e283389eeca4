// ABOUTME: Server lifecycle: migration pass, store wiring, HTTP listener, shutdown
// ABOUTME: New runs the startup migration before the listener ever opens

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
	"github.com/bibliotheca-app/bibliotheca/internal/config"
	"github.com/bibliotheca-app/bibliotheca/internal/migrate"
	"github.com/bibliotheca-app/bibliotheca/internal/stats"
	"github.com/bibliotheca-app/bibliotheca/internal/store"
	"github.com/bibliotheca-app/bibliotheca/internal/webapp"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server owns the database handle and the HTTP listener.
type Server struct {
	cfg        *config.Config
	db         *sql.DB
	httpServer *http.Server
	logger     *slog.Logger
}

// New opens the database, runs the startup migration pass and wires the API.
// Migration failure aborts startup: the process never serves traffic against
// an uninspectable or unseedable store.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := slog.Default().With("component", "server")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	engine := migrate.NewEngine(db, migrate.Config{
		Path:      cfg.Database.Path,
		BackupDir: cfg.Database.BackupDir,
		Seed: migrate.SeedCredentials{
			Username: cfg.Seed.AdminUsername,
			Email:    cfg.Seed.AdminEmail,
			Password: cfg.Seed.AdminPassword,
		},
	})
	result, err := engine.Run(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running startup migration: %w", err)
	}
	logger.Info("startup migration complete",
		"fresh_store", result.FreshStore,
		"operations", len(result.Plan.Ops),
		"applied", result.Applied)

	sqlStore := store.New(db)
	accounts := auth.NewAccounts(sqlStore)
	tokens := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret))
	statsService := stats.NewService(sqlStore)

	app := webapp.New(sqlStore, accounts, tokens, statsService, webapp.Config{
		SessionDuration: cfg.Auth.SessionDuration,
		TokenDuration:   cfg.Auth.TokenDuration,
	})

	mux := http.NewServeMux()
	app.Routes(mux)
	mux.HandleFunc("GET /health", handleHealth(db))

	return &Server{
		cfg: cfg,
		db:  db,
		httpServer: &http.Server{
			Addr:         cfg.Server.HTTPAddr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		logger: logger,
	}, nil
}

func handleHealth(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Run serves HTTP until the context is canceled or the listener fails, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case serverErr = <-errCh:
		s.logger.Error("http server failed", "error", serverErr)
	}

	shutdownErr := s.shutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// shutdown stops the listener with a fresh timeout context, then closes the
// database handle.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}
