// Package server is the orchestrator that ties the relay's components together.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eventdesk/chatrelay/internal/api"
	"github.com/eventdesk/chatrelay/internal/auth"
	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/internal/router"
	"github.com/eventdesk/chatrelay/internal/store"
)

// Server is the main chatrelay process.
type Server struct {
	cfg          *config.Config
	store        store.Store
	authProvider auth.Provider
	router       *router.Router
	api          *api.Server
	logger       *slog.Logger
}

// New creates a new Server from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Creates the initial admin for providers that own a user table.
	if err := authProvider.Bootstrap(ctx); err != nil {
		closeProvider(authProvider)
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	rt := router.New(authProvider, logger, router.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		SendQueue:       cfg.Relay.SendQueue,
		PingInterval:    cfg.Relay.PingInterval.Duration,
		PongWait:        cfg.Relay.PongWait.Duration,
	})

	s := &Server{
		cfg:          cfg,
		store:        db,
		authProvider: authProvider,
		router:       rt,
		api:          api.NewServer(db, authProvider, rt, cfg, logger),
		logger:       logger.With("component", "server"),
	}

	if cfg.Auth.InitialAdmin != nil &&
		cfg.Auth.InitialAdmin.Username == "admin" && cfg.Auth.InitialAdmin.Password == "admin" {
		s.logger.Warn("default admin credentials detected (admin/admin), change immediately in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			s.logger.Warn("allowed_origins contains wildcard '*', restrict to the CRM origin in production")
			break
		}
	}
	s.logger.Info("auth provider ready", "provider", authProvider.Name(), "cookie", authProvider.CookieName())

	return s, nil
}

// Handler returns the HTTP handler serving the API and the chat endpoint.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.api.StartBackgroundTasks(ctx)
	go s.runPurger(ctx, time.Hour)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chatrelay listening", "addr", s.cfg.Server.Addr)
		if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			s.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by http.Server.
		if err := s.router.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("relay shutdown incomplete", "error", err, "open_connections", s.router.ConnCount())
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			s.logger.Info("http server stopped gracefully")
		}

		s.close()
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		s.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) close() {
	closeProvider(s.authProvider)
	s.logger.Info("closing store")
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store", "error", err)
	}
}

// closeProvider releases providers that hold a connection (redis).
func closeProvider(p auth.Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

func (s *Server) runPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx, time.Now())
		}
	}
}

// purge drops expired web sessions and messages older than the retention window.
func (s *Server) purge(ctx context.Context, now time.Time) {
	if n, err := s.store.PurgeExpiredWebSessions(ctx, now); err != nil {
		s.logger.Warn("purge: web sessions failed", "error", err)
	} else if n > 0 {
		s.logger.Info("purge: deleted expired web sessions", "count", n)
	}

	if retention := s.cfg.Storage.Retention.Duration; retention > 0 {
		if n, err := s.store.PurgeOldMessages(ctx, now.Add(-retention)); err != nil {
			s.logger.Warn("purge: messages failed", "error", err)
		} else if n > 0 {
			s.logger.Info("purge: deleted old messages", "count", n)
		}
	}
}
