// Package api provides the HTTP API and middleware for the chat relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventdesk/chatrelay/internal/auth"
	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/internal/store"
	"github.com/eventdesk/chatrelay/pkg/protocol"
)

// Relay is the part of the chat relay the API calls into.
type Relay interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	BroadcastMessage(ev protocol.MessageEvent)
	BroadcastAgentStatus(userID, userName, status, statusMessage string)
}

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider // nil for providers without password login
	relay         Relay
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	maxBodyBytes  int64
	sessionTTL    time.Duration
	secureCookies bool
	loginRL       *rateLimiter
	visitorRL     *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, ap auth.Provider, relay Relay, cfg *config.Config, logger *slog.Logger) *Server {
	lp, _ := ap.(auth.LoginProvider)
	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		relay:         relay,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		maxBodyBytes:  cfg.Server.MaxBodyBytes,
		sessionTTL:    cfg.Auth.SessionTTL.Duration,
		secureCookies: cfg.Server.SecureCookies,
		visitorRL:     newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		rl:            newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health and metrics (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	// Chat relay (session resolved inside, once, at accept)
	mux.Get("/ws/chat", relay.HandleWS)

	mux.Group(func(r chi.Router) {
		r.Use(instrumentMiddleware)

		// Login routes only registered for providers that own a user table.
		if lp != nil {
			srv.loginRL = newRateLimiter(5, 10)
			r.With(ipRateLimitMiddleware(srv.loginRL, "too many login attempts")).Post("/api/auth/login", srv.handleLogin)
			r.Post("/api/auth/logout", srv.handleLogout)
		}

		// Visitor routes
		r.Group(func(r chi.Router) {
			r.Use(ipRateLimitMiddleware(srv.visitorRL, "rate limit exceeded"))
			r.Use(srv.optionalAuthMiddleware)
			r.Post("/api/conversations", srv.handleCreateConversation)
			r.Get("/api/conversations/{conversationID}/messages", srv.handleGetMessages)
			r.Post("/api/conversations/{conversationID}/messages", srv.handlePostMessage)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(srv.authMiddleware)
			r.Use(rateLimitMiddleware(srv.rl))

			r.Get("/api/me", srv.handleGetMe)

			r.Group(func(r chi.Router) {
				r.Use(srv.staffMiddleware)
				r.Get("/api/conversations", srv.handleListConversations)
				r.Get("/api/agents", srv.handleListAgents)
				r.Put("/api/agents/status", srv.handleSetAgentStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(srv.adminMiddleware)
				r.Get("/api/users", srv.handleListUsers)
				if lp != nil {
					r.Post("/api/users", srv.handleCreateUser)
				}
			})
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	for _, rl := range []*rateLimiter{s.loginRL, s.visitorRL, s.rl} {
		if rl != nil {
			rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
		}
	}
}

// --- Auth handlers ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}

	token, user, err := s.loginProvider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("login failed", "username", req.Username, "error", err)
		} else {
			s.logger.Info("login rejected", "username", req.Username)
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.authProvider.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.sessionTTL),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("login", "user_id", user.ID, "role", user.Role)

	writeJSON(w, http.StatusOK, map[string]string{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.authProvider.CookieName()); err == nil && c.Value != "" {
		if err := s.loginProvider.Logout(r.Context(), c.Value); err != nil {
			s.logger.Warn("logout failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.authProvider.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":           identity.UserID,
		"display_name": identity.DisplayName,
		"role":         identity.Role,
	})
}

// --- Admin handlers ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		Role        string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "password must be 8-128 characters")
		return
	}
	switch req.Role {
	case "", store.RoleAdmin, store.RoleAgent, store.RoleUser:
	default:
		writeError(w, http.StatusBadRequest, "role must be admin, agent or user")
		return
	}

	user, err := s.loginProvider.Register(r.Context(), req.Username, req.DisplayName, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
