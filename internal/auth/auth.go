// Package auth resolves session cookies to staff identities and handles
// password login for the providers that own their user table.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNoSession          = errors.New("no session")
)

// accounts holds the user-table operations shared by the builtin and jwt providers.
type accounts struct {
	store        store.Store
	initialAdmin *config.InitialAdmin
}

// Bootstrap creates the configured initial admin user if it does not exist yet.
func (a *accounts) Bootstrap(ctx context.Context) error {
	return a.BootstrapAdmin(ctx, a.initialAdmin)
}

// BootstrapAdmin creates the initial admin user from the given config.
func (a *accounts) BootstrapAdmin(ctx context.Context, admin *config.InitialAdmin) error {
	if admin == nil {
		return nil
	}

	existing, err := a.store.GetUser(ctx, admin.Username)
	if err != nil {
		return fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil // already bootstrapped
	}

	_, err = a.Register(ctx, admin.Username, admin.Username, admin.Password, store.RoleAdmin)
	return err
}

// Register creates a new user account.
func (a *accounts) Register(ctx context.Context, username, displayName, password, role string) (*store.User, error) {
	existing, err := a.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if role == "" {
		role = store.RoleUser
	}
	if displayName == "" {
		displayName = username
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
	}

	if err := a.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// verify checks a username/password pair against the store.
func (a *accounts) verify(ctx context.Context, username, password string) (*store.User, error) {
	user, err := a.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Service is the builtin provider: the cookie carries an opaque web-session
// token looked up in the store. It implements Provider and LoginProvider.
type Service struct {
	accounts
	cookieName string
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService creates a new builtin auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		accounts:   accounts{store: s, initialAdmin: cfg.InitialAdmin},
		cookieName: cfg.CookieName,
		sessionTTL: cfg.SessionTTL.Duration,
		now:        time.Now,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// CookieName returns the session cookie name.
func (s *Service) CookieName() string { return s.cookieName }

// Login authenticates a user and opens a web session.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.verify(ctx, username, password)
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	sess := &store.WebSession{
		Token:     rand.Text(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.CreateWebSession(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("create web session: %w", err)
	}
	return sess.Token, user, nil
}

// Logout deletes the web session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteWebSession(ctx, token)
}

// ResolveSession looks the cookie's session token up in the store.
func (s *Service) ResolveSession(ctx context.Context, cookieHeader string) (*Identity, error) {
	token := cookieValue(cookieHeader, s.cookieName)
	if token == "" {
		return nil, ErrNoSession
	}

	sess, err := s.store.GetWebSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get web session: %w", err)
	}
	if sess == nil || sess.Expired(s.now()) {
		return nil, ErrUnauthorized
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthorized
	}
	return identityFromUser(user), nil
}
