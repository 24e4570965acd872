package auth

import (
	"context"
	"net/http"

	"github.com/eventdesk/chatrelay/internal/store"
)

// Identity is the verified user behind a session cookie.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string // "admin", "agent" or "user"
}

// IsStaff reports whether the identity may act as an agent.
func (i *Identity) IsStaff() bool {
	if i == nil {
		return false
	}
	return i.Role == store.RoleAdmin || i.Role == store.RoleAgent
}

// IsAdmin reports whether the identity may manage users.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == store.RoleAdmin
}

// Provider resolves the raw Cookie header of a request to an identity.
// Callers treat any error, or a nil identity, as "no verified identity".
// ErrNoSession means the cookie was absent.
type Provider interface {
	ResolveSession(ctx context.Context, cookieHeader string) (*Identity, error)
	Bootstrap(ctx context.Context) error
	CookieName() string
	Name() string
}

// LoginProvider is implemented by providers that support username/password login.
type LoginProvider interface {
	// Login verifies credentials and returns the cookie value for a new session.
	Login(ctx context.Context, username, password string) (string, *store.User, error)
	Logout(ctx context.Context, token string) error
	Register(ctx context.Context, username, displayName, password, role string) (*store.User, error)
}

// cookieValue extracts one cookie from a raw Cookie header.
func cookieValue(header, name string) string {
	if header == "" {
		return ""
	}
	r := http.Request{Header: http.Header{"Cookie": {header}}}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func identityFromUser(u *store.User) *Identity {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return &Identity{UserID: u.ID, DisplayName: name, Role: u.Role}
}
