package auth

import (
	"context"
	"fmt"

	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/internal/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(ctx context.Context, cfg *config.Config, s store.Store) (Provider, error) {
	switch cfg.Auth.Provider {
	case "builtin", "":
		return NewService(s, cfg.Auth), nil
	case "jwt":
		return NewJWTProvider(s, cfg.Auth), nil
	case "jwks":
		return NewJWKSProvider(cfg.Auth.JWKSIssuer, cfg.Auth.CookieName, cfg.Auth.RoleClaim)
	case "redis":
		return NewRedisProvider(ctx, cfg.Redis, cfg.Auth.CookieName)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Auth.Provider)
	}
}
