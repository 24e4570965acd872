package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/internal/store"
)

// Claims represents the session JWT claims.
type Claims struct {
	UserID      string `json:"uid"`
	Username    string `json:"usr"`
	DisplayName string `json:"name,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider keeps users in the store but carries the session in a signed
// HS256 cookie, so no session row is written.
type JWTProvider struct {
	accounts
	cookieName string
	secret     []byte
	expiry     time.Duration
}

// NewJWTProvider creates a JWT cookie provider.
func NewJWTProvider(s store.Store, cfg config.AuthConfig) *JWTProvider {
	return &JWTProvider{
		accounts:   accounts{store: s, initialAdmin: cfg.InitialAdmin},
		cookieName: cfg.CookieName,
		secret:     []byte(cfg.JWTSecret),
		expiry:     cfg.SessionTTL.Duration,
	}
}

func (p *JWTProvider) Name() string       { return "jwt" }
func (p *JWTProvider) CookieName() string { return p.cookieName }

// Login authenticates a user and returns a signed token.
func (p *JWTProvider) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := p.verify(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := p.generateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, user, nil
}

// Logout is a no-op; the cookie is cleared by the caller.
func (p *JWTProvider) Logout(ctx context.Context, token string) error { return nil }

// ResolveSession validates the cookie's JWT.
func (p *JWTProvider) ResolveSession(ctx context.Context, cookieHeader string) (*Identity, error) {
	tokenStr := cookieValue(cookieHeader, p.cookieName)
	if tokenStr == "" {
		return nil, ErrNoSession
	}
	claims, err := p.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	name := claims.DisplayName
	if name == "" {
		name = claims.Username
	}
	return &Identity{UserID: claims.UserID, DisplayName: name, Role: claims.Role}, nil
}

func (p *JWTProvider) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (p *JWTProvider) generateToken(user *store.User) (string, error) {
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}
