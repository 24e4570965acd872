package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSProvider validates session cookies holding JWTs issued by an external
// identity provider, verified against the issuer's published key set.
type JWKSProvider struct {
	issuer     string
	cookieName string
	roleClaim  string
	jwks       keyfunc.Keyfunc
}

// NewJWKSProvider creates a JWKSProvider that fetches keys from the issuer.
func NewJWKSProvider(issuer, cookieName, roleClaim string) (*JWKSProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("jwks issuer URL is required")
	}

	jwksURL := strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return newJWKSProvider(issuer, cookieName, roleClaim, jwks), nil
}

func newJWKSProvider(issuer, cookieName, roleClaim string, jwks keyfunc.Keyfunc) *JWKSProvider {
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &JWKSProvider{issuer: issuer, cookieName: cookieName, roleClaim: roleClaim, jwks: jwks}
}

// ResolveSession parses the cookie's JWT and maps its claims to an Identity.
func (p *JWKSProvider) ResolveSession(ctx context.Context, cookieHeader string) (*Identity, error) {
	tokenStr := cookieValue(cookieHeader, p.cookieName)
	if tokenStr == "" {
		return nil, ErrNoSession
	}

	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}

	// Build a human-readable name from available claims.
	name := sub
	switch {
	case claimStr(claims, "name") != "":
		name = claimStr(claims, "name")
	case claimStr(claims, "given_name") != "" || claimStr(claims, "family_name") != "":
		name = strings.TrimSpace(claimStr(claims, "given_name") + " " + claimStr(claims, "family_name"))
	case claimStr(claims, "preferred_username") != "":
		name = claimStr(claims, "preferred_username")
	case claimStr(claims, "email") != "":
		name = claimStr(claims, "email")
	}

	return &Identity{
		UserID:      sub,
		DisplayName: name,
		Role:        claimStr(claims, p.roleClaim),
	}, nil
}

// Bootstrap is a no-op (users are managed externally).
func (p *JWKSProvider) Bootstrap(ctx context.Context) error {
	return nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func (p *JWKSProvider) Name() string       { return "jwks" }
func (p *JWKSProvider) CookieName() string { return p.cookieName }
