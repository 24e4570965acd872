package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/eventdesk/chatrelay/internal/config"
)

// redisGetter is the slice of the redis client the provider needs.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// redisSession is the document the CRM web app writes per session.
type redisSession struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// RedisProvider resolves cookies against sessions written to Redis by the
// main CRM application. Expiry is left to the key TTL.
type RedisProvider struct {
	client     redisGetter
	closer     func() error
	cookieName string
	prefix     string
}

// NewRedisProvider connects to Redis and verifies the connection.
func NewRedisProvider(ctx context.Context, rcfg config.RedisConfig, cookieName string) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", rcfg.Addr, err)
	}
	p := newRedisProvider(client, cookieName, rcfg.KeyPrefix)
	p.closer = client.Close
	return p, nil
}

func newRedisProvider(client redisGetter, cookieName, prefix string) *RedisProvider {
	return &RedisProvider{client: client, cookieName: cookieName, prefix: prefix}
}

// ResolveSession loads the session document named by the cookie.
func (p *RedisProvider) ResolveSession(ctx context.Context, cookieHeader string) (*Identity, error) {
	sid := cookieValue(cookieHeader, p.cookieName)
	if sid == "" {
		return nil, ErrNoSession
	}

	raw, err := p.client.Get(ctx, p.prefix+sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var doc redisSession
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode session document: %w", err)
	}
	if doc.UserID == "" {
		return nil, ErrUnauthorized
	}

	name := doc.DisplayName
	if name == "" {
		name = doc.Username
	}
	return &Identity{UserID: doc.UserID, DisplayName: name, Role: doc.Role}, nil
}

// Bootstrap is a no-op (users are managed by the CRM).
func (p *RedisProvider) Bootstrap(ctx context.Context) error { return nil }

// Close releases the redis client.
func (p *RedisProvider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func (p *RedisProvider) Name() string       { return "redis" }
func (p *RedisProvider) CookieName() string { return p.cookieName }
