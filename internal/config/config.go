// Package config handles relay configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Relay     RelayConfig     `json:"relay"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Redis     RedisConfig     `json:"redis,omitempty"`
}

// ServerConfig defines the relay's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS and WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
	SecureCookies  bool     `json:"secure_cookies,omitempty"`  // set Secure on the session cookie
}

// AuthConfig defines how connections and HTTP requests are authenticated.
type AuthConfig struct {
	Provider     string        `json:"provider,omitempty"` // "builtin" (default), "jwt", "jwks" or "redis"
	CookieName   string        `json:"cookie_name,omitempty"`
	SessionTTL   Duration      `json:"session_ttl,omitempty"`
	JWTSecret    string        `json:"jwt_secret,omitempty"`
	JWKSIssuer   string        `json:"jwks_issuer,omitempty"` // e.g. "https://login.example.com"
	RoleClaim    string        `json:"role_claim,omitempty"`  // jwks: claim holding the role; default "role"
	InitialAdmin *InitialAdmin `json:"initial_admin,omitempty"`
}

// InitialAdmin is used to bootstrap the first admin user.
type InitialAdmin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver    string   `json:"driver"`              // "sqlite" (default) or "postgres"
	DSN       string   `json:"dsn"`                 // e.g. "chatrelay.db" or ":memory:"
	Retention Duration `json:"retention,omitempty"` // message retention
}

// RelayConfig tunes the WebSocket relay.
type RelayConfig struct {
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty"` // max inbound frame; default 64KB
	SendQueue       int      `json:"send_queue,omitempty"`        // per-connection outbound buffer; default 256
	PingInterval    Duration `json:"ping_interval,omitempty"`     // default 30s
	PongWait        Duration `json:"pong_wait,omitempty"`         // default 60s
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// RedisConfig points the redis auth provider at the CRM's session store.
type RedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"` // default "sess:"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "builtin":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when provider is jwt")
		}
	case "jwks":
		if c.Auth.JWKSIssuer == "" {
			return fmt.Errorf("auth.jwks_issuer is required when provider is jwks")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when provider is redis")
		}
	default:
		return fmt.Errorf("unknown auth.provider %q", c.Auth.Provider)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "chatrelay_session"
	}
	if c.Auth.SessionTTL.Duration == 0 {
		c.Auth.SessionTTL.Duration = 24 * time.Hour
	}
	if c.Auth.RoleClaim == "" {
		c.Auth.RoleClaim = "role"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "chatrelay.db"
	}
	if c.Storage.Retention.Duration == 0 {
		c.Storage.Retention.Duration = 90 * 24 * time.Hour
	}
	if c.Relay.MaxMessageBytes == 0 {
		c.Relay.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Relay.SendQueue == 0 {
		c.Relay.SendQueue = 256
	}
	if c.Relay.PingInterval.Duration == 0 {
		c.Relay.PingInterval.Duration = 30 * time.Second
	}
	if c.Relay.PongWait.Duration == 0 {
		c.Relay.PongWait.Duration = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "sess:"
	}
}
