package wizard

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/pkg/cli"
)

func runWizard(t *testing.T, answers ...string) (*config.Config, string) {
	t.Helper()
	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(strings.Join(answers, "\n") + "\n"), Out: out}

	outputPath := filepath.Join(t.TempDir(), "chatrelay.json")
	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	// The generated file must pass the same validation as a hand-written one.
	cfg, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}
	return cfg, out.String()
}

func TestWizard_BuiltinSQLite(t *testing.T) {
	cfg, out := runWizard(t,
		":9090",               // listen address
		"https://crm.example", // allowed origins
		"y",                   // secure cookies
		"1",                   // provider: builtin
		"",                    // cookie name (default)
		"myadmin",             // admin username
		"secretpass",          // admin password
		"1",                   // storage: sqlite
		"./data/chatrelay.db", // sqlite path
	)

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if !slices.Equal(cfg.Server.AllowedOrigins, []string{"https://crm.example"}) {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Server.SecureCookies {
		t.Error("secure_cookies not set")
	}
	if cfg.Auth.Provider != "builtin" || cfg.Auth.CookieName != "chatrelay_session" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Auth.InitialAdmin == nil || cfg.Auth.InitialAdmin.Username != "myadmin" || cfg.Auth.InitialAdmin.Password != "secretpass" {
		t.Errorf("initial_admin = %+v", cfg.Auth.InitialAdmin)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Error("builtin provider should not get a JWT secret")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "./data/chatrelay.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !strings.Contains(out, "chatrelay run") {
		t.Error("next steps not printed")
	}
}

func TestWizard_JWTPostgres(t *testing.T) {
	cfg, _ := runWizard(t,
		"",                                 // listen address (default)
		"",                                 // allowed origins (default)
		"",                                 // secure cookies (default no)
		"2",                                // provider: jwt
		"crm_token",                        // cookie name
		"",                                 // admin username (default)
		"adminpass",                        // admin password
		"2",                                // storage: postgres
		"postgres://u:p@db:5432/chatrelay", // dsn
	)

	if cfg.Auth.Provider != "jwt" || cfg.Auth.CookieName != "crm_token" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Server.SecureCookies {
		t.Error("secure_cookies should default to false")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("jwt_secret length = %d, want >= 32", len(cfg.Auth.JWTSecret))
	}
	if cfg.Auth.InitialAdmin.Username != "admin" {
		t.Errorf("admin username = %q", cfg.Auth.InitialAdmin.Username)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u:p@db:5432/chatrelay" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestWizard_ExternalProviders(t *testing.T) {
	t.Run("jwks", func(t *testing.T) {
		cfg, _ := runWizard(t, "", "", "", "3", "", "https://id.example", "roles", "1", "")
		if cfg.Auth.JWKSIssuer != "https://id.example" || cfg.Auth.RoleClaim != "roles" {
			t.Errorf("auth = %+v", cfg.Auth)
		}
		if cfg.Auth.InitialAdmin != nil {
			t.Error("jwks provider should not bootstrap an admin")
		}
	})
	t.Run("redis", func(t *testing.T) {
		cfg, _ := runWizard(t, "", "", "n", "4", "connect.sid", "redis:6379", "2", "", "1", "")
		if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 || cfg.Redis.KeyPrefix != "sess:" || cfg.Auth.CookieName != "connect.sid" {
			t.Errorf("redis = %+v cookie = %q", cfg.Redis, cfg.Auth.CookieName)
		}
	})
}

func TestRunDefaults(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", ":7000")
	t.Setenv("CHATRELAY_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CHATRELAY_SECURE_COOKIES", "true")
	t.Setenv("CHATRELAY_STORAGE_DSN", filepath.Join(t.TempDir(), "x.db"))

	out := &bytes.Buffer{}
	w := New(&cli.Prompter{In: strings.NewReader(""), Out: out})
	path := filepath.Join(t.TempDir(), "chatrelay.json")
	if err := w.RunDefaults(path); err != nil {
		t.Fatalf("RunDefaults: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" || !cfg.Server.SecureCookies {
		t.Errorf("server = %+v", cfg.Server)
	}
	if want := []string{"https://a.example", "https://b.example"}; !slices.Equal(cfg.Server.AllowedOrigins, want) {
		t.Errorf("allowed_origins = %q, want %q", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Auth.InitialAdmin == nil || len(cfg.Auth.InitialAdmin.Password) != 32 {
		t.Errorf("expected generated admin password, got %+v", cfg.Auth.InitialAdmin)
	}
	if !strings.Contains(out.String(), "Generated admin password") {
		t.Error("generated password not reported")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRunDefaultsErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"CHATRELAY_STORAGE_DRIVER": "postgres"}},
		{"jwks without issuer", map[string]string{"CHATRELAY_AUTH_PROVIDER": "jwks"}},
		{"unknown provider", map[string]string{"CHATRELAY_AUTH_PROVIDER": "ldap"}},
		{"bad secure cookies flag", map[string]string{"CHATRELAY_SECURE_COOKIES": "sometimes"}},
		{"negative redis db", map[string]string{"CHATRELAY_AUTH_PROVIDER": "redis", "CHATRELAY_REDIS_DB": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			w := New(&cli.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}})
			if err := w.RunDefaults(filepath.Join(t.TempDir(), "c.json")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
