package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eventdesk/chatrelay/internal/config"
	"github.com/eventdesk/chatrelay/internal/store"
)

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatrelay.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := loadTestConfig(t, `{
		"server": {"addr": "127.0.0.1:0"},
		"auth": {"initial_admin": {"username": "root", "password": "root-password"}},
		"storage": {"driver": "sqlite", "dsn": ":memory:", "retention": "24h"}
	}`)
	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.store.Close() })
	return s
}

func TestNewBootstrapsAdmin(t *testing.T) {
	s := newTestServer(t)

	user, err := s.store.GetUser(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	if user == nil || user.Role != store.RoleAdmin {
		t.Fatalf("expected bootstrapped admin, got %+v", user)
	}
	if s.authProvider.Name() != "builtin" {
		t.Errorf("provider: got %q", s.authProvider.Name())
	}
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := loadTestConfig(t, `{
		"server": {"addr": "127.0.0.1:0"},
		"auth": {"provider": "redis"},
		"redis": {"addr": "127.0.0.1:1"},
		"storage": {"dsn": ":memory:"}
	}`)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestHandlerServesHealth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestPurge(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	now := time.Now()

	user, err := s.store.GetUser(ctx, "root")
	if err != nil || user == nil {
		t.Fatalf("GetUser: %v", err)
	}
	for token, expires := range map[string]time.Time{"stale": now.Add(-time.Minute), "live": now.Add(time.Hour)} {
		if err := s.store.CreateWebSession(ctx, &store.WebSession{
			Token: token, UserID: user.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: expires,
		}); err != nil {
			t.Fatal(err)
		}
	}

	conv := &store.Conversation{ID: "conv-1", VisitorID: "v-1", CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	for id, at := range map[string]time.Time{"old": now.Add(-48 * time.Hour), "new": now} {
		if _, err := s.store.AppendMessage(ctx, &store.Message{
			ID: id, ConversationID: "conv-1", SenderType: "visitor", Content: id, CreatedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}

	s.purge(ctx, now)

	if sess, _ := s.store.GetWebSession(ctx, "stale"); sess != nil {
		t.Error("expired web session survived purge")
	}
	if sess, _ := s.store.GetWebSession(ctx, "live"); sess == nil {
		t.Error("live web session was purged")
	}
	msgs, err := s.store.GetMessages(ctx, "conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "new" {
		t.Errorf("after purge: got %+v", msgs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
