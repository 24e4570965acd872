package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping Postgres tests")
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestPostgresMigration verifies that migrations run without error on a fresh database.
func TestPostgresMigration(t *testing.T) {
	s := newTestPostgresStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// TestPostgresFullFlow exercises login and chat persistence:
// user -> web session -> conversation -> messages -> presence.
func TestPostgresFullFlow(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	suffix := uuid.New().String()[:8]

	u := createTestUser(t, s, "agent_"+suffix, RoleAgent)

	token := "tok-" + suffix
	now := time.Now()
	if err := s.CreateWebSession(ctx, &WebSession{Token: token, UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateWebSession: %v", err)
	}
	ws, err := s.GetWebSession(ctx, token)
	if err != nil || ws == nil || ws.UserID != u.ID {
		t.Fatalf("GetWebSession: got %+v, %v", ws, err)
	}

	conv := createTestConversation(t, s, "visitor_"+suffix)
	for i := 1; i <= 2; i++ {
		seq, err := s.AppendMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       u.ID,
			SenderType:     "agent",
			Content:        "reply",
			CreatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if seq != int64(i) {
			t.Errorf("seq: got %d, want %d", seq, i)
		}
	}
	msgs, err := s.GetMessages(ctx, conv.ID, 0, 10)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("GetMessages: got %d, %v", len(msgs), err)
	}

	if err := s.SetAgentStatus(ctx, &AgentStatus{UserID: u.ID, DisplayName: u.DisplayName, Status: "online", UpdatedAt: now}); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}

	if err := s.DeleteWebSession(ctx, token); err != nil {
		t.Fatalf("DeleteWebSession: %v", err)
	}
	if ws, _ := s.GetWebSession(ctx, token); ws != nil {
		t.Error("session still present after delete")
	}
}
