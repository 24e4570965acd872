package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUser is a helper that inserts a user and returns it.
func createTestUser(t *testing.T, s Store, username, role string) *User {
	t.Helper()
	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		DisplayName:  "User " + username,
		PasswordHash: "hash-" + username,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("createTestUser(%s): %v", username, err)
	}
	return u
}

// createTestConversation is a helper that inserts a conversation and returns it.
func createTestConversation(t *testing.T, s Store, visitorID string) *Conversation {
	t.Helper()
	now := time.Now()
	c := &Conversation{
		ID:          uuid.New().String(),
		VisitorID:   visitorID,
		VisitorName: "Visitor " + visitorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("createTestConversation(%s): %v", visitorID, err)
	}
	return c
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice", RoleAdmin)

	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got == nil {
		t.Fatal("GetUser returned nil")
	}
	if got.ID != user.ID {
		t.Errorf("ID: got %q, want %q", got.ID, user.ID)
	}
	if got.DisplayName != "User alice" {
		t.Errorf("DisplayName: got %q", got.DisplayName)
	}
	if got.PasswordHash != "hash-alice" {
		t.Errorf("PasswordHash: got %q", got.PasswordHash)
	}
	if got.Role != RoleAdmin {
		t.Errorf("Role: got %q, want %q", got.Role, RoleAdmin)
	}

	byID, err := s.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID == nil || byID.Username != "alice" {
		t.Errorf("GetUserByID: got %+v", byID)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil user, got %+v", got)
	}

	got, err = s.GetUserByID(ctx, "missing-id")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil user, got %+v", got)
	}
}

func TestDuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "bob", RoleAgent)

	dup := &User{ID: uuid.New().String(), Username: "bob", PasswordHash: "x", Role: RoleUser, CreatedAt: time.Now()}
	if err := s.CreateUser(context.Background(), dup); err == nil {
		t.Fatal("expected unique constraint error for duplicate username")
	}
}

func TestListUsers(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", RoleAdmin)
	createTestUser(t, s, "u2", RoleAgent)

	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("ListUsers: got %d, want 2", len(users))
	}
	for _, u := range users {
		if u.PasswordHash != "" {
			t.Errorf("ListUsers leaked password hash for %s", u.Username)
		}
	}
}

func TestWebSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "carol", RoleAgent)

	now := time.Now()
	live := &WebSession{Token: "tok-live", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	dead := &WebSession{Token: "tok-dead", UserID: u.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, ws := range []*WebSession{live, dead} {
		if err := s.CreateWebSession(ctx, ws); err != nil {
			t.Fatalf("CreateWebSession(%s): %v", ws.Token, err)
		}
	}

	got, err := s.GetWebSession(ctx, "tok-live")
	if err != nil {
		t.Fatalf("GetWebSession: %v", err)
	}
	if got == nil || got.UserID != u.ID {
		t.Fatalf("GetWebSession: got %+v", got)
	}
	if got.Expired(now) {
		t.Error("live session reported as expired")
	}

	n, err := s.PurgeExpiredWebSessions(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredWebSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpiredWebSessions: got %d, want 1", n)
	}
	if got, _ := s.GetWebSession(ctx, "tok-dead"); got != nil {
		t.Error("expired session survived purge")
	}

	if err := s.DeleteWebSession(ctx, "tok-live"); err != nil {
		t.Fatalf("DeleteWebSession: %v", err)
	}
	if got, _ := s.GetWebSession(ctx, "tok-live"); got != nil {
		t.Error("session still present after delete")
	}
	// Deleting twice is not an error.
	if err := s.DeleteWebSession(ctx, "tok-live"); err != nil {
		t.Errorf("second DeleteWebSession: %v", err)
	}
}

func TestConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1 := createTestConversation(t, s, "v-1")
	c2 := createTestConversation(t, s, "v-2")

	got, err := s.GetConversation(ctx, c1.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got == nil || got.VisitorID != "v-1" {
		t.Fatalf("GetConversation: got %+v", got)
	}

	missing, err := s.GetConversation(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetConversation(missing): got %+v, %v", missing, err)
	}

	// Touching c1 moves it to the front.
	if err := s.TouchConversation(ctx, c1.ID, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	list, err := s.ListConversations(ctx, 10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListConversations: got %d, want 2", len(list))
	}
	if list[0].ID != c1.ID || list[1].ID != c2.ID {
		t.Errorf("ListConversations order: got [%s %s], want [%s %s]", list[0].ID, list[1].ID, c1.ID, c2.ID)
	}

	limited, err := s.ListConversations(ctx, 1)
	if err != nil {
		t.Fatalf("ListConversations(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListConversations(limit 1): got %d", len(limited))
	}
}

func TestAppendAndGetMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s, "v-msg")

	for i, content := range []string{"hello", "hi there", "how can I help?"} {
		senderType := "visitor"
		if i%2 == 1 {
			senderType = "agent"
		}
		seq, err := s.AppendMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderType:     senderType,
			Content:        content,
			CreatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
		if seq != int64(i+1) {
			t.Errorf("AppendMessage(%d): seq %d, want %d", i, seq, i+1)
		}
	}

	all, err := s.GetMessages(ctx, conv.ID, 0, 100)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("GetMessages: got %d, want 3", len(all))
	}
	if all[0].Content != "hello" || all[2].Content != "how can I help?" {
		t.Errorf("GetMessages order: got %q .. %q", all[0].Content, all[2].Content)
	}

	after, err := s.GetMessages(ctx, conv.ID, 1, 1)
	if err != nil {
		t.Fatalf("GetMessages(after): %v", err)
	}
	if len(after) != 1 || after[0].Seq != 2 {
		t.Errorf("GetMessages(after 1, limit 1): got %+v", after)
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendMessage(context.Background(), &Message{
		ID:             uuid.New().String(),
		ConversationID: "does-not-exist",
		SenderType:     "visitor",
		Content:        "orphan",
		CreatedAt:      time.Now(),
	})
	if err == nil {
		t.Fatal("expected foreign key error for unknown conversation")
	}
}

func TestPurgeOldMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s, "v-purge")

	old := time.Now().Add(-48 * time.Hour)
	for i, at := range []time.Time{old, old, time.Now()} {
		if _, err := s.AppendMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderType:     "visitor",
			Content:        "m",
			CreatedAt:      at,
		}); err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
	}

	n, err := s.PurgeOldMessages(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldMessages: %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeOldMessages: got %d, want 2", n)
	}
	left, _ := s.GetMessages(ctx, conv.ID, 0, 100)
	if len(left) != 1 {
		t.Errorf("messages left: got %d, want 1", len(left))
	}
}

func TestAgentStatusUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &AgentStatus{UserID: "u-1", DisplayName: "Ann", Status: "online", UpdatedAt: time.Now()}
	if err := s.SetAgentStatus(ctx, st); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	st.Status = "away"
	st.StatusMessage = "lunch"
	if err := s.SetAgentStatus(ctx, st); err != nil {
		t.Fatalf("SetAgentStatus(update): %v", err)
	}
	if err := s.SetAgentStatus(ctx, &AgentStatus{UserID: "u-2", DisplayName: "Ben", Status: "offline", UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("SetAgentStatus(u-2): %v", err)
	}

	list, err := s.ListAgentStatuses(ctx)
	if err != nil {
		t.Fatalf("ListAgentStatuses: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListAgentStatuses: got %d, want 2", len(list))
	}
	if list[0].UserID != "u-1" || list[0].Status != "away" || list[0].StatusMessage != "lunch" {
		t.Errorf("ListAgentStatuses[0]: got %+v", list[0])
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
