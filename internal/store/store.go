// Package store defines the persistence interface behind the relay's
// collaborators (users, web sessions, conversations, transcripts and agent
// presence) and provides SQLite and PostgreSQL implementations.
//
// The relay itself never touches the store: it only routes frames. The store
// backs the builtin session authenticator and the HTTP API that calls into
// the relay after persisting.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for chatrelay.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Web sessions
	CreateWebSession(ctx context.Context, sess *WebSession) error
	GetWebSession(ctx context.Context, token string) (*WebSession, error)
	DeleteWebSession(ctx context.Context, token string) error
	PurgeExpiredWebSessions(ctx context.Context, now time.Time) (int64, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) (int64, error)
	GetMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error)
	PurgeOldMessages(ctx context.Context, before time.Time) (int64, error)

	// Agent presence
	SetAgentStatus(ctx context.Context, status *AgentStatus) error
	ListAgentStatuses(ctx context.Context) ([]AgentStatus, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Roles.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
	RoleUser  = "user"
)

// User is a CRM user able to sign in to the staff dashboard.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "admin", "agent" or "user"
	CreatedAt    time.Time `json:"created_at"`
}

// WebSession is an opaque cookie token bound to a user.
type WebSession struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *WebSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Conversation is a visitor chat thread.
type Conversation struct {
	ID          string    `json:"id"`
	VisitorID   string    `json:"visitor_id"`
	VisitorName string    `json:"visitor_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is a stored chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id,omitempty"`
	SenderType     string    `json:"sender_type"` // "visitor" or "agent"
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentStatus is the last known presence of a staff user.
type AgentStatus struct {
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	Status        string    `json:"status"`
	StatusMessage string    `json:"status_message,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
