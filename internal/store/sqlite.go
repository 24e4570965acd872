package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Each in-memory store gets its own named database, shared by every
	// pooled connection.
	if dsn == ":memory:" {
		dsn = fmt.Sprintf("file:mem-%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS web_sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_web_sessions_expires_at ON web_sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			visitor_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_type TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
		`CREATE TABLE IF NOT EXISTS agent_statuses (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, display_name, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Username, user.DisplayName, user.PasswordHash, user.Role, user.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, display_name, password_hash, role, created_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, display_name, password_hash, role, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, display_name, role, created_at FROM users ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Web sessions ---

func (s *SQLiteStore) CreateWebSession(ctx context.Context, sess *WebSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO web_sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		sess.Token, sess.UserID, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetWebSession(ctx context.Context, token string) (*WebSession, error) {
	var ws WebSession
	err := s.db.QueryRowContext(ctx,
		"SELECT token, user_id, created_at, expires_at FROM web_sessions WHERE token = ?", token,
	).Scan(&ws.Token, &ws.UserID, &ws.CreatedAt, &ws.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ws, err
}

func (s *SQLiteStore) DeleteWebSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM web_sessions WHERE token = ?", token)
	return err
}

func (s *SQLiteStore) PurgeExpiredWebSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM web_sessions WHERE expires_at <= ?", now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Conversations ---

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, visitor_id, visitor_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		conv.ID, conv.VisitorID, conv.VisitorName, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, visitor_id, visitor_name, created_at, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&c.ID, &c.VisitorID, &c.VisitorName, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, visitor_id, visitor_name, created_at, updated_at FROM conversations ORDER BY updated_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.VisitorID, &c.VisitorName, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", at.UTC(), id,
	)
	return err
}

// --- Messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, sender_id, sender_type, sender_name, content, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq),0)+1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?, ?)
		 RETURNING seq`,
		msg.ID, msg.ConversationID, msg.ConversationID, msg.SenderID, msg.SenderType, msg.SenderName,
		msg.Content, msg.CreatedAt.UTC(),
	).Scan(&seq)
	return seq, err
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, sender_id, sender_type, sender_name, content, created_at
		 FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.SenderType, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) PurgeOldMessages(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE created_at < ?", before.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Agent presence ---

func (s *SQLiteStore) SetAgentStatus(ctx context.Context, st *AgentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_statuses (user_id, display_name, status, status_message, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET display_name=excluded.display_name, status=excluded.status,
		 status_message=excluded.status_message, updated_at=excluded.updated_at`,
		st.UserID, st.DisplayName, st.Status, st.StatusMessage, st.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListAgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, display_name, status, status_message, updated_at FROM agent_statuses ORDER BY display_name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []AgentStatus
	for rows.Next() {
		var st AgentStatus
		if err := rows.Scan(&st.UserID, &st.DisplayName, &st.Status, &st.StatusMessage, &st.UpdatedAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}
