package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS web_sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_web_sessions_expires_at ON web_sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			visitor_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_type TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
		`CREATE TABLE IF NOT EXISTS agent_statuses (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, display_name, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		user.ID, user.Username, user.DisplayName, user.PasswordHash, user.Role, user.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, display_name, password_hash, role, created_at FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, display_name, password_hash, role, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, display_name, role, created_at FROM users ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *PostgresStore) CreateWebSession(ctx context.Context, sess *WebSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO web_sessions (token, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)",
		sess.Token, sess.UserID, sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetWebSession(ctx context.Context, token string) (*WebSession, error) {
	var ws WebSession
	err := s.db.QueryRowContext(ctx,
		"SELECT token, user_id, created_at, expires_at FROM web_sessions WHERE token = $1", token,
	).Scan(&ws.Token, &ws.UserID, &ws.CreatedAt, &ws.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ws, err
}

func (s *PostgresStore) DeleteWebSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM web_sessions WHERE token = $1", token)
	return err
}

func (s *PostgresStore) PurgeExpiredWebSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM web_sessions WHERE expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Conversations ---

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, visitor_id, visitor_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		conv.ID, conv.VisitorID, conv.VisitorName, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, visitor_id, visitor_name, created_at, updated_at FROM conversations WHERE id = $1", id,
	).Scan(&c.ID, &c.VisitorID, &c.VisitorName, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *PostgresStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, visitor_id, visitor_name, created_at, updated_at FROM conversations ORDER BY updated_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *PostgresStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE conversations SET updated_at = $1 WHERE id = $2", at, id)
	return err
}

// --- Messages ---

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, sender_id, sender_type, sender_name, content, created_at)
		 VALUES ($1, $2, (SELECT COALESCE(MAX(seq),0)+1 FROM messages WHERE conversation_id = $3), $4, $5, $6, $7, $8)
		 RETURNING seq`,
		msg.ID, msg.ConversationID, msg.ConversationID, msg.SenderID, msg.SenderType, msg.SenderName,
		msg.Content, msg.CreatedAt,
	).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, sender_id, sender_type, sender_name, content, created_at
		 FROM messages WHERE conversation_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *PostgresStore) PurgeOldMessages(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Agent presence ---

func (s *PostgresStore) SetAgentStatus(ctx context.Context, st *AgentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_statuses (user_id, display_name, status, status_message, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT(user_id) DO UPDATE SET display_name=EXCLUDED.display_name, status=EXCLUDED.status,
		 status_message=EXCLUDED.status_message, updated_at=EXCLUDED.updated_at`,
		st.UserID, st.DisplayName, st.Status, st.StatusMessage, st.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListAgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, display_name, status, status_message, updated_at FROM agent_statuses ORDER BY display_name",
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
