package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tempora-app/tempora/internal/domain"
)

// SQLiteStore implements Store using SQLite.
//
// SQLite transactions alone do not serialize the read-modify-write of the
// sequence counter and the raw_text field, so writes additionally take a
// per-conversation mutex. Losing that race would silently drop a turn from
// history, which is the one corruption this store must never allow.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			raw_text TEXT NOT NULL DEFAULT '',
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			images TEXT,
			tool_calls TEXT,
			tool_call_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// lockConversation returns the mutex guarding writes to one conversation.
func (s *SQLiteStore) lockConversation(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

// CreateConversation inserts a new, empty conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.ConversationID == "" {
		conv.ConversationID = "conv_" + uuid.New().String()[:8]
	}
	if conv.Name == "" {
		conv.Name = domain.PlaceholderName
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, user_id, name, raw_text, deleted, created_at)
		 VALUES (?, ?, ?, '', 0, ?)`,
		conv.ConversationID, conv.UserID, conv.Name, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with its full ordered history.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	conv, err := s.getConversationRow(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, seq, role, content, images, tool_calls, tool_call_id, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) getConversationRow(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, name, raw_text, deleted, created_at
		 FROM conversations WHERE conversation_id = ?`, conversationID).
		Scan(&conv.ConversationID, &conv.UserID, &conv.Name, &conv.RawText, &deleted, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv.Deleted = deleted != 0
	if conv.Deleted {
		return nil, ErrNotFound
	}
	return &conv, nil
}

// ListConversations returns a user's non-deleted conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, user_id, name, raw_text, created_at
		 FROM conversations WHERE user_id = ? AND deleted = 0
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ConversationID, &conv.UserID, &conv.Name, &conv.RawText, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AppendMessage assigns the next sequence number and stores the message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) (*domain.Message, error) {
	lock := s.lockConversation(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.getConversationRow(ctx, conversationID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to assign sequence: %w", err)
	}

	stored := *msg
	stored.ConversationID = conversationID
	stored.Seq = seq
	if stored.MessageID == "" {
		stored.MessageID = "msg_" + uuid.New().String()[:8]
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	images, err := marshalNullable(stored.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal images: %w", err)
	}
	toolCalls, err := marshalNullable(stored.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool calls: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, seq, role, content, images, tool_calls, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.MessageID, conversationID, seq, string(stored.Role), stored.Content,
		images, toolCalls, nullable(stored.ToolCallID), stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	// Recompute the search text from the full history. O(n) per append, but a
	// whole-value rewrite under the conversation lock cannot lose an update.
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET raw_text = COALESCE(
			(SELECT group_concat(content, ' ') FROM
				(SELECT content FROM messages WHERE conversation_id = ? AND content != '' ORDER BY seq)),
			'')
		 WHERE conversation_id = ?`, conversationID, conversationID); err != nil {
		return nil, fmt.Errorf("failed to update search text: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}
	return &stored, nil
}

// RenameConversation updates the display name.
func (s *SQLiteStore) RenameConversation(ctx context.Context, conversationID, name string) error {
	lock := s.lockConversation(conversationID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET name = ? WHERE conversation_id = ? AND deleted = 0`,
		name, conversationID)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rename: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation flags the conversation deleted. It takes the same
// per-conversation lock as append and rename, so an in-flight append either
// completes before the delete or observes the deleted flag.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	lock := s.lockConversation(conversationID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET deleted = 1 WHERE conversation_id = ? AND deleted = 0`,
		conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessage(rows *sql.Rows) (*domain.Message, error) {
	var msg domain.Message
	var role string
	var images, toolCalls, toolCallID sql.NullString
	if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Seq, &role, &msg.Content,
		&images, &toolCalls, &toolCallID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Role = domain.Role(role)
	if images.Valid && images.String != "" {
		if err := json.Unmarshal([]byte(images.String), &msg.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images: %w", err)
		}
	}
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
	}
	if toolCallID.Valid {
		msg.ToolCallID = toolCallID.String
	}
	return &msg, nil
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case []domain.ToolCall:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
