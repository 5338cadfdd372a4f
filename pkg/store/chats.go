package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// ChatStore manages projects, chats, and chat messages.
type ChatStore struct {
	db *sql.DB
}

// NewChatStore creates a ChatStore.
func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

// EnsureProject inserts a project row if it does not exist yet. Existing rows
// are left untouched.
func (s *ChatStore) EnsureProject(httpCtx context.Context, id, name, path string) error {
	if id == "" {
		return NewValidationError("project_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		id, name, path, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to ensure project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *ChatStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id)

	var p models.Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// EnsureChat inserts a chat row if it does not exist yet.
func (s *ChatStore) EnsureChat(httpCtx context.Context, id, projectID, title string) error {
	if id == "" {
		return NewValidationError("chat_id", "required")
	}
	if projectID == "" {
		return NewValidationError("project_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats (id, project_id, title, created_at) VALUES (?, ?, ?, ?)`,
		id, projectID, title, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to ensure chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *ChatStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, created_at FROM chats WHERE id = ?`, id)

	var c models.Chat
	var createdAt string
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// AddMessage appends a message to a chat and returns the stored row.
func (s *ChatStore) AddMessage(httpCtx context.Context, req models.AddMessageRequest) (*models.Message, error) {
	if req.ChatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	if req.Role == "" {
		return nil, NewValidationError("role", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	msg := &models.Message{
		ID:        uuid.New().String(),
		ChatID:    req.ChatID,
		Role:      req.Role,
		AgentKey:  req.AgentKey,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, agent_key, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.AgentKey, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns up to limit most recent messages of a chat in
// chronological order.
func (s *ChatStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, agent_key, content, created_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns every message of a chat in chronological order.
func (s *ChatStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, agent_key, content, created_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY created_at ASC, id ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.AgentKey, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
