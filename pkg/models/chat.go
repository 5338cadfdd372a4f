package models

import "time"

// Chat groups the messages of one conversation with the orchestrator.
type Chat struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single chat message. Role is "user", "assistant", or "system";
// system messages carry orchestrator notices such as budget stops and
// restart recovery.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	AgentKey  string    `json:"agent_key,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is a generated web project rooted at Path on the local filesystem.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// AddMessageRequest contains fields for inserting a chat message.
type AddMessageRequest struct {
	ChatID   string `json:"chat_id"`
	Role     string `json:"role"`
	AgentKey string `json:"agent_key,omitempty"`
	Content  string `json:"content"`
}
