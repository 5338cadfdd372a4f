package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
)

// Settings keys are namespaced by prefix: agent model overrides under
// agent_override:<agentKey>, prompt overrides under prompt:<agentKey>.
const (
	agentOverridePrefix = "agent_override:"
	promptPrefix        = "prompt:"
)

// ModelOverride replaces an agent's provider/model binding at runtime.
type ModelOverride struct {
	Provider config.ProviderType `json:"provider"`
	Model    string              `json:"model"`
}

// SettingsStore is the app_settings key-value table.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore creates a SettingsStore.
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for a key, or ErrNotFound.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a key-value pair.
func (s *SettingsStore) Set(httpCtx context.Context, key, value string) error {
	if key == "" {
		return NewValidationError("key", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *SettingsStore) Delete(httpCtx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// AgentOverride returns the runtime model override for an agent, or
// ErrNotFound when none is set.
func (s *SettingsStore) AgentOverride(ctx context.Context, agentKey string) (*ModelOverride, error) {
	value, err := s.Get(ctx, agentOverridePrefix+agentKey)
	if err != nil {
		return nil, err
	}
	var ov ModelOverride
	if err := json.Unmarshal([]byte(value), &ov); err != nil {
		return nil, fmt.Errorf("failed to parse override for %s: %w", agentKey, err)
	}
	return &ov, nil
}

// SetAgentOverride stores a runtime model override for an agent.
func (s *SettingsStore) SetAgentOverride(httpCtx context.Context, agentKey string, ov ModelOverride) error {
	if !ov.Provider.IsValid() {
		return NewValidationError("provider", "invalid value")
	}
	if ov.Model == "" {
		return NewValidationError("model", "required")
	}
	value, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("failed to marshal override: %w", err)
	}
	return s.Set(httpCtx, agentOverridePrefix+agentKey, string(value))
}

// ClearAgentOverride removes an agent's runtime model override.
func (s *SettingsStore) ClearAgentOverride(httpCtx context.Context, agentKey string) error {
	return s.Delete(httpCtx, agentOverridePrefix+agentKey)
}

// PromptOverride returns the stored system prompt override for an agent, or
// ErrNotFound.
func (s *SettingsStore) PromptOverride(ctx context.Context, agentKey string) (string, error) {
	return s.Get(ctx, promptPrefix+agentKey)
}

// SetPromptOverride stores a system prompt override for an agent.
func (s *SettingsStore) SetPromptOverride(httpCtx context.Context, agentKey, prompt string) error {
	return s.Set(httpCtx, promptPrefix+agentKey, prompt)
}

// ClearPromptOverride removes an agent's prompt override.
func (s *SettingsStore) ClearPromptOverride(httpCtx context.Context, agentKey string) error {
	return s.Delete(httpCtx, promptPrefix+agentKey)
}
