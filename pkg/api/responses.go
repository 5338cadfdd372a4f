package api

import (
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// OrchestrateResponse is returned by POST /api/orchestrate and /resume.
type OrchestrateResponse struct {
	ChatID        string `json:"chat_id"`
	PipelineRunID string `json:"pipeline_run_id,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// StatusResponse is returned by GET /api/orchestrate/status.
type StatusResponse struct {
	ChatID  string `json:"chat_id"`
	Running bool   `json:"running"`
}

// MessagesResponse is returned by GET /api/chats/:id/messages.
type MessagesResponse struct {
	ChatID   string           `json:"chat_id"`
	Messages []models.Message `json:"messages"`
}

// RunDetailResponse is returned by GET /api/chats/:id/run.
type RunDetailResponse struct {
	Run   *models.PipelineRun `json:"run"`
	Steps []*models.Step      `json:"steps"`
}

// AgentSettings describes one agent's effective configuration plus any
// operator model override layered on top.
type AgentSettings struct {
	Key             string               `json:"key"`
	DisplayName     string               `json:"display_name"`
	Provider        string               `json:"provider"`
	Model           string               `json:"model"`
	Group           string               `json:"group"`
	Tools           bool                 `json:"tools"`
	MaxOutputTokens int                  `json:"max_output_tokens"`
	MaxToolSteps    int                  `json:"max_tool_steps"`
	Override        *store.ModelOverride `json:"override,omitempty"`
}

// AgentSettingsResponse is returned by GET /api/settings/agents.
type AgentSettingsResponse struct {
	Agents []AgentSettings `json:"agents"`
}

// PromptResponse is returned by GET /api/settings/agents/:key/prompt.
type PromptResponse struct {
	AgentKey string `json:"agent_key"`
	Prompt   string `json:"prompt"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	Database      *database.HealthStatus `json:"database"`
	Configuration ConfigurationStats     `json:"configuration"`
	WSConnections int                    `json:"ws_connections"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	Agents    int `json:"agents"`
	Providers int `json:"providers"`
}

// ReconcileResponse is returned by POST /api/admin/reconcile.
type ReconcileResponse struct {
	Stats ledger.ReconcileStats `json:"stats"`
}
