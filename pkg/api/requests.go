package api

import "encoding/json"

// maxUserMessageChars caps the orchestration request message.
const maxUserMessageChars = 100_000

// OrchestrateRequest is the HTTP request body for POST /api/orchestrate.
// Provider credentials travel in headers, never in the body.
type OrchestrateRequest struct {
	ChatID      string `json:"chat_id"`
	ProjectID   string `json:"project_id"`
	ProjectPath string `json:"project_path"`
	UserMessage string `json:"user_message"`
	// Intent and Scope are optional; when absent or invalid the pipeline
	// classifies the message itself.
	Intent string `json:"intent,omitempty"`
	Scope  string `json:"scope,omitempty"`
	// ResearchJSON skips the research agent when the caller already has
	// feature research for this request.
	ResearchJSON string `json:"research_json,omitempty"`
	// TestResults is a vitest JSON report attached to fix requests.
	TestResults json.RawMessage `json:"test_results,omitempty"`
}

// ResumeRequest is the HTTP request body for POST /api/orchestrate/resume.
// PipelineRunID is optional; empty means "the latest interrupted run for
// this chat".
type ResumeRequest struct {
	ChatID        string `json:"chat_id"`
	PipelineRunID string `json:"pipeline_run_id,omitempty"`
}

// AbortRequest is the HTTP request body for POST /api/orchestrate/abort.
type AbortRequest struct {
	ChatID string `json:"chat_id"`
}

// ModelOverrideRequest is the body for PUT /api/settings/agents/:key/model.
type ModelOverrideRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// PromptOverrideRequest is the body for PUT /api/settings/agents/:key/prompt.
type PromptOverrideRequest struct {
	Prompt string `json:"prompt"`
}
