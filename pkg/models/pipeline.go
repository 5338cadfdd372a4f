// Package models contains the business domain types shared across the
// orchestrator: pipeline runs, steps, token records, and review findings.
package models

import "time"

// Intent classifies what the user wants from a pipeline run.
type Intent string

const (
	// IntentBuild creates a new project or adds substantial features
	IntentBuild Intent = "build"
	// IntentFix repairs an existing project, starting from test results
	IntentFix Intent = "fix"
	// IntentQuestion answers a question about the project without writing files
	IntentQuestion Intent = "question"
)

// IsValid checks if the intent is valid
func (i Intent) IsValid() bool {
	return i == IntentBuild || i == IntentFix || i == IntentQuestion
}

// Scope narrows which parts of the project a run may touch.
type Scope string

const (
	// ScopeFrontend limits work to UI components and pages
	ScopeFrontend Scope = "frontend"
	// ScopeBackend limits work to server-side code
	ScopeBackend Scope = "backend"
	// ScopeStyling limits work to styles and theming
	ScopeStyling Scope = "styling"
	// ScopeFull allows the whole project
	ScopeFull Scope = "full"
)

// IsValid checks if the scope is valid
func (s Scope) IsValid() bool {
	switch s {
	case ScopeFrontend, ScopeBackend, ScopeStyling, ScopeFull:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single scheduled agent invocation.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusRetrying  StepStatus = "retrying"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusStopped   StepStatus = "stopped"
)

// IsValid checks if the step status is valid
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusRetrying,
		StepStatusCompleted, StepStatusFailed, StepStatusStopped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusStopped
}

// PipelineRun is one end-to-end orchestration created by a user message.
type PipelineRun struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	ProjectID    string    `json:"project_id"`
	ProjectPath  string    `json:"project_path"`
	UserMessage  string    `json:"user_message"`
	Intent       Intent    `json:"intent"`
	Scope        Scope     `json:"scope"`
	Aborted      bool      `json:"aborted"`
	CurrentBatch int       `json:"current_batch"`
	StartedAt    time.Time `json:"started_at"`
}

// Step is one scheduled invocation of an agent (or agent instance) within a
// pipeline run. InstanceID distinguishes parallel copies of the same agent,
// e.g. "frontend-dev-2" for the second component batch.
type Step struct {
	ID            string     `json:"id"`
	PipelineRunID string     `json:"pipeline_run_id"`
	AgentKey      string     `json:"agent_key"`
	InstanceID    string     `json:"instance_id,omitempty"`
	Input         string     `json:"input"`
	DependsOn     []string   `json:"depends_on,omitempty"`
	RetryCount    int        `json:"retry_count"`
	Status        StepStatus `json:"status"`
	Output        string     `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Name returns the broadcast identity of the step: the instance ID when set,
// otherwise the agent key.
func (s *Step) Name() string {
	if s.InstanceID != "" {
		return s.InstanceID
	}
	return s.AgentKey
}
