package events

import "encoding/json"

// AgentStatusPayload reports an agent lifecycle transition.
// Published on every scheduler-visible state change of a step.
type AgentStatusPayload struct {
	Type      string `json:"type"` // always EventTypeAgentStatus
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Status    string `json:"status"`            // running, retrying, completed, failed, paused, stopped, warning
	Attempt   int    `json:"attempt,omitempty"` // set for retrying
	Error     string `json:"error,omitempty"`   // set for failed
	Message   string `json:"message,omitempty"` // extra context (budget warnings, pause reason)
	Timestamp string `json:"timestamp"`         // RFC3339Nano
}

// ThinkingToolCall describes a tool invocation surfaced in the thinking
// stream. Args carries the raw JSON input the model produced.
type ThinkingToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// AgentThinkingPayload carries the live thinking feed for one agent
// invocation: started once, streaming repeatedly (throttled), then a
// terminal completed or failed carrying the summary.
type AgentThinkingPayload struct {
	Type        string            `json:"type"` // always EventTypeAgentThinking
	ChatID      string            `json:"chatId"`
	AgentName   string            `json:"agentName"`
	DisplayName string            `json:"displayName"`
	Status      string            `json:"status"`            // started, streaming, completed, failed
	Chunk       string            `json:"chunk,omitempty"`   // streaming only
	Summary     string            `json:"summary,omitempty"` // completed only
	ToolCall    *ThinkingToolCall `json:"toolCall,omitempty"`
	Timestamp   string            `json:"timestamp"` // RFC3339Nano
}

// AgentStreamPayload carries raw assistant text deltas, batched by the
// runner's stream throttle.
type AgentStreamPayload struct {
	Type      string `json:"type"` // always EventTypeAgentStream
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentErrorPayload reports a terminal agent failure after retries.
type AgentErrorPayload struct {
	Type      string `json:"type"` // always EventTypeAgentError
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// FilesChangedPayload lists project-relative paths written by agent tools.
// Every path has already passed sandbox containment checks.
type FilesChangedPayload struct {
	Type      string   `json:"type"` // always EventTypeFilesChanged
	ProjectID string   `json:"projectId"`
	Files     []string `json:"files"`
	Timestamp string   `json:"timestamp"` // RFC3339Nano
}

// TokenUsagePayload reports one LLM call's token consumption and cost.
// Published once per call, when the record is finalized with real counts.
type TokenUsagePayload struct {
	Type                     string  `json:"type"` // always EventTypeTokenUsage
	ChatID                   string  `json:"chatId"`
	AgentName                string  `json:"agentName"`
	Provider                 string  `json:"provider"`
	Model                    string  `json:"model"`
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens,omitempty"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens,omitempty"`
	TotalTokens              int     `json:"totalTokens"`
	CostEstimate             float64 `json:"costEstimate"`
	Timestamp                string  `json:"timestamp"` // RFC3339Nano
}

// ChatMessagePayload carries an assistant-authored chat message
// (pipeline summaries, budget notices) already persisted to the chat.
type ChatMessagePayload struct {
	Type      string `json:"type"` // always EventTypeChatMessage
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PipelineHaltedPayload is published when a fatal failure stops the
// pipeline before all steps completed.
type PipelineHaltedPayload struct {
	Type        string `json:"type"` // always EventTypePipelineHalted
	ChatID      string `json:"chatId"`
	FailedAgent string `json:"failedAgent"`
	Reason      string `json:"reason"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}
