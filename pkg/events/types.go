// Package events provides real-time progress delivery for pipeline runs.
//
// Everything the orchestrator wants the outside world to see — agent
// lifecycle transitions, streaming thinking text, file writes, token
// usage, the final summary — is published as a JSON payload on the
// "agents" topic of an in-process Bus. Subscribers are either Go code
// (tests, background consumers) or WebSocket clients fanned out through
// the ConnectionManager.
//
// Payloads are transient: nothing here is persisted or replayed. A client
// that connects mid-run sees only events published after it subscribed;
// historical state is reconstructed from the REST API instead.
package events

// AgentsTopic is the topic all pipeline progress events are published on.
const AgentsTopic = "agents"

// Event type discriminators (the "type" field of every payload).
const (
	// Agent lifecycle: running, retrying, completed, failed, paused,
	// stopped, warning.
	EventTypeAgentStatus = "agent_status"

	// Streaming thinking text and tool-call activity for one agent
	// invocation: started → streaming (repeated) → completed/failed.
	EventTypeAgentThinking = "agent_thinking"

	// Raw assistant text deltas — high-frequency, throttled upstream.
	EventTypeAgentStream = "agent_stream"

	// Terminal error for one agent after retries are exhausted.
	EventTypeAgentError = "agent_error"

	// Files written to the project workspace by agent tools.
	EventTypeFilesChanged = "files_changed"

	// The finalized token usage record for one LLM call.
	EventTypeTokenUsage = "token_usage"

	// An assistant chat message (summaries, budget notices).
	EventTypeChatMessage = "chat_message"

	// The pipeline stopped before completing all steps.
	EventTypePipelineHalted = "pipeline_halted"
)

// Agent lifecycle status values (AgentStatusPayload.Status).
const (
	AgentStatusRunning   = "running"
	AgentStatusRetrying  = "retrying"
	AgentStatusCompleted = "completed"
	AgentStatusFailed    = "failed"
	AgentStatusPaused    = "paused"
	AgentStatusStopped   = "stopped"
	AgentStatusWarning   = "warning"
)

// Thinking stream status values (AgentThinkingPayload.Status).
const (
	ThinkingStarted   = "started"
	ThinkingStreaming = "streaming"
	ThinkingCompleted = "completed"
	ThinkingFailed    = "failed"
)

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action string `json:"action"`          // "subscribe", "unsubscribe", "ping"
	Topic  string `json:"topic,omitempty"` // topic name (normally "agents")
}
