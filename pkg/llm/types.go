package llm

import (
	"context"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
)

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a provider conversation. Assistant messages may
// carry tool calls; tool messages carry the result for one call ID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// ParametersSchema is the JSON Schema for the tool arguments.
	ParametersSchema string
}

// ToolResult is the structured outcome of executing one tool call. Errors
// are carried inside the result so the model can self-correct; they never
// abort the stream.
type ToolResult struct {
	Content string
	IsError bool
	// Paths lists files written, for write tools.
	Paths []string
}

// ToolExecutor runs tool calls for the gateway's tool loop.
// Implemented by the sandbox.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, call ToolCall) ToolResult
}

// Credentials carries the per-request API keys and optional proxy URLs.
// The gateway resolves them to provider handles; raw keys never reach
// component code above it.
type Credentials struct {
	APIKeys   map[config.ProviderType]string
	ProxyURLs map[config.ProviderType]string
}

// Has reports whether a key is present for the provider.
func (c Credentials) Has(p config.ProviderType) bool {
	return c.APIKeys[p] != ""
}

// Key returns the API key for the provider.
func (c Credentials) Key(p config.ProviderType) string {
	return c.APIKeys[p]
}

// ProxyURL returns the base-URL override for the provider, if any.
func (c Credentials) ProxyURL(p config.ProviderType) string {
	return c.ProxyURLs[p]
}

// ProviderRequest is one model round of a tool loop.
type ProviderRequest struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolDefinition
	MaxOutputTokens int
}

// Provider streams one model call. Implementations normalize SDK events into
// Part values: zero or more TextDelta and ToolCallPart entries, then exactly
// one StepFinish (or an ErrorPart followed by channel close on stream
// failure).
type Provider interface {
	Name() config.ProviderType
	Stream(ctx context.Context, req *ProviderRequest) (<-chan Part, error)
}
