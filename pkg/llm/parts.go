// Package llm implements the provider gateway: a uniform streaming call into
// any configured LLM provider with tool-calling, multi-round usage
// aggregation, and finish-reason validation.
package llm

import "github.com/anthonybaldwin/page-gen-sub000/pkg/models"

// Part is one element of a streamed model response.
// Sealed: only the types below implement it.
type Part interface {
	partType() string
}

// TextDelta carries incremental response text.
type TextDelta struct {
	Text string
}

func (*TextDelta) partType() string { return "text-delta" }

// ToolCallPart reports that the model invoked a tool. Input is the raw
// argument JSON as received from the provider.
type ToolCallPart struct {
	ID       string
	ToolName string
	Input    string
}

func (*ToolCallPart) partType() string { return "tool-call" }

// ToolResultPart carries a tool's structured result back to the consumer.
// Paths lists any files the tool reported written, for file tracking.
type ToolResultPart struct {
	ToolName string
	Output   string
	Paths    []string
	IsError  bool
}

func (*ToolResultPart) partType() string { return "tool-result" }

// StepFinish marks the end of one tool-loop round with the provider's
// finish reason and the usage billed for that round.
type StepFinish struct {
	FinishReason string
	Usage        models.TokenUsage
}

func (*StepFinish) partType() string { return "step-finish" }

// ErrorPart carries a terminal stream failure from a provider. The gateway
// consumes it and surfaces the error through Invocation.Wait.
type ErrorPart struct {
	Err error
}

func (*ErrorPart) partType() string { return "error" }

// Finish reasons the gateway treats as successful completion. "length" means
// the output-token cap cut the response; the caps are sized so agents finish
// their files before hitting it.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool-calls"
	FinishReasonError     = "error"
	FinishReasonOther     = "other"
)

// IsSuccessfulFinish reports whether a finish reason completes an invocation
// without error.
func IsSuccessfulFinish(reason string) bool {
	switch reason {
	case FinishReasonStop, FinishReasonLength, FinishReasonToolCalls:
		return true
	default:
		return false
	}
}
