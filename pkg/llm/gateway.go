package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// InvokeRequest describes one agent invocation through the gateway.
type InvokeRequest struct {
	Provider        config.ProviderType
	Model           string
	SystemPrompt    string
	UserPrompt      string
	Tools           ToolExecutor // nil for agents without file tools
	MaxOutputTokens int
	MaxToolSteps    int
	Credentials     Credentials
}

// Result aggregates an invocation after the part stream ends. Usage is
// summed across every tool-loop round; the last round alone undercounts
// multi-step tool agents.
type Result struct {
	Text         string
	Usage        models.TokenUsage
	FinishReason string
	ToolRounds   int
}

// Invocation is a running gateway call: a part stream plus aggregates
// available once the stream closes.
type Invocation struct {
	parts  chan Part
	done   chan struct{}
	result *Result
	err    error
}

// Parts returns the streaming parts channel. It closes when the invocation
// finishes, successfully or not.
func (inv *Invocation) Parts() <-chan Part {
	return inv.parts
}

// Wait blocks until the stream has closed and returns the aggregates.
func (inv *Invocation) Wait() (*Result, error) {
	<-inv.done
	return inv.result, inv.err
}

func (inv *Invocation) emit(ctx context.Context, p Part) {
	select {
	case inv.parts <- p:
	case <-ctx.Done():
	}
}

func (inv *Invocation) finish(result *Result, err error) {
	inv.result = result
	inv.err = err
	close(inv.parts)
	close(inv.done)
}

// StartInvocation runs fn on its own goroutine and returns the invocation
// it feeds. Alternate gateway implementations (test doubles, recorders)
// use it to produce the same streaming contract as Invoke: emit parts,
// then return the aggregates exactly once.
func StartInvocation(ctx context.Context, fn func(emit func(Part)) (*Result, error)) *Invocation {
	inv := &Invocation{
		parts: make(chan Part, 64),
		done:  make(chan struct{}),
	}
	go func() {
		result, err := fn(func(p Part) { inv.emit(ctx, p) })
		inv.finish(result, err)
	}()
	return inv
}

// Gateway invokes LLM providers with a uniform streaming tool loop.
type Gateway struct {
	log *slog.Logger
}

// NewGateway creates a gateway.
func NewGateway() *Gateway {
	return &Gateway{log: slog.With("component", "llm_gateway")}
}

// Invoke starts a streaming invocation. Provider resolution failures are
// returned synchronously; everything after that surfaces through the part
// stream and Wait. Callers must drain Parts, a full buffer stalls the loop.
func (g *Gateway) Invoke(ctx context.Context, req *InvokeRequest) (*Invocation, error) {
	provider, err := NewProvider(req.Provider, req.Credentials)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{
		parts: make(chan Part, 64),
		done:  make(chan struct{}),
	}
	go g.run(ctx, provider, req, inv)
	return inv, nil
}

// run drives the tool loop: stream one model round, execute any tool calls,
// extend the conversation, repeat until the model answers without tools or a
// bound trips.
func (g *Gateway) run(ctx context.Context, provider Provider, req *InvokeRequest, inv *Invocation) {
	log := g.log.With("provider", provider.Name(), "model", req.Model)

	messages := []Message{{Role: RoleUser, Content: req.UserPrompt}}
	var tools []ToolDefinition
	if req.Tools != nil {
		tools = req.Tools.Definitions()
	}

	var fullText strings.Builder
	var total models.TokenUsage

	for round := 0; ; round++ {
		if req.Tools != nil && round >= req.MaxToolSteps {
			inv.finish(nil, &ToolLoopExceededError{MaxSteps: req.MaxToolSteps})
			return
		}

		ch, err := provider.Stream(ctx, &ProviderRequest{
			Model:           req.Model,
			System:          req.SystemPrompt,
			Messages:        messages,
			Tools:           tools,
			MaxOutputTokens: req.MaxOutputTokens,
		})
		if err != nil {
			inv.finish(nil, err)
			return
		}

		var roundText strings.Builder
		var calls []ToolCall
		var finishReason string
		var streamErr error

		for part := range ch {
			switch p := part.(type) {
			case *TextDelta:
				roundText.WriteString(p.Text)
				inv.emit(ctx, p)
			case *ToolCallPart:
				calls = append(calls, ToolCall{ID: p.ID, Name: p.ToolName, Arguments: p.Input})
				inv.emit(ctx, p)
			case *StepFinish:
				total.Add(p.Usage)
				finishReason = p.FinishReason
				inv.emit(ctx, p)
			case *ErrorPart:
				streamErr = p.Err
			}
		}

		if ctx.Err() != nil {
			inv.finish(nil, ctx.Err())
			return
		}
		if streamErr != nil {
			inv.finish(nil, streamErr)
			return
		}

		fullText.WriteString(roundText.String())

		if len(calls) == 0 || req.Tools == nil {
			if !IsSuccessfulFinish(finishReason) {
				inv.finish(nil, &AgentAbortedError{Reason: finishReason})
				return
			}
			inv.finish(&Result{
				Text:         fullText.String(),
				Usage:        total,
				FinishReason: finishReason,
				ToolRounds:   round,
			}, nil)
			return
		}

		// Repair arguments before they re-enter the conversation: a prior
		// tool_use input that arrived as a stringified JSON blob would be
		// rejected by the provider on the next round.
		for i := range calls {
			calls[i].Arguments = g.repairToolInput(log, calls[i].Arguments)
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   roundText.String(),
			ToolCalls: calls,
		})

		for _, call := range calls {
			result := req.Tools.Execute(ctx, call)
			inv.emit(ctx, &ToolResultPart{
				ToolName: call.Name,
				Output:   result.Content,
				Paths:    result.Paths,
				IsError:  result.IsError,
			})
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    result.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}
}

// repairToolInput normalizes tool arguments to an object literal. A
// stringified blob is reparsed; anything unrecoverable becomes {} with a
// warning, since the model truncated mid-JSON and retrying will not help.
func (g *Gateway) repairToolInput(log *slog.Logger, args string) string {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return "{}"
	}
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	// Double-encoded: a JSON string whose content is the real object.
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		innerTrimmed := strings.TrimSpace(inner)
		if json.Valid([]byte(innerTrimmed)) && strings.HasPrefix(innerTrimmed, "{") {
			return innerTrimmed
		}
	}

	log.Warn("Tool input is not valid JSON, replacing with empty object",
		"input_prefix", truncateForLog(trimmed, 80))
	return "{}"
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
