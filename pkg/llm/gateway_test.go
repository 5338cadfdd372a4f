package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// scriptedProvider replays pre-built part rounds, one per Stream call.
type scriptedProvider struct {
	name   config.ProviderType
	rounds [][]Part
	calls  int

	// requests records each round's conversation for assertions.
	requests []*ProviderRequest
}

func (p *scriptedProvider) Name() config.ProviderType { return p.name }

func (p *scriptedProvider) Stream(_ context.Context, req *ProviderRequest) (<-chan Part, error) {
	p.requests = append(p.requests, req)
	if p.calls >= len(p.rounds) {
		return nil, errors.New("scripted provider: no round left")
	}
	round := p.rounds[p.calls]
	p.calls++
	ch := make(chan Part, len(round))
	for _, part := range round {
		ch <- part
	}
	close(ch)
	return ch, nil
}

type scriptedExecutor struct {
	defs   []ToolDefinition
	result ToolResult
	seen   []ToolCall
}

func (e *scriptedExecutor) Definitions() []ToolDefinition { return e.defs }

func (e *scriptedExecutor) Execute(_ context.Context, call ToolCall) ToolResult {
	e.seen = append(e.seen, call)
	if e.result.Content == "" {
		return ToolResult{Content: "ok"}
	}
	return e.result
}

const testProviderName = config.ProviderType("scripted")

func setupScripted(t *testing.T, rounds [][]Part) (*scriptedProvider, Credentials) {
	t.Helper()
	provider := &scriptedProvider{name: testProviderName, rounds: rounds}
	RegisterProvider(testProviderName, func(apiKey, baseURL string) (Provider, error) {
		return provider, nil
	})
	creds := Credentials{APIKeys: map[config.ProviderType]string{testProviderName: "test-key"}}
	return provider, creds
}

func drain(t *testing.T, inv *Invocation) []Part {
	t.Helper()
	var parts []Part
	for part := range inv.Parts() {
		parts = append(parts, part)
	}
	return parts
}

func TestGatewayInvokeTextOnly(t *testing.T) {
	_, creds := setupScripted(t, [][]Part{{
		&TextDelta{Text: "Hello, "},
		&TextDelta{Text: "world"},
		&StepFinish{FinishReason: FinishReasonStop, Usage: models.TokenUsage{InputTokens: 12, OutputTokens: 4}},
	}})

	inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:    testProviderName,
		Model:       "test-model",
		UserPrompt:  "say hello",
		Credentials: creds,
	})
	require.NoError(t, err)

	parts := drain(t, inv)
	result, err := inv.Wait()
	require.NoError(t, err)

	assert.Equal(t, "Hello, world", result.Text)
	assert.Equal(t, FinishReasonStop, result.FinishReason)
	assert.Equal(t, 12, result.Usage.InputTokens)
	assert.Equal(t, 4, result.Usage.OutputTokens)
	assert.Len(t, parts, 3)
}

func TestGatewayToolLoop(t *testing.T) {
	provider, creds := setupScripted(t, [][]Part{
		{
			&ToolCallPart{ID: "call_1", ToolName: "write_file", Input: `{"path":"src/App.tsx","content":"x"}`},
			&StepFinish{FinishReason: FinishReasonToolCalls, Usage: models.TokenUsage{InputTokens: 100, OutputTokens: 20}},
		},
		{
			&TextDelta{Text: "File written."},
			&StepFinish{FinishReason: FinishReasonStop, Usage: models.TokenUsage{InputTokens: 150, OutputTokens: 10}},
		},
	})
	executor := &scriptedExecutor{
		defs:   []ToolDefinition{{Name: "write_file", Description: "write a file", ParametersSchema: `{"type":"object"}`}},
		result: ToolResult{Content: "wrote src/App.tsx", Paths: []string{"src/App.tsx"}},
	}

	inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:     testProviderName,
		Model:        "test-model",
		UserPrompt:   "build it",
		Tools:        executor,
		MaxToolSteps: 10,
		Credentials:  creds,
	})
	require.NoError(t, err)

	parts := drain(t, inv)
	result, err := inv.Wait()
	require.NoError(t, err)

	// Usage must be the sum of both rounds, not the final round alone.
	assert.Equal(t, 250, result.Usage.InputTokens)
	assert.Equal(t, 30, result.Usage.OutputTokens)
	assert.Equal(t, "File written.", result.Text)
	assert.Equal(t, 1, result.ToolRounds)

	require.Len(t, executor.seen, 1)
	assert.Equal(t, "write_file", executor.seen[0].Name)

	var sawToolCall, sawToolResult bool
	for _, part := range parts {
		switch p := part.(type) {
		case *ToolCallPart:
			sawToolCall = true
		case *ToolResultPart:
			sawToolResult = true
			assert.Equal(t, []string{"src/App.tsx"}, p.Paths)
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)

	// Second round's conversation must include the assistant tool call and
	// the tool result message.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleUser, second[0].Role)
	assert.Equal(t, RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
}

func TestGatewayRepairsStringifiedToolInput(t *testing.T) {
	_, creds := setupScripted(t, [][]Part{
		{
			// Input arrived as a JSON string instead of an object.
			&ToolCallPart{ID: "call_1", ToolName: "write_file", Input: `"{\"path\":\"a.ts\"}"`},
			&StepFinish{FinishReason: FinishReasonToolCalls},
		},
		{
			&StepFinish{FinishReason: FinishReasonStop},
		},
	})
	executor := &scriptedExecutor{defs: []ToolDefinition{{Name: "write_file"}}}

	inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:     testProviderName,
		Model:        "test-model",
		UserPrompt:   "go",
		Tools:        executor,
		MaxToolSteps: 5,
		Credentials:  creds,
	})
	require.NoError(t, err)
	drain(t, inv)
	_, err = inv.Wait()
	require.NoError(t, err)

	require.Len(t, executor.seen, 1)
	assert.JSONEq(t, `{"path":"a.ts"}`, executor.seen[0].Arguments)
}

func TestGatewayUnparseableToolInputBecomesEmptyObject(t *testing.T) {
	_, creds := setupScripted(t, [][]Part{
		{
			&ToolCallPart{ID: "call_1", ToolName: "write_file", Input: `{"path": "a.ts", "content": "truncat`},
			&StepFinish{FinishReason: FinishReasonToolCalls},
		},
		{
			&StepFinish{FinishReason: FinishReasonStop},
		},
	})
	executor := &scriptedExecutor{defs: []ToolDefinition{{Name: "write_file"}}}

	inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:     testProviderName,
		Model:        "test-model",
		UserPrompt:   "go",
		Tools:        executor,
		MaxToolSteps: 5,
		Credentials:  creds,
	})
	require.NoError(t, err)
	drain(t, inv)
	_, err = inv.Wait()
	require.NoError(t, err)

	require.Len(t, executor.seen, 1)
	assert.Equal(t, "{}", executor.seen[0].Arguments)
}

func TestGatewayAbortsOnBadFinishReason(t *testing.T) {
	for _, reason := range []string{FinishReasonError, FinishReasonOther} {
		t.Run(reason, func(t *testing.T) {
			_, creds := setupScripted(t, [][]Part{{
				&TextDelta{Text: "partial"},
				&StepFinish{FinishReason: reason},
			}})

			inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
				Provider:    testProviderName,
				Model:       "test-model",
				UserPrompt:  "go",
				Credentials: creds,
			})
			require.NoError(t, err)
			drain(t, inv)
			_, err = inv.Wait()

			var aborted *AgentAbortedError
			require.ErrorAs(t, err, &aborted)
			assert.Equal(t, reason, aborted.Reason)
			assert.True(t, IsRetriable(err))
		})
	}
}

func TestGatewayToolLoopExceeded(t *testing.T) {
	toolRound := []Part{
		&ToolCallPart{ID: "call_x", ToolName: "list_files", Input: `{}`},
		&StepFinish{FinishReason: FinishReasonToolCalls},
	}
	_, creds := setupScripted(t, [][]Part{toolRound, toolRound, toolRound})
	executor := &scriptedExecutor{defs: []ToolDefinition{{Name: "list_files"}}}

	inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:     testProviderName,
		Model:        "test-model",
		UserPrompt:   "go",
		Tools:        executor,
		MaxToolSteps: 2,
		Credentials:  creds,
	})
	require.NoError(t, err)
	drain(t, inv)
	_, err = inv.Wait()

	var exceeded *ToolLoopExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 2, exceeded.MaxSteps)
	assert.Len(t, executor.seen, 2)
}

func TestGatewayStreamError(t *testing.T) {
	apiErr := &APIError{Provider: testProviderName, StatusCode: 529, Message: "overloaded"}
	_, creds := setupScripted(t, [][]Part{{
		&TextDelta{Text: "partial"},
		&ErrorPart{Err: apiErr},
	}})

	inv, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:    testProviderName,
		Model:       "test-model",
		UserPrompt:  "go",
		Credentials: creds,
	})
	require.NoError(t, err)
	drain(t, inv)
	_, err = inv.Wait()

	var got *APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 529, got.StatusCode)
	assert.True(t, IsRetriable(err))
}

func TestGatewayUnknownProvider(t *testing.T) {
	_, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:    config.ProviderType("never-registered"),
		Model:       "m",
		UserPrompt:  "go",
		Credentials: Credentials{},
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestGatewayMissingCredentials(t *testing.T) {
	setupScripted(t, nil)
	_, err := NewGateway().Invoke(context.Background(), &InvokeRequest{
		Provider:    testProviderName,
		Model:       "m",
		UserPrompt:  "go",
		Credentials: Credentials{},
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
