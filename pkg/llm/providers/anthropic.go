// Package providers contains the provider adapters behind the LLM gateway.
// Each adapter normalizes one vendor SDK's streaming events into llm.Part
// values and registers itself with the gateway registry at init time.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

func init() {
	llm.RegisterProvider(config.ProviderAnthropic, func(apiKey, baseURL string) (llm.Provider, error) {
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		return &anthropicProvider{client: sdk.NewClient(opts...)}, nil
	})
}

type anthropicProvider struct {
	client sdk.Client
}

func (p *anthropicProvider) Name() config.ProviderType {
	return config.ProviderAnthropic
}

func (p *anthropicProvider) Stream(ctx context.Context, req *llm.ProviderRequest) (<-chan llm.Part, error) {
	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, mapAnthropicError(err)
	}

	parts := make(chan llm.Part, 32)
	go p.pump(ctx, stream, parts)
	return parts, nil
}

// anthropicToolBuffer accumulates one tool_use block's streamed JSON input.
type anthropicToolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (b *anthropicToolBuffer) input() string {
	joined := ""
	for _, f := range b.fragments {
		joined += f
	}
	if joined == "" {
		return "{}"
	}
	return joined
}

func (p *anthropicProvider) pump(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], parts chan<- llm.Part) {
	defer close(parts)
	defer stream.Close()

	emit := func(part llm.Part) bool {
		select {
		case parts <- part:
			return true
		case <-ctx.Done():
			return false
		}
	}

	toolBlocks := make(map[int]*anthropicToolBuffer)
	var usage models.TokenUsage
	var stopReason string

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			u := ev.Message.Usage
			usage.InputTokens = int(u.InputTokens)
			usage.CacheCreationInputTokens = int(u.CacheCreationInputTokens)
			usage.CacheReadInputTokens = int(u.CacheReadInputTokens)

		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[int(ev.Index)] = &anthropicToolBuffer{id: tu.ID, name: tu.Name}
			}

		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !emit(&llm.TextDelta{Text: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[int(ev.Index)]; tb != nil && delta.PartialJSON != "" {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}

		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[int(ev.Index)]; tb != nil {
				delete(toolBlocks, int(ev.Index))
				if !emit(&llm.ToolCallPart{ID: tb.id, ToolName: tb.name, Input: tb.input()}) {
					return
				}
			}

		case sdk.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			// The delta usage is cumulative for the message; input fields may
			// stay zero here because message_start already carried them.
			if v := int(ev.Usage.InputTokens); v > 0 {
				usage.InputTokens = v
			}
			usage.OutputTokens = int(ev.Usage.OutputTokens)
			if v := int(ev.Usage.CacheCreationInputTokens); v > 0 {
				usage.CacheCreationInputTokens = v
			}
			if v := int(ev.Usage.CacheReadInputTokens); v > 0 {
				usage.CacheReadInputTokens = v
			}
		}
	}

	if err := stream.Err(); err != nil {
		emit(&llm.ErrorPart{Err: mapAnthropicError(err)})
		return
	}
	if ctx.Err() != nil {
		return
	}

	emit(&llm.StepFinish{FinishReason: mapAnthropicStopReason(stopReason), Usage: usage})
}

func buildAnthropicParams(req *llm.ProviderRequest) (*sdk.MessageNewParams, error) {
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxOutputTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	var conversation []sdk.MessageParam
	// Tool results belong in user messages; consecutive ones share a message
	// so the turn order stays user/assistant alternating.
	var pendingToolResults []sdk.ContentBlockParamUnion
	flushToolResults := func() {
		if len(pendingToolResults) > 0 {
			conversation = append(conversation, sdk.NewUserMessage(pendingToolResults...))
			pendingToolResults = nil
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			flushToolResults()
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		case llm.RoleAssistant:
			flushToolResults()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, json.RawMessage(call.Arguments), call.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			pendingToolResults = append(pendingToolResults, sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}
	flushToolResults()
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	params.Messages = conversation

	for _, def := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal([]byte(def.ParametersSchema), &schema); err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, u)
	}

	return params, nil
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	case "":
		return llm.FinishReasonError
	default:
		return llm.FinishReasonOther
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func mapAnthropicError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: %w", err)
	}

	mapped := &llm.APIError{
		Provider:   config.ProviderAnthropic,
		StatusCode: apiErr.StatusCode,
		Message:    "anthropic request failed",
	}
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				mapped.Message = payload.Error.Message
			}
			mapped.Code = payload.Error.Type
		}
	}
	return mapped
}
