package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// Base URLs for the OpenAI-compatible providers. OpenAI itself uses the SDK
// default unless a proxy override is supplied.
const (
	xaiBaseURL      = "https://api.x.ai/v1"
	deepseekBaseURL = "https://api.deepseek.com/v1"
	mistralBaseURL  = "https://api.mistral.ai/v1"
)

func init() {
	registerOpenAICompatible(config.ProviderOpenAI, "")
	registerOpenAICompatible(config.ProviderXAI, xaiBaseURL)
	registerOpenAICompatible(config.ProviderDeepSeek, deepseekBaseURL)
	registerOpenAICompatible(config.ProviderMistral, mistralBaseURL)
}

func registerOpenAICompatible(name config.ProviderType, defaultBaseURL string) {
	llm.RegisterProvider(name, func(apiKey, baseURL string) (llm.Provider, error) {
		cfg := openai.DefaultConfig(apiKey)
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		return &openAIProvider{name: name, client: openai.NewClientWithConfig(cfg)}, nil
	})
}

// openAIProvider serves every chat-completions-compatible vendor. Only the
// registered name and base URL differ.
type openAIProvider struct {
	name   config.ProviderType
	client *openai.Client
}

func (p *openAIProvider) Name() config.ProviderType {
	return p.name
}

func (p *openAIProvider) Stream(ctx context.Context, req *llm.ProviderRequest) (<-chan llm.Part, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: buildOpenAIMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.MaxOutputTokens
	}
	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.ParametersSchema),
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.mapError(err)
	}

	parts := make(chan llm.Part, 32)
	go p.pump(ctx, stream, parts)
	return parts, nil
}

func (p *openAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, parts chan<- llm.Part) {
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

	// Tool calls arrive fragmented across chunks, keyed by index.
	type toolAccum struct {
		id   string
		name string
		args string
	}
	toolCalls := make(map[int]*toolAccum)
	order := []int{}
	var usage models.TokenUsage
	var finishReason string

	flushToolCalls := func() bool {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc == nil || tc.id == "" || tc.name == "" {
				continue
			}
			args := tc.args
			if args == "" {
				args = "{}"
			}
			if !emit(&llm.ToolCallPart{ID: tc.id, ToolName: tc.name, Input: args}) {
				return false
			}
		}
		toolCalls = make(map[int]*toolAccum)
		order = order[:0]
		return true
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushToolCalls() {
					return
				}
				emit(&llm.StepFinish{FinishReason: mapOpenAIFinishReason(finishReason), Usage: usage})
				return
			}
			if ctx.Err() != nil {
				return
			}
			emit(&llm.ErrorPart{Err: p.mapError(err)})
			return
		}

		// The usage chunk has no choices and arrives last when
		// StreamOptions.IncludeUsage is set.
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
			if d := resp.Usage.PromptTokensDetails; d != nil {
				usage.CacheReadInputTokens = d.CachedTokens
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(&llm.TextDelta{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			accum := toolCalls[idx]
			if accum == nil {
				accum = &toolAccum{}
				toolCalls[idx] = accum
				order = append(order, idx)
			}
			if tc.ID != "" {
				accum.id = tc.ID
			}
			if tc.Function.Name != "" {
				accum.name = tc.Function.Name
			}
			accum.args += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}
}

func buildOpenAIMessages(req *llm.ProviderRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case llm.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	case "":
		return llm.FinishReasonError
	default:
		return llm.FinishReasonOther
	}
}

func (p *openAIProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &llm.APIError{
			Provider:   p.name,
			StatusCode: apiErr.HTTPStatusCode,
			Code:       code,
			Message:    apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.APIError{
			Provider:   p.name,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		}
	}
	return fmt.Errorf("%s: %w", p.name, err)
}
