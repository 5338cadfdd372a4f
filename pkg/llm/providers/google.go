package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

func init() {
	llm.RegisterProvider(config.ProviderGoogle, func(apiKey, baseURL string) (llm.Provider, error) {
		cc := &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}
		client, err := genai.NewClient(context.Background(), cc)
		if err != nil {
			return nil, fmt.Errorf("google: create client: %w", err)
		}
		return &googleProvider{client: client}, nil
	})
}

type googleProvider struct {
	client *genai.Client
}

func (p *googleProvider) Name() config.ProviderType {
	return config.ProviderGoogle
}

func (p *googleProvider) Stream(ctx context.Context, req *llm.ProviderRequest) (<-chan llm.Part, error) {
	contents, err := buildGoogleContents(req)
	if err != nil {
		return nil, err
	}
	cfg := buildGoogleConfig(req)

	parts := make(chan llm.Part, 32)
	go p.pump(ctx, req.Model, contents, cfg, parts)
	return parts, nil
}

func (p *googleProvider) pump(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig, parts chan<- llm.Part) {
	defer close(parts)

	emit := func(part llm.Part) bool {
		select {
		case parts <- part:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var usage models.TokenUsage
	var finishReason genai.FinishReason
	sawToolCall := false

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(&llm.ErrorPart{Err: mapGoogleError(err)})
			return
		}
		if resp == nil {
			continue
		}
		if meta := resp.UsageMetadata; meta != nil {
			usage.InputTokens = int(meta.PromptTokenCount)
			usage.OutputTokens = int(meta.CandidatesTokenCount)
			usage.CacheReadInputTokens = int(meta.CachedContentTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil {
				continue
			}
			if candidate.FinishReason != "" {
				finishReason = candidate.FinishReason
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if !emit(&llm.TextDelta{Text: part.Text}) {
						return
					}
				}
				if part.FunctionCall != nil {
					args, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						args = []byte("{}")
					}
					sawToolCall = true
					// Gemini carries no tool call IDs, so one is minted here
					// to key the result message.
					if !emit(&llm.ToolCallPart{
						ID:       "call_" + uuid.NewString(),
						ToolName: part.FunctionCall.Name,
						Input:    string(args),
					}) {
						return
					}
				}
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	emit(&llm.StepFinish{
		FinishReason: mapGoogleFinishReason(finishReason, sawToolCall),
		Usage:        usage,
	})
}

func buildGoogleContents(req *llm.ProviderRequest) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range req.Messages {
		content := &genai.Content{}
		switch msg.Role {
		case llm.RoleUser:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		case llm.RoleAssistant:
			content.Role = genai.RoleModel
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: call.Name, Args: args},
				})
			}
		case llm.RoleTool:
			content.Role = genai.RoleUser
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolName,
					Response: response,
				},
			})
		default:
			return nil, fmt.Errorf("google: unsupported message role %q", msg.Role)
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents, nil
}

func buildGoogleConfig(req *llm.ProviderRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			var schemaMap map[string]any
			if err := json.Unmarshal([]byte(def.ParametersSchema), &schemaMap); err != nil {
				continue
			}
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toGoogleSchema(schemaMap),
			})
		}
		if len(declarations) > 0 {
			cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
		}
	}
	return cfg
}

// toGoogleSchema converts a JSON Schema map into Gemini's typed Schema.
func toGoogleSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGoogleSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGoogleSchema(items)
	}
	return schema
}

func mapGoogleFinishReason(reason genai.FinishReason, sawToolCall bool) string {
	if sawToolCall {
		return llm.FinishReasonToolCalls
	}
	switch reason {
	case genai.FinishReasonStop:
		return llm.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.FinishReasonLength
	case "":
		return llm.FinishReasonError
	default:
		return llm.FinishReasonOther
	}
}

func mapGoogleError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{
			Provider:   config.ProviderGoogle,
			StatusCode: apiErr.Code,
			Code:       apiErr.Status,
			Message:    apiErr.Message,
		}
	}
	return fmt.Errorf("google: %w", err)
}
