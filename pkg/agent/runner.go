// Package agent runs one agent invocation end to end: config and prompt
// resolution, the streaming gateway call, live event publishing, the
// write-ahead token record, and the file-extraction fallback for models
// that narrate their files instead of calling tools.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/extract"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/prompt"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

const defaultStreamThrottle = 150 * time.Millisecond

// Gateway abstracts llm.Gateway so tests can script streams.
type Gateway interface {
	Invoke(ctx context.Context, req *llm.InvokeRequest) (*llm.Invocation, error)
}

// OverrideSource supplies runtime model overrides; implemented by the
// settings store. Lookups returning store.ErrNotFound mean "no override".
type OverrideSource interface {
	AgentOverride(ctx context.Context, agentKey string) (*store.ModelOverride, error)
}

// DirectWriter writes recovered files outside the tool loop; implemented
// by the sandbox.
type DirectWriter interface {
	WriteDirect(path, content string) (string, error)
}

// Runner executes single agent invocations for the scheduler.
type Runner struct {
	agents    *config.AgentRegistry
	overrides OverrideSource
	prompts   *prompt.Store
	gateway   Gateway
	ledger    *ledger.Ledger
	pub       *events.Publisher
	throttle  time.Duration
	fences    bool
	limits    PromptLimits
	log       *slog.Logger
}

// Config assembles a Runner. Overrides and Ledger may be nil (disabled);
// everything else is required.
type Config struct {
	Agents    *config.AgentRegistry
	Overrides OverrideSource
	Prompts   *prompt.Store
	Gateway   Gateway
	Ledger    *ledger.Ledger
	Publisher *events.Publisher
	// StreamThrottle is the minimum interval between thinking-stream
	// broadcasts. Zero means the 150ms default.
	StreamThrottle time.Duration
	// MarkdownFences extends the extraction fallback to annotated fences.
	MarkdownFences bool
	// Limits caps the prompt sections; zero fields use the defaults.
	Limits PromptLimits
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	throttle := cfg.StreamThrottle
	if throttle == 0 {
		throttle = defaultStreamThrottle
	}
	return &Runner{
		agents:    cfg.Agents,
		overrides: cfg.Overrides,
		prompts:   cfg.Prompts,
		gateway:   cfg.Gateway,
		ledger:    cfg.Ledger,
		pub:       cfg.Publisher,
		throttle:  throttle,
		fences:    cfg.MarkdownFences,
		limits:    cfg.Limits.orDefaults(),
		log:       slog.With("component", "agent_runner"),
	}
}

// Input is one invocation request. Context is dumped as JSON under
// "## Context"; upstream outputs are excluded from it and rendered as
// their own section.
type Input struct {
	ChatID      string
	ProjectID   string
	ProjectPath string
	StepID      string
	// InstanceID names a parallel copy of the agent, e.g. frontend-dev-2.
	InstanceID string
	// Attempt is the retry ordinal, zero on the first try.
	Attempt         int
	UserMessage     string
	ChatHistory     []models.Message
	Context         map[string]any
	UpstreamOutputs map[string]string
	// Tools is the run's sandbox; ignored for agents configured without
	// tools.
	Tools llm.ToolExecutor
	// Writer receives files recovered by the extraction fallback.
	Writer      DirectWriter
	Credentials llm.Credentials
}

// Output aggregates a finished invocation. Provisional is the write-ahead
// token record: the scheduler finalizes it only after the step row is
// marked completed, so a crash in between leaves a voidable provisional
// row rather than silently unbilled usage.
type Output struct {
	Content      string
	Summary      string
	FilesWritten []string
	Usage        models.TokenUsage
	Provisional  *models.TokenRecord
}

// Invoke runs one agent to completion. Failures after the stream opened
// close the thinking pane with thinking=failed and void the provisional
// token record; the terminal agent_status (failed, retrying, stopped) is
// the scheduler's call, since only it knows whether a retry follows.
func (r *Runner) Invoke(ctx context.Context, agentKey string, in Input) (*Output, error) {
	name := in.InstanceID
	if name == "" {
		name = agentKey
	}
	log := r.log.With("agent", name, "chat_id", in.ChatID)

	cfg, err := r.resolveConfig(ctx, agentKey)
	if err != nil {
		return nil, err
	}
	if cfg.Provider == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: %s", llm.ErrNoProvider, agentKey)
	}
	if !in.Credentials.Has(cfg.Provider) {
		return nil, fmt.Errorf("%w: %s", llm.ErrProviderUnavailable, cfg.Provider)
	}
	if proxy := in.Credentials.ProxyURL(cfg.Provider); proxy != "" {
		log.Debug("Using provider base URL override", "provider", cfg.Provider, "base_url", llm.RedactURL(proxy))
	}

	systemPrompt := r.prompts.Resolve(ctx, agentKey)
	userPrompt := BuildPromptWithLimits(in, r.limits)

	r.pub.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    in.ChatID,
		AgentName: name,
		Status:    events.AgentStatusRunning,
		Attempt:   in.Attempt,
	})
	r.pub.PublishAgentThinking(events.AgentThinkingPayload{
		ChatID:      in.ChatID,
		AgentName:   name,
		DisplayName: cfg.DisplayName,
		Status:      events.ThinkingStarted,
	})

	var rec *models.TokenRecord
	if r.ledger != nil {
		rec, err = r.ledger.TrackProvisionalUsage(ctx, ledger.Call{
			StepID:     in.StepID,
			ChatID:     in.ChatID,
			ProjectID:  in.ProjectID,
			AgentKey:   name,
			Provider:   cfg.Provider,
			Model:      cfg.Model,
			APIKeyHash: llm.HashAPIKey(in.Credentials.Key(cfg.Provider)),
			PromptText: systemPrompt + "\n" + userPrompt,
		})
		if err != nil {
			r.publishThinkingFailed(in.ChatID, name, cfg.DisplayName)
			return nil, fmt.Errorf("tracking provisional usage: %w", err)
		}
	}

	var tools llm.ToolExecutor
	if cfg.Tools {
		tools = in.Tools
	}

	inv, err := r.gateway.Invoke(ctx, &llm.InvokeRequest{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		SystemPrompt:    systemPrompt,
		UserPrompt:      userPrompt,
		Tools:           tools,
		MaxOutputTokens: cfg.MaxOutputTokens,
		MaxToolSteps:    cfg.MaxToolSteps,
		Credentials:     in.Credentials,
	})
	if err != nil {
		r.void(ctx, rec)
		r.closeThinking(in.ChatID, name, cfg.DisplayName, err)
		return nil, err
	}

	filesWritten := r.consumeStream(ctx, inv, in.ChatID, name, cfg.DisplayName)

	result, err := inv.Wait()
	if err != nil {
		r.void(ctx, rec)
		r.closeThinking(in.ChatID, name, cfg.DisplayName, err)
		return nil, err
	}

	// Dev agents occasionally narrate their files as tool_call text
	// instead of calling tools. Recover those before reporting zero
	// writes.
	if cfg.Tools && len(filesWritten) == 0 && in.Writer != nil {
		filesWritten = r.extractFallback(log, in.Writer, result.Text)
	}

	content, summary := Summarize(agentKey, result.Text)

	r.pub.PublishAgentThinking(events.AgentThinkingPayload{
		ChatID:      in.ChatID,
		AgentName:   name,
		DisplayName: cfg.DisplayName,
		Status:      events.ThinkingCompleted,
		Summary:     summary,
	})
	r.pub.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    in.ChatID,
		AgentName: name,
		Status:    events.AgentStatusCompleted,
	})

	log.Info("Agent completed",
		"tool_rounds", result.ToolRounds,
		"files_written", len(filesWritten),
		"output_tokens", result.Usage.OutputTokens)

	return &Output{
		Content:      content,
		Summary:      summary,
		FilesWritten: filesWritten,
		Usage:        result.Usage,
		Provisional:  rec,
	}, nil
}

// resolveConfig returns the agent's merged config with any runtime model
// override applied. The override replaces provider and model only; caps
// and tool grants stay as configured.
func (r *Runner) resolveConfig(ctx context.Context, agentKey string) (*config.AgentConfig, error) {
	cfg, err := r.agents.Get(agentKey)
	if err != nil {
		return nil, err
	}
	if r.overrides == nil {
		return cfg, nil
	}

	ov, err := r.overrides.AgentOverride(ctx, agentKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Warn("Agent override lookup failed, using configured model",
				"agent", agentKey, "error", err)
		}
		return cfg, nil
	}

	resolved := *cfg
	resolved.Provider = ov.Provider
	resolved.Model = ov.Model
	return &resolved, nil
}

// consumeStream drains the invocation parts, batching text into throttled
// thinking/stream broadcasts and collecting written paths from successful
// tool results. Tool-call broadcasts carry names and paths only, never
// file content.
func (r *Runner) consumeStream(ctx context.Context, inv *llm.Invocation, chatID, name, displayName string) []string {
	var filesWritten []string
	var pending string
	lastFlush := time.Now()

	flush := func() {
		if pending == "" {
			return
		}
		r.pub.PublishAgentThinking(events.AgentThinkingPayload{
			ChatID:      chatID,
			AgentName:   name,
			DisplayName: displayName,
			Status:      events.ThinkingStreaming,
			Chunk:       pending,
		})
		r.pub.PublishAgentStream(events.AgentStreamPayload{
			ChatID:    chatID,
			AgentName: name,
			Chunk:     pending,
		})
		pending = ""
		lastFlush = time.Now()
	}

	for part := range inv.Parts() {
		switch p := part.(type) {
		case *llm.TextDelta:
			pending += p.Text
			if time.Since(lastFlush) >= r.throttle {
				flush()
			}
		case *llm.ToolCallPart:
			flush()
			r.pub.PublishAgentThinking(events.AgentThinkingPayload{
				ChatID:      chatID,
				AgentName:   name,
				DisplayName: displayName,
				Status:      events.ThinkingStreaming,
				ToolCall: &events.ThinkingToolCall{
					Name: p.ToolName,
					Args: pathOnlyArgs(p.ToolName, p.Input),
				},
			})
		case *llm.ToolResultPart:
			if !p.IsError {
				filesWritten = append(filesWritten, p.Paths...)
			}
		}
	}
	flush()
	return filesWritten
}

// pathOnlyArgs reduces write-tool arguments to their paths so file content
// never crosses the broadcast bus. Other tools pass their (content-free)
// arguments through.
func pathOnlyArgs(toolName, rawArgs string) json.RawMessage {
	switch toolName {
	case "write_file":
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &in); err != nil || in.Path == "" {
			return nil
		}
		out, _ := json.Marshal(map[string]string{"path": in.Path})
		return out
	case "write_files":
		var in struct {
			Files []struct {
				Path string `json:"path"`
			} `json:"files"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &in); err != nil || len(in.Files) == 0 {
			return nil
		}
		paths := make([]string, 0, len(in.Files))
		for _, f := range in.Files {
			if f.Path != "" {
				paths = append(paths, f.Path)
			}
		}
		out, _ := json.Marshal(map[string][]string{"paths": paths})
		return out
	default:
		return json.RawMessage(rawArgs)
	}
}

// extractFallback scans the response text for narrated file writes and
// writes them through the sandbox.
func (r *Runner) extractFallback(log *slog.Logger, writer DirectWriter, text string) []string {
	files := extract.Files(text, extract.Options{MarkdownFences: r.fences})
	if len(files) == 0 {
		return nil
	}

	var written []string
	for _, f := range files {
		p, err := writer.WriteDirect(f.Path, f.Content)
		if err != nil {
			log.Warn("Extracted file rejected", "path", f.Path, "error", err)
			continue
		}
		written = append(written, p)
	}
	log.Info("Recovered files from response text", "extracted", len(files), "written", len(written))
	return written
}

func (r *Runner) void(ctx context.Context, rec *models.TokenRecord) {
	if r.ledger == nil || rec == nil {
		return
	}
	// The step may have been cancelled; voiding must still proceed.
	if err := r.ledger.VoidProvisionalUsage(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn("Failed to void provisional token record", "record_id", rec.ID, "error", err)
	}
}

// closeThinking ends the thinking pane after a stream failure. User
// aborts are not failures; the scheduler broadcasts stopped for those.
func (r *Runner) closeThinking(chatID, name, displayName string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	r.publishThinkingFailed(chatID, name, displayName)
}

func (r *Runner) publishThinkingFailed(chatID, name, displayName string) {
	r.pub.PublishAgentThinking(events.AgentThinkingPayload{
		ChatID:      chatID,
		AgentName:   name,
		DisplayName: displayName,
		Status:      events.ThinkingFailed,
	})
}
