package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// ScriptFile is a file the scripted invocation writes through the run
// sandbox, exactly as a model calling write_file would.
type ScriptFile struct {
	Path    string
	Content string
}

// ScriptEntry defines one scripted gateway response.
type ScriptEntry struct {
	// Response content. Text is the shorthand for a plain completion;
	// Parts replaces the whole streamed sequence when set (the entry is
	// then emitted verbatim and aggregated like a real stream). Files are
	// executed against the run sandbox via write_file before the text.
	Parts []llm.Part
	Text  string
	Files []ScriptFile
	// Usage overrides the default 10 in / 5 out accounting for Text/Files
	// entries.
	Usage *models.TokenUsage
	// Err fails the invocation after the stream opened.
	Err error

	// Test control.
	BlockUntilCancelled bool            // block until ctx is cancelled, then fail with ctx.Err()
	WaitCh              <-chan struct{} // block until closed, then respond normally
	OnBlock             chan<- struct{} // notified when the entry enters its blocking path
}

// ScriptedGateway implements the runner's gateway seam with a dual-dispatch
// mock: sequential fallback for single-agent phases, plus per-agent routing
// for parallel batches where call order is non-deterministic. Routing keys
// off the resolved system prompt; the harness installs the resolver.
type ScriptedGateway struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry // agent key → per-agent script
	routeIndex map[string]int
	captured   []*llm.InvokeRequest
	resolveKey func(systemPrompt string) string
}

// NewScriptedGateway creates an empty scripted gateway.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential appends an entry consumed in order by any call that has no
// routed entry left.
func (g *ScriptedGateway) AddSequential(entry ScriptEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sequential = append(g.sequential, entry)
}

// AddRouted appends an entry for one agent key. Parallel instances of the
// same agent share the key and consume its entries in arrival order.
func (g *ScriptedGateway) AddRouted(agentKey string, entry ScriptEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes[agentKey] = append(g.routes[agentKey], entry)
}

// SetKeyResolver installs the system-prompt → agent-key mapping used for
// routed dispatch. The harness wires this to the app's prompt store.
func (g *ScriptedGateway) SetKeyResolver(fn func(systemPrompt string) string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveKey = fn
}

// Invoke implements agent.Gateway.
func (g *ScriptedGateway) Invoke(ctx context.Context, req *llm.InvokeRequest) (*llm.Invocation, error) {
	g.mu.Lock()
	g.captured = append(g.captured, req)
	entry, err := g.nextEntry(req)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return llm.StartInvocation(ctx, func(emit func(llm.Part)) (*llm.Result, error) {
		if entry.BlockUntilCancelled {
			if entry.OnBlock != nil {
				entry.OnBlock <- struct{}{}
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if entry.WaitCh != nil {
			if entry.OnBlock != nil {
				entry.OnBlock <- struct{}{}
			}
			select {
			case <-entry.WaitCh:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if entry.Err != nil {
			return nil, entry.Err
		}
		if len(entry.Parts) > 0 {
			return playParts(entry.Parts, emit)
		}
		return playScript(ctx, req, entry, emit)
	}), nil
}

// playScript runs the Text/Files shorthand: write each file through the
// sandbox, stream the text, then close with one finish round.
func playScript(ctx context.Context, req *llm.InvokeRequest, entry *ScriptEntry, emit func(llm.Part)) (*llm.Result, error) {
	toolRounds := 0
	if len(entry.Files) > 0 {
		if req.Tools == nil {
			return nil, fmt.Errorf("scripted entry writes files but agent has no tools")
		}
		toolRounds = 1
		for i, f := range entry.Files {
			args, _ := json.Marshal(map[string]string{"path": f.Path, "content": f.Content})
			call := llm.ToolCall{
				ID:        fmt.Sprintf("call-%d", i+1),
				Name:      "write_file",
				Arguments: string(args),
			}
			emit(&llm.ToolCallPart{ID: call.ID, ToolName: call.Name, Input: call.Arguments})
			res := req.Tools.Execute(ctx, call)
			emit(&llm.ToolResultPart{
				ToolName: call.Name,
				Output:   res.Content,
				Paths:    res.Paths,
				IsError:  res.IsError,
			})
		}
	}

	if entry.Text != "" {
		emit(&llm.TextDelta{Text: entry.Text})
	}
	usage := models.TokenUsage{InputTokens: 10, OutputTokens: 5}
	if entry.Usage != nil {
		usage = *entry.Usage
	}
	emit(&llm.StepFinish{FinishReason: llm.FinishReasonStop, Usage: usage})

	return &llm.Result{
		Text:         entry.Text,
		Usage:        usage,
		FinishReason: llm.FinishReasonStop,
		ToolRounds:   toolRounds,
	}, nil
}

// playParts emits a raw part sequence and aggregates it the way the real
// gateway does: text concatenated, usage summed across StepFinish parts.
func playParts(parts []llm.Part, emit func(llm.Part)) (*llm.Result, error) {
	result := &llm.Result{FinishReason: llm.FinishReasonStop}
	for _, part := range parts {
		emit(part)
		switch p := part.(type) {
		case *llm.TextDelta:
			result.Text += p.Text
		case *llm.StepFinish:
			result.Usage.Add(p.Usage)
			result.FinishReason = p.FinishReason
		}
	}
	if !llm.IsSuccessfulFinish(result.FinishReason) {
		return nil, &llm.AgentAbortedError{Reason: result.FinishReason}
	}
	return result, nil
}

// nextEntry selects the next script entry: routed dispatch first, then the
// sequential fallback. Must be called with g.mu held.
func (g *ScriptedGateway) nextEntry(req *llm.InvokeRequest) (*ScriptEntry, error) {
	key := ""
	if g.resolveKey != nil {
		key = g.resolveKey(req.SystemPrompt)
	}
	if key != "" {
		if entries, ok := g.routes[key]; ok {
			idx := g.routeIndex[key]
			if idx < len(entries) {
				g.routeIndex[key] = idx + 1
				return &entries[idx], nil
			}
		}
	}
	if g.seqIndex < len(g.sequential) {
		entry := &g.sequential[g.seqIndex]
		g.seqIndex++
		return entry, nil
	}
	// Non-retriable so an under-scripted test fails on the first miss
	// instead of burning the retry budget.
	return nil, &llm.APIError{
		Provider:   config.ProviderAnthropic,
		StatusCode: 400,
		Message: fmt.Sprintf("scripted gateway: no more entries (agent=%q, sequential=%d/%d)",
			key, g.seqIndex, len(g.sequential)),
	}
}

// CallCount returns the total number of Invoke calls.
func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captured)
}

// CallsFor counts the Invoke calls routed to one agent key.
func (g *ScriptedGateway) CallsFor(agentKey string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolveKey == nil {
		return 0
	}
	n := 0
	for _, req := range g.captured {
		if g.resolveKey(req.SystemPrompt) == agentKey {
			n++
		}
	}
	return n
}

// CapturedRequests returns a snapshot of every Invoke request seen so far.
func (g *ScriptedGateway) CapturedRequests() []*llm.InvokeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*llm.InvokeRequest, len(g.captured))
	copy(out, g.captured)
	return out
}
