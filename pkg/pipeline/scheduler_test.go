package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/agent"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/plan"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/prompt"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// playbook scripts the gateway per agent. The gateway only ever sees the
// resolved system prompt, so the playbook maps prompts back to agent keys
// through the same prompt store the runner uses.
type playbook struct {
	resolve func(systemPrompt string) string

	mu        sync.Mutex
	calls     []string
	responses map[string]*playbookEntry
}

type playbookEntry struct {
	contents []string      // consumed in order, the last repeats
	errs     []error       // consumed before contents
	block    chan struct{} // when set, calls wait here or for ctx
}

func newPlaybook(t *testing.T) *playbook {
	t.Helper()
	ps := prompt.NewStore("", nil)
	byPrompt := make(map[string]string)
	for key := range config.GetBuiltinAgents() {
		byPrompt[ps.Resolve(context.Background(), key)] = key
	}
	return &playbook{
		resolve:   func(system string) string { return byPrompt[system] },
		responses: make(map[string]*playbookEntry),
	}
}

// agent scripts an agent's responses, one per call; the last repeats.
func (p *playbook) agent(key string, contents ...string) *playbookEntry {
	e := &playbookEntry{contents: contents}
	p.responses[key] = e
	return e
}

// fail queues errors ahead of an agent's scripted contents.
func (p *playbook) fail(key string, errs ...error) {
	e := p.responses[key]
	if e == nil {
		e = p.agent(key, "recovered")
	}
	e.errs = errs
}

func (p *playbook) Invoke(ctx context.Context, req *llm.InvokeRequest) (*llm.Invocation, error) {
	key := p.resolve(req.SystemPrompt)

	p.mu.Lock()
	p.calls = append(p.calls, key)
	content := "done"
	var failWith error
	var block chan struct{}
	if e := p.responses[key]; e != nil {
		if len(e.errs) > 0 {
			failWith = e.errs[0]
			e.errs = e.errs[1:]
		} else if len(e.contents) > 0 {
			content = e.contents[0]
			if len(e.contents) > 1 {
				e.contents = e.contents[1:]
			}
		}
		block = e.block
	}
	p.mu.Unlock()

	return llm.StartInvocation(ctx, func(emit func(llm.Part)) (*llm.Result, error) {
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if failWith != nil {
			return nil, failWith
		}
		emit(&llm.TextDelta{Text: content})
		emit(&llm.StepFinish{FinishReason: llm.FinishReasonStop,
			Usage: models.TokenUsage{InputTokens: 20, OutputTokens: 10}})
		return &llm.Result{
			Text:         content,
			Usage:        models.TokenUsage{InputTokens: 20, OutputTokens: 10},
			FinishReason: llm.FinishReasonStop,
		}, nil
	}), nil
}

func (p *playbook) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (p *playbook) callOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// fakeSandbox satisfies RunSandbox without touching the filesystem.
type fakeSandbox struct {
	mu    sync.Mutex
	files []string
}

func (f *fakeSandbox) Definitions() []llm.ToolDefinition { return nil }

func (f *fakeSandbox) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	return llm.ToolResult{Content: "ok"}
}

func (f *fakeSandbox) WriteDirect(path, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, path)
	return path, nil
}

func (f *fakeSandbox) WrittenFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}

// fakeSummer feeds the budget gates fixed spend totals.
type fakeSummer struct {
	tokens int
	cost   float64
}

func (f fakeSummer) SumChatTokens(ctx context.Context, chatID string) (int, error) {
	return f.tokens, nil
}

func (f fakeSummer) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	return f.cost, nil
}

func (f fakeSummer) SumProjectCost(ctx context.Context, projectID string) (float64, error) {
	return f.cost, nil
}

type pipelineHarness struct {
	store  *store.Store
	sched  *Scheduler
	runner *agent.Runner
	pub    *events.Publisher
	gw     *playbook
	events <-chan []byte
}

func newPipelineHarness(t *testing.T, gw *playbook, mutate ...func(*SchedulerConfig)) *pipelineHarness {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	st := store.New(client.DB())

	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.AgentsTopic, 4096)
	t.Cleanup(unsub)
	pub := events.NewPublisher(bus)

	runner := agent.NewRunner(agent.Config{
		Agents:         config.NewAgentRegistry(config.GetBuiltinAgents()),
		Prompts:        prompt.NewStore("", nil),
		Gateway:        gw,
		Publisher:      pub,
		StreamThrottle: time.Nanosecond,
	})

	cfg := SchedulerConfig{
		Store:     st,
		Runner:    runner,
		Publisher: pub,
		Pipeline: config.PipelineConfig{
			MaxParallelSteps:     4,
			MaxRetries:           3,
			MaxRemediationCycles: 2,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	sched := NewScheduler(cfg)
	sched.retryBase = time.Millisecond

	return &pipelineHarness{store: st, sched: sched, runner: runner, pub: pub, gw: gw, events: ch}
}

func seedPipelineRun(t *testing.T, st *store.Store, intent models.Intent, scope models.Scope, userMessage string) (*models.PipelineRun, []*models.Step) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Chats.EnsureProject(ctx, "proj-1", "demo", "/tmp/demo"))
	require.NoError(t, st.Chats.EnsureChat(ctx, "chat-1", "proj-1", ""))
	steps := plan.Build(userMessage, "", intent, scope)
	run := &models.PipelineRun{
		ChatID:      "chat-1",
		ProjectID:   "proj-1",
		ProjectPath: "/tmp/demo",
		UserMessage: userMessage,
		Intent:      intent,
		Scope:       scope,
	}
	require.NoError(t, st.Executions.CreatePipelineRun(ctx, run, steps))
	return run, steps
}

func passAllReviewers(gw *playbook) {
	gw.agent(config.AgentCodeReview, `{"status":"pass"}`)
	gw.agent(config.AgentSecurity, `{"status":"pass"}`)
	gw.agent(config.AgentQA, `{"status":"pass"}`)
}

func drainBus(ch <-chan []byte) []map[string]any {
	var out []map[string]any
	for {
		select {
		case data := <-ch:
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func ofType(all []map[string]any, eventType string) []map[string]any {
	var out []map[string]any
	for _, e := range all {
		if e["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

func statusesFor(all []map[string]any, agentName string) []string {
	var out []string
	for _, e := range ofType(all, events.EventTypeAgentStatus) {
		if e["agentName"] == agentName {
			out = append(out, e["status"].(string))
		}
	}
	return out
}

func stepsByName(steps []*models.Step) map[string]*models.Step {
	m := make(map[string]*models.Step, len(steps))
	for _, st := range steps {
		m[st.Name()] = st
	}
	return m
}

func TestExecuteBuildHappyPath(t *testing.T) {
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "Plan: a landing page with hero and footer sections.")
	gw.agent(config.AgentFrontendDev, "Wrote the components.")
	gw.agent(config.AgentStyling, "Polished the styles.")
	passAllReviewers(gw)
	gw.agent(config.AgentSummary, "Built your landing page with a hero and footer.")

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.NoError(t, err)

	order := gw.callOrder()
	require.Len(t, order, 7)
	assert.Equal(t, config.AgentArchitect, order[0])
	assert.Equal(t, config.AgentFrontendDev, order[1])
	assert.Equal(t, config.AgentStyling, order[2])
	assert.ElementsMatch(t,
		[]string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA}, order[3:6])
	assert.Equal(t, config.AgentSummary, order[6])

	final, err := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, final, 7)
	for _, st := range final {
		assert.Equal(t, models.StepStatusCompleted, st.Status, st.AgentKey)
	}

	msgs, err := h.store.Chats.ListMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, "Built your landing page with a hero and footer.", last.Content)
}

func TestExecuteRetryTransitions(t *testing.T) {
	transient := &llm.APIError{Provider: config.ProviderAnthropic, StatusCode: 529, Message: "overloaded"}
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "unreachable")
	gw.fail(config.AgentArchitect, transient, transient, transient)

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "retries exhausted after 3 attempts")

	all := drainBus(h.events)
	assert.Equal(t,
		[]string{"running", "retrying", "running", "retrying", "running", "retrying", "failed"},
		statusesFor(all, config.AgentArchitect))

	var attempts []float64
	for _, e := range ofType(all, events.EventTypeAgentStatus) {
		if e["status"] == "retrying" {
			attempts = append(attempts, e["attempt"].(float64))
		}
	}
	assert.Equal(t, []float64{1, 2, 3}, attempts)

	halted := ofType(all, events.EventTypePipelineHalted)
	require.Len(t, halted, 1)
	assert.Equal(t, config.AgentArchitect, halted[0]["failedAgent"])

	arch, err := h.store.Executions.GetStep(context.Background(), steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, arch.Status)
	assert.Equal(t, 3, arch.RetryCount)

	assert.Zero(t, gw.count(config.AgentFrontendDev), "downstream must not dispatch after a halt")

	msgs, err := h.store.Chats.ListMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "system", last.Role)
	assert.Contains(t, last.Content, "Pipeline halted: architect failed.")
}

func TestExecuteFatalErrorSkipsRetry(t *testing.T) {
	fatal := &llm.APIError{Provider: config.ProviderAnthropic, StatusCode: 401, Message: "invalid api key"}
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "unreachable")
	gw.fail(config.AgentArchitect, fatal)

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid api key")
	assert.Equal(t, 1, gw.count(config.AgentArchitect), "auth failures must not burn retries")

	all := drainBus(h.events)
	assert.Equal(t, []string{"running", "failed"}, statusesFor(all, config.AgentArchitect))

	final, err := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	byName := stepsByName(final)
	assert.Equal(t, models.StepStatusPending, byName[config.AgentFrontendDev].Status)
	assert.Equal(t, models.StepStatusPending, byName[config.AgentStyling].Status)
}

func TestExecuteExpandsFrontendAfterArchitect(t *testing.T) {
	filePlan := "```json\n" +
		`{"components":[{"action":"create","path":"src/components/Hero.tsx"},{"action":"create","path":"src/components/Footer.tsx"}],` +
		`"shared":[{"action":"create","path":"src/hooks/useTheme.ts"}],` +
		`"app":[{"action":"create","path":"src/App.tsx"}]}` +
		"\n```"
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "Here is the file plan.\n\n"+filePlan)
	gw.agent(config.AgentFrontendDev, "Wrote my assigned files.")
	gw.agent(config.AgentStyling, "Styled everything.")
	passAllReviewers(gw)
	gw.agent(config.AgentSummary, "Done.")

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.NoError(t, err)

	final, err := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)

	var instances []string
	var appID string
	for _, st := range final {
		if st.AgentKey == config.AgentFrontendDev {
			require.NotEmpty(t, st.InstanceID, "the single dev step must be replaced, not kept")
			instances = append(instances, st.InstanceID)
			if st.InstanceID == "frontend-dev-app" {
				appID = st.ID
			}
		}
	}
	assert.ElementsMatch(t, []string{"frontend-dev-shared", "frontend-dev-1", "frontend-dev-app"}, instances)
	assert.Equal(t, 3, gw.count(config.AgentFrontendDev))

	require.NotEmpty(t, appID)
	styling := stepsByName(final)[config.AgentStyling]
	require.NotNil(t, styling)
	assert.Equal(t, []string{appID}, styling.DependsOn,
		"styling must be re-pointed at the app instance in the store")

	// Every dev instance finishes before styling dispatches.
	lastDev, stylingIdx := -1, -1
	for i, key := range gw.callOrder() {
		switch key {
		case config.AgentFrontendDev:
			lastDev = i
		case config.AgentStyling:
			stylingIdx = i
		}
	}
	require.GreaterOrEqual(t, stylingIdx, 0)
	assert.Less(t, lastDev, stylingIdx)
}

func TestExecuteRemediationResolvesFindings(t *testing.T) {
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "Planned the page.")
	gw.agent(config.AgentFrontendDev, "Wrote the components.", "Fixed the review findings.")
	gw.agent(config.AgentStyling, "Styled everything.")
	gw.agent(config.AgentCodeReview,
		`{"status":"fail"}`+"\nmust fix: Hero imports a component that does not exist. [frontend]",
		`{"status":"pass"}`)
	gw.agent(config.AgentSecurity, `{"status":"pass"}`)
	gw.agent(config.AgentQA, `{"status":"pass"}`)
	gw.agent(config.AgentSummary, "Built and polished the page.")

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, gw.count(config.AgentCodeReview), "failing reviewer re-checks after the fix")
	assert.Equal(t, 2, gw.count(config.AgentSecurity))
	assert.Equal(t, 2, gw.count(config.AgentQA))
	assert.Equal(t, 2, gw.count(config.AgentFrontendDev), "frontend dev runs once to build, once to fix")

	final, err := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	// 6 initial steps, 1 fixer, 3 re-reviews, 1 summary.
	assert.Len(t, final, 11)

	var fixer *models.Step
	for _, st := range final {
		if st.AgentKey == config.AgentFrontendDev && st.Input != run.UserMessage {
			fixer = st
		}
	}
	require.NotNil(t, fixer)
	assert.Contains(t, fixer.Input, "Findings from code-review")
	assert.Contains(t, fixer.Input, "Hero imports a component that does not exist")
	assert.Equal(t, models.StepStatusCompleted, fixer.Status)

	for _, st := range final {
		if st.AgentKey == config.AgentSummary {
			assert.NotContains(t, st.Input, "could not be fully resolved")
		}
	}
}

func TestExecuteRemediationExhaustedExitsBestEffort(t *testing.T) {
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "Planned the page.")
	gw.agent(config.AgentFrontendDev, "Wrote the components.")
	gw.agent(config.AgentStyling, "Styled everything.")
	gw.agent(config.AgentCodeReview, `{"status":"fail"}`+"\nmust fix: broken imports everywhere. [frontend]")
	gw.agent(config.AgentSecurity, `{"status":"pass"}`)
	gw.agent(config.AgentQA, `{"status":"pass"}`)
	gw.agent(config.AgentSummary, "Shipped with known issues.")

	h := newPipelineHarness(t, gw, func(c *SchedulerConfig) {
		c.Pipeline.MaxRemediationCycles = 1
	})
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.NoError(t, err, "unresolved findings exit best-effort, not as a failure")

	final, err := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	var summary *models.Step
	for _, st := range final {
		if st.AgentKey == config.AgentSummary {
			summary = st
		}
	}
	require.NotNil(t, summary)
	assert.Contains(t, summary.Input, "could not be fully resolved")
	assert.Equal(t, models.StepStatusCompleted, summary.Status)
}

func TestExecuteAbortMarksInFlightStopped(t *testing.T) {
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "Planned the page.")
	blocked := gw.agent(config.AgentFrontendDev, "never returned")
	blocked.block = make(chan struct{})

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- h.sched.Execute(ctx, ExecuteInput{
			Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
		})
	}()

	require.Eventually(t, func() bool { return gw.count(config.AgentFrontendDev) > 0 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, ErrAborted)

	final, lerr := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, lerr)
	byName := stepsByName(final)
	assert.Equal(t, models.StepStatusCompleted, byName[config.AgentArchitect].Status,
		"finished work survives an abort")
	assert.Equal(t, models.StepStatusStopped, byName[config.AgentFrontendDev].Status)
	assert.Equal(t, models.StepStatusPending, byName[config.AgentStyling].Status)

	msgs, merr := h.store.Chats.ListMessages(context.Background(), "chat-1")
	require.NoError(t, merr)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "system", last.Role)
	assert.Equal(t, "Pipeline stopped by user. Completed agents: architect", last.Content)
}

func TestExecuteBudgetHardStopBeforeFirstStep(t *testing.T) {
	gw := newPlaybook(t)
	h := newPipelineHarness(t, gw, func(c *SchedulerConfig) {
		c.Budget = ledger.NewBudget(fakeSummer{tokens: 120000},
			&config.BudgetConfig{MaxTokensPerChat: 100000, WarnRatio: 0.8})
	})
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Empty(t, gw.callOrder(), "no model calls once the budget is spent")

	msgs, merr := h.store.Chats.ListMessages(context.Background(), "chat-1")
	require.NoError(t, merr)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "system", last.Role)
	assert.Contains(t, last.Content, "Token limit reached: 120000 of 100000 tokens used for this chat")

	halted := ofType(drainBus(h.events), events.EventTypePipelineHalted)
	require.Len(t, halted, 1)
	assert.Contains(t, halted[0]["reason"], "Token limit reached")
}

func TestExecuteBudgetWarningBroadcastOnce(t *testing.T) {
	gw := newPlaybook(t)
	gw.agent(config.AgentArchitect, "Planned the page.")
	gw.agent(config.AgentFrontendDev, "Wrote the components.")
	gw.agent(config.AgentStyling, "Styled everything.")
	passAllReviewers(gw)
	gw.agent(config.AgentSummary, "All done.")

	h := newPipelineHarness(t, gw, func(c *SchedulerConfig) {
		c.Budget = ledger.NewBudget(fakeSummer{tokens: 85000},
			&config.BudgetConfig{MaxTokensPerChat: 100000, WarnRatio: 0.8})
	})
	run, steps := seedPipelineRun(t, h.store, models.IntentBuild, models.ScopeFull, "Build a landing page")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.NoError(t, err, "a warning never blocks the run")

	warnings := 0
	for _, e := range ofType(drainBus(h.events), events.EventTypeAgentStatus) {
		if e["status"] == "warning" {
			warnings++
			assert.Equal(t, "orchestrator", e["agentName"])
			assert.Contains(t, e["message"], "Approaching token limit")
		}
	}
	assert.Equal(t, 1, warnings, "the warning fires once per run, not per batch")
}

func TestExecuteQuestionPostsAnswerDirectly(t *testing.T) {
	gw := newPlaybook(t)
	gw.agent(config.AgentQuestion, "The hero background is set in src/index.css under .hero.")

	h := newPipelineHarness(t, gw)
	run, steps := seedPipelineRun(t, h.store, models.IntentQuestion, models.ScopeFull,
		"Where is the hero background color defined?")

	err := h.sched.Execute(context.Background(), ExecuteInput{
		Run: run, Steps: steps, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.NoError(t, err)

	assert.Zero(t, gw.count(config.AgentSummary), "questions do not get a summary step")
	final, lerr := h.store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, lerr)
	require.Len(t, final, 1)

	msgs, merr := h.store.Chats.ListMessages(context.Background(), "chat-1")
	require.NoError(t, merr)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, "The hero background is set in src/index.css under .hero.", last.Content)
}

func TestExecuteMalformedPlanHalts(t *testing.T) {
	gw := newPlaybook(t)
	h := newPipelineHarness(t, gw)

	ctx := context.Background()
	require.NoError(t, h.store.Chats.EnsureProject(ctx, "proj-1", "demo", "/tmp/demo"))
	require.NoError(t, h.store.Chats.EnsureChat(ctx, "chat-1", "proj-1", ""))

	// Two steps that wait on each other can never become ready.
	a := &models.Step{ID: uuid.New().String(), AgentKey: config.AgentFrontendDev,
		Input: "x", Status: models.StepStatusPending}
	b := &models.Step{ID: uuid.New().String(), AgentKey: config.AgentStyling,
		Input: "x", Status: models.StepStatusPending, DependsOn: []string{a.ID}}
	a.DependsOn = []string{b.ID}
	run := &models.PipelineRun{ChatID: "chat-1", ProjectID: "proj-1", ProjectPath: "/tmp/demo",
		UserMessage: "x", Intent: models.IntentBuild, Scope: models.ScopeFull}
	require.NoError(t, h.store.Executions.CreatePipelineRun(ctx, run, []*models.Step{a, b}))

	err := h.sched.Execute(ctx, ExecuteInput{
		Run: run, Steps: []*models.Step{a, b}, Sandbox: &fakeSandbox{}, Credentials: testCreds(),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "can never become ready")
	assert.Empty(t, gw.callOrder())

	halted := ofType(drainBus(h.events), events.EventTypePipelineHalted)
	require.Len(t, halted, 1)
}

func testCreds() llm.Credentials {
	return llm.Credentials{APIKeys: map[config.ProviderType]string{
		config.ProviderAnthropic: "sk-test",
	}}
}
