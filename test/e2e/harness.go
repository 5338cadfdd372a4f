// Package e2e boots the full orchestrator — real SQLite store, event bus,
// WebSocket fanout, scheduler, HTTP API — against a scripted LLM gateway,
// and drives it the way a client would.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/agent"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/api"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/metrics"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/prompt"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// TestAPIKey is the provider key tests send; agents all bind anthropic.
const TestAPIKey = "test-anthropic-key"

// TestApp is a complete orchestrator instance for e2e testing.
type TestApp struct {
	Store       *store.Store
	DBClient    *database.Client
	Bus         *events.Bus
	ConnManager *events.ConnectionManager
	Publisher   *events.Publisher
	Gateway     *ScriptedGateway
	Registry    *config.AgentRegistry
	Prompts     *prompt.Store
	Runner      *agent.Runner
	Scheduler   *pipeline.Scheduler
	Pipeline    *pipeline.Service
	Server      *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	gateway     *ScriptedGateway
	pipelineCfg *config.PipelineConfig
	budgetCfg   *config.BudgetConfig
	extraAgents map[string]*config.AgentConfig
	dbClient    *database.Client // injected DB (for restart tests)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithGateway sets a pre-scripted gateway.
func WithGateway(gw *ScriptedGateway) TestAppOption {
	return func(c *testAppConfig) { c.gateway = gw }
}

// WithPipelineConfig overrides the scheduler bounds for this app.
func WithPipelineConfig(cfg config.PipelineConfig) TestAppOption {
	return func(c *testAppConfig) { c.pipelineCfg = &cfg }
}

// WithBudgets overrides the spend gates for this app.
func WithBudgets(cfg config.BudgetConfig) TestAppOption {
	return func(c *testAppConfig) { c.budgetCfg = &cfg }
}

// WithAgents merges extra or replacement agent configs over the builtins.
func WithAgents(agents map[string]*config.AgentConfig) TestAppOption {
	return func(c *testAppConfig) { c.extraAgents = agents }
}

// WithDBClient injects a pre-created database client, skipping the default
// per-test in-memory database. Used by restart tests where a second app
// must see the first app's state. The caller owns closing the client.
func WithDBClient(client *database.Client) TestAppOption {
	return func(c *testAppConfig) { c.dbClient = client }
}

// NewTestApp boots a full orchestrator instance. Shutdown is registered
// via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.gateway == nil {
		tc.gateway = NewScriptedGateway()
	}
	pipelineCfg := config.DefaultPipelineConfig()
	if tc.pipelineCfg != nil {
		pipelineCfg = tc.pipelineCfg
	}
	// Stream throttling only slows tests down.
	if pipelineCfg.StreamThrottleMs <= 0 || pipelineCfg.StreamThrottleMs == config.DefaultPipelineConfig().StreamThrottleMs {
		pipelineCfg.StreamThrottleMs = 1
	}
	budgetCfg := config.DefaultBudgetConfig()
	if tc.budgetCfg != nil {
		budgetCfg = tc.budgetCfg
	}

	// 1. Database — in-memory SQLite with the full migration set.
	ctx := context.Background()
	dbClient := tc.dbClient
	if dbClient == nil {
		var err error
		dbClient, err = database.NewClient(ctx, database.Config{Path: ":memory:"})
		require.NoError(t, err)
	}
	st := store.New(dbClient.DB())

	// 2. Events — real bus with WebSocket fanout.
	bus := events.NewBus()
	connMgr := events.NewConnectionManager(5 * time.Second)
	bus.SetFanout(connMgr)
	pub := events.NewPublisher(bus)

	// 3. Agent registry — builtins plus per-test overrides.
	agents := config.GetBuiltinAgents()
	for key, cfg := range tc.extraAgents {
		agents[key] = cfg
	}
	registry := config.NewAgentRegistry(agents)

	// 4. Ledger, budget, pricing.
	catalog := ledger.NewCatalog(nil)
	led := ledger.New(st.Tokens, catalog, ledger.NewEstimator(), pub)
	budget := ledger.NewBudget(st.Tokens, budgetCfg)
	reconciler := ledger.NewReconciler(st.Tokens, catalog)

	// 5. Prompts — embedded defaults only; no disk layer, no watcher.
	prompts := prompt.NewStore("", st.Settings)
	require.NoError(t, prompts.Load())
	tc.gateway.SetKeyResolver(promptKeyResolver(ctx, prompts, registry))

	// 6. Runner, scheduler, service.
	runner := agent.NewRunner(agent.Config{
		Agents:         registry,
		Overrides:      st.Settings,
		Prompts:        prompts,
		Gateway:        tc.gateway,
		Ledger:         led,
		Publisher:      pub,
		StreamThrottle: time.Duration(pipelineCfg.StreamThrottleMs) * time.Millisecond,
		MarkdownFences: pipelineCfg.ExtractMarkdownFences,
	})
	mets := metrics.New()
	sched := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Store:     st,
		Runner:    runner,
		Ledger:    led,
		Budget:    budget,
		Publisher: pub,
		Metrics:   mets,
		Pipeline:  *pipelineCfg,
	})
	svc := pipeline.NewService(pipeline.ServiceConfig{
		Store:     st,
		Scheduler: sched,
		Runner:    runner,
		Ledger:    led,
		Publisher: pub,
		Metrics:   mets,
		Pipeline:  *pipelineCfg,
		Sandbox:   *config.DefaultSandboxConfig(),
	})

	// 7. HTTP server on an ephemeral port.
	server := api.NewServer(api.ServerConfig{
		Pipeline:   svc,
		Store:      st,
		DB:         dbClient,
		ConnMgr:    connMgr,
		Reconciler: reconciler,
		Metrics:    mets,
		Registry:   registry,
		Prompts:    prompts,
		System:     config.SystemConfig{DatabasePath: ":memory:"},
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Store:       st,
		DBClient:    dbClient,
		Bus:         bus,
		ConnManager: connMgr,
		Publisher:   pub,
		Gateway:     tc.gateway,
		Registry:    registry,
		Prompts:     prompts,
		Runner:      runner,
		Scheduler:   sched,
		Pipeline:    svc,
		Server:      server,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		WSURL:       fmt.Sprintf("ws://%s/ws", addr),
		t:           t,
	}

	t.Cleanup(func() {
		svc.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if tc.dbClient == nil {
			_ = dbClient.Close()
		}
	})

	return app
}

// promptKeyResolver indexes each registered agent's resolved system prompt
// so the gateway can route scripted entries by agent key.
func promptKeyResolver(ctx context.Context, prompts *prompt.Store, registry *config.AgentRegistry) func(string) string {
	index := make(map[string]string)
	for _, key := range registry.Keys() {
		index[prompts.Resolve(ctx, key)] = key
	}
	return func(systemPrompt string) string {
		return index[systemPrompt]
	}
}
