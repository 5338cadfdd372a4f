// Pagegen orchestrator server — exposes the HTTP API, runs the pipeline
// scheduler, and streams agent progress over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/agent"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/api"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	_ "github.com/anthonybaldwin/page-gen-sub000/pkg/llm/providers" // register provider factories
	"github.com/anthonybaldwin/page-gen-sub000/pkg/metrics"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/prompt"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting pagegen", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbPath := cfg.System.DatabasePath
	if env := os.Getenv("DB_PATH"); env != "" {
		dbPath = env
	}
	dbClient, err := database.NewClient(ctx, database.Config{Path: dbPath})
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", dbPath)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", dbPath)

	st := store.New(dbClient.DB())

	// 3. Crash recovery: fail steps left mid-flight by the previous
	// process, void their provisional billing rows, notify their chats.
	recovered, err := st.Executions.CleanupStaleExecutions(ctx)
	if err != nil {
		slog.Error("Failed to clean up stale executions", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		slog.Info("Recovered stale executions", "steps", recovered)
	}

	// 4. Event infrastructure: in-process bus fanning out to WebSocket
	// clients.
	bus := events.NewBus()
	connManager := events.NewConnectionManager(10 * time.Second)
	bus.SetFanout(connManager)
	pub := events.NewPublisher(bus)

	// 5. Billing: pricing catalog, write-ahead ledger, budget gates, and
	// the nightly reconciliation cron.
	catalog := ledger.NewCatalog(cfg.Pricing)
	led := ledger.New(st.Tokens, catalog, ledger.NewEstimator(), pub)
	budget := ledger.NewBudget(st.Tokens, cfg.Budgets)
	reconciler := ledger.NewReconciler(st.Tokens, catalog)
	if err := reconciler.Start(); err != nil {
		slog.Error("Failed to start ledger reconciler", "error", err)
		os.Exit(1)
	}
	defer reconciler.Stop()

	// 6. Prompt store with hot reload
	prompts := prompt.NewStore(cfg.System.PromptsDir, st.Settings)
	if err := prompts.Load(); err != nil {
		slog.Error("Failed to load prompts", "error", err)
		os.Exit(1)
	}
	if err := prompts.Watch(ctx); err != nil {
		slog.Warn("Prompt hot-reload unavailable", "error", err)
	}
	defer prompts.Close()

	// 7. Agent runner and pipeline service
	mets := metrics.New()
	runner := agent.NewRunner(agent.Config{
		Agents:         cfg.AgentRegistry,
		Overrides:      st.Settings,
		Prompts:        prompts,
		Gateway:        llm.NewGateway(),
		Ledger:         led,
		Publisher:      pub,
		StreamThrottle: time.Duration(cfg.Pipeline.StreamThrottleMs) * time.Millisecond,
		MarkdownFences: cfg.Pipeline.ExtractMarkdownFences,
		Limits: agent.PromptLimits{
			HistoryMaxMessages: cfg.Pipeline.HistoryMaxMessages,
			HistoryMaxChars:    cfg.Pipeline.HistoryMaxChars,
			UpstreamMaxChars:   cfg.Pipeline.UpstreamTruncateChars,
		},
	})
	sched := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Store:     st,
		Runner:    runner,
		Ledger:    led,
		Budget:    budget,
		Publisher: pub,
		Metrics:   mets,
		Pipeline:  *cfg.Pipeline,
	})
	svc := pipeline.NewService(pipeline.ServiceConfig{
		Store:     st,
		Scheduler: sched,
		Runner:    runner,
		Ledger:    led,
		Publisher: pub,
		Metrics:   mets,
		Pipeline:  *cfg.Pipeline,
		Sandbox:   *cfg.Sandbox,
	})
	slog.Info("Pipeline service initialized")

	// 8. HTTP server
	httpServer := api.NewServer(api.ServerConfig{
		Pipeline:   svc,
		Store:      st,
		DB:         dbClient,
		ConnMgr:    connManager,
		Reconciler: reconciler,
		Metrics:    mets,
		Registry:   cfg.AgentRegistry,
		Prompts:    prompts,
		System:     *cfg.System,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Pagegen started", "addr", cfg.System.ListenAddr)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: cancel running pipelines first so their
	// terminal states (and provisional-row voids) land before the DB
	// handle closes.
	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Pipelines stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Pipeline shutdown timeout exceeded; steps will be recovered on next start")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
