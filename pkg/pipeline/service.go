package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/agent"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/metrics"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/plan"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/sandbox"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/testreport"
)

var (
	// ErrPipelineRunning rejects a second concurrent run for a chat.
	ErrPipelineRunning = errors.New("a pipeline is already running for this chat")
	// ErrNothingToResume means no interrupted run was found.
	ErrNothingToResume = errors.New("no interrupted pipeline found")
)

// Service owns live pipelines: one per chat, started fire-and-forget,
// abortable mid-flight, and resumable after a crash.
type Service struct {
	store      *store.Store
	sched      *Scheduler
	runner     *agent.Runner
	ledger     *ledger.Ledger
	pub        *events.Publisher
	metrics    *metrics.Metrics
	cfg        config.PipelineConfig
	sandboxCfg config.SandboxConfig
	versioner  sandbox.Versioner

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// ServiceConfig assembles a Service.
type ServiceConfig struct {
	Store     *store.Store
	Scheduler *Scheduler
	Runner    *agent.Runner
	Ledger    *ledger.Ledger
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Pipeline  config.PipelineConfig
	Sandbox   config.SandboxConfig
	Versioner sandbox.Versioner // nil disables save_version
}

// NewService creates the pipeline service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:      cfg.Store,
		sched:      cfg.Scheduler,
		runner:     cfg.Runner,
		ledger:     cfg.Ledger,
		pub:        cfg.Publisher,
		metrics:    cfg.Metrics,
		cfg:        cfg.Pipeline,
		sandboxCfg: cfg.Sandbox,
		versioner:  cfg.Versioner,
		active:     make(map[string]context.CancelFunc),
		log:        slog.With("component", "pipeline"),
	}
}

// Request starts one pipeline for a chat.
type Request struct {
	ChatID      string
	ProjectID   string
	ProjectPath string
	UserMessage string
	// Intent and Scope skip classification when the caller already
	// knows them; invalid values fall back to the classifier.
	Intent models.Intent
	Scope  models.Scope
	// ResearchJSON feeds plan construction directly, skipping the
	// research agent.
	ResearchJSON string
	// TestResults carries a vitest JSON report for fix runs.
	TestResults []byte
	Credentials llm.Credentials
}

// Start validates the request, records the user message, and launches
// the pipeline on a detached context. Returns immediately; progress
// flows over the event bus.
func (s *Service) Start(ctx context.Context, req Request) error {
	if req.ChatID == "" || req.UserMessage == "" || req.ProjectPath == "" {
		return fmt.Errorf("chat_id, project_path and user_message are required")
	}

	s.mu.Lock()
	if _, ok := s.active[req.ChatID]; ok {
		s.mu.Unlock()
		return ErrPipelineRunning
	}
	// The run must survive the HTTP request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	s.active[req.ChatID] = cancel
	s.mu.Unlock()

	if err := s.prepareChat(ctx, req); err != nil {
		s.release(req.ChatID)
		return err
	}
	// History is fetched before the new message lands so prompts do not
	// repeat the current request.
	history, err := s.store.Chats.RecentMessages(ctx, req.ChatID, s.cfg.HistoryMaxMessages)
	if err != nil {
		s.log.Warn("Failed to load chat history", "chat_id", req.ChatID, "error", err)
	}
	if _, err := s.store.Chats.AddMessage(ctx, models.AddMessageRequest{
		ChatID:  req.ChatID,
		Role:    "user",
		Content: req.UserMessage,
	}); err != nil {
		s.release(req.ChatID)
		return fmt.Errorf("recording user message: %w", err)
	}

	s.metrics.PipelineStarted()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(req.ChatID)
		s.execute(runCtx, req, history)
	}()
	return nil
}

func (s *Service) prepareChat(ctx context.Context, req Request) error {
	if req.ProjectID != "" {
		if err := s.store.Chats.EnsureProject(ctx, req.ProjectID, req.ProjectID, req.ProjectPath); err != nil {
			return fmt.Errorf("ensuring project: %w", err)
		}
	}
	if err := s.store.Chats.EnsureChat(ctx, req.ChatID, req.ProjectID, chatTitle(req.UserMessage)); err != nil {
		return fmt.Errorf("ensuring chat: %w", err)
	}
	return nil
}

// execute classifies, plans, persists and runs one pipeline.
func (s *Service) execute(ctx context.Context, req Request, history []models.Message) {
	log := s.log.With("chat_id", req.ChatID, "project_id", req.ProjectID)

	intent, scope := s.classify(ctx, req)
	log.Info("Request classified", "intent", intent, "scope", scope)

	research := req.ResearchJSON
	if research == "" && intent == models.IntentBuild && s.cfg.ResearchEnabled {
		research = s.research(ctx, req)
	}

	steps := plan.Build(req.UserMessage, research, intent, scope)
	s.embedTestReport(steps, req.TestResults)

	run := &models.PipelineRun{
		ChatID:      req.ChatID,
		ProjectID:   req.ProjectID,
		ProjectPath: req.ProjectPath,
		UserMessage: req.UserMessage,
		Intent:      intent,
		Scope:       scope,
	}
	if err := s.store.Executions.CreatePipelineRun(ctx, run, steps); err != nil {
		log.Error("Failed to persist pipeline run", "error", err)
		s.metrics.PipelineFinished(intent, "error")
		return
	}
	s.runPersisted(ctx, run, steps, req.Credentials, history)
}

// runPersisted drives an already-persisted run. Shared by Start and
// Resume.
func (s *Service) runPersisted(ctx context.Context, run *models.PipelineRun, steps []*models.Step, creds llm.Credentials, history []models.Message) {
	log := s.log.With("chat_id", run.ChatID, "run_id", run.ID)

	sb, err := sandbox.New(sandbox.Config{
		ProjectRoot:       run.ProjectPath,
		ProjectID:         run.ProjectID,
		Versioner:         s.versioner,
		Notifier:          broadcastNotifier{pub: s.pub},
		MaxVersionsPerRun: s.sandboxCfg.MaxVersionsPerRun,
		IgnorePatterns:    s.sandboxCfg.IgnorePatterns,
	})
	if err != nil {
		log.Error("Failed to create run sandbox", "error", err)
		s.metrics.PipelineFinished(run.Intent, "error")
		return
	}

	err = s.sched.Execute(ctx, ExecuteInput{
		Run:         run,
		Steps:       steps,
		Sandbox:     sb,
		Credentials: creds,
		History:     history,
	})
	switch {
	case err == nil:
		s.metrics.PipelineFinished(run.Intent, "completed")
		log.Info("Pipeline finished")
	case errors.Is(err, ErrAborted):
		s.metrics.PipelineFinished(run.Intent, "stopped")
		log.Info("Pipeline stopped")
	case errors.Is(err, ErrBudgetExceeded):
		s.metrics.PipelineFinished(run.Intent, "budget_exceeded")
		log.Warn("Pipeline stopped by budget")
	default:
		s.metrics.PipelineFinished(run.Intent, "failed")
		log.Error("Pipeline failed", "error", err)
	}
}

// classify resolves intent and scope. Explicit request values win; an
// empty project directory forces a full build without burning a model
// call; otherwise the classifier runs, falling back to build/full on
// any failure.
func (s *Service) classify(ctx context.Context, req Request) (models.Intent, models.Scope) {
	if req.Intent.IsValid() {
		scope := req.Scope
		if !scope.IsValid() {
			scope = models.ScopeFull
		}
		return req.Intent, scope
	}
	if !projectHasFiles(req.ProjectPath) {
		return models.IntentBuild, models.ScopeFull
	}

	out, err := s.runner.Invoke(ctx, config.AgentClassify, agent.Input{
		ChatID:      req.ChatID,
		ProjectID:   req.ProjectID,
		ProjectPath: req.ProjectPath,
		StepID:      uuid.New().String(),
		UserMessage: req.UserMessage,
		Credentials: req.Credentials,
	})
	if err != nil {
		s.log.Warn("Classification failed, defaulting to build",
			"chat_id", req.ChatID, "error", err)
		return models.IntentBuild, models.ScopeFull
	}
	s.finalizePreStep(ctx, out)
	return parseClassification(out.Content)
}

// research runs the research agent ahead of planning and returns its
// JSON document, empty on failure.
func (s *Service) research(ctx context.Context, req Request) string {
	out, err := s.runner.Invoke(ctx, config.AgentResearch, agent.Input{
		ChatID:      req.ChatID,
		ProjectID:   req.ProjectID,
		ProjectPath: req.ProjectPath,
		StepID:      uuid.New().String(),
		UserMessage: req.UserMessage,
		Credentials: req.Credentials,
	})
	if err != nil {
		s.log.Warn("Research failed, planning without it",
			"chat_id", req.ChatID, "error", err)
		return ""
	}
	s.finalizePreStep(ctx, out)
	return out.Content
}

// finalizePreStep settles the ledger for invocations that run outside
// the step DAG (classifier, research): nothing else will finalize their
// provisional records.
func (s *Service) finalizePreStep(ctx context.Context, out *agent.Output) {
	if s.ledger == nil || out.Provisional == nil {
		return
	}
	if err := s.ledger.FinalizeTokenUsage(ctx, out.Provisional, out.Usage); err != nil {
		s.log.Warn("Failed to finalize pre-step usage", "error", err)
		return
	}
	rec := out.Provisional
	s.metrics.UsageFinalized(rec.Provider, rec.Model, rec.Usage, rec.CostEstimate)
}

// embedTestReport parses a vitest JSON report into the testing step's
// input so fix runs start from the actual failures.
func (s *Service) embedTestReport(steps []*models.Step, raw []byte) {
	if len(raw) == 0 {
		return
	}
	report, err := testreport.ParseVitest(raw)
	if err != nil {
		s.log.Warn("Ignoring unparseable test results", "error", err)
		return
	}
	for _, st := range steps {
		if st.AgentKey == config.AgentTesting {
			st.Input += "\n\n## Test Results\n" + report.Summary()
			return
		}
	}
}

// Abort cancels a chat's running pipeline. Returns false when nothing
// was running.
func (s *Service) Abort(ctx context.Context, chatID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[chatID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	if run, err := s.store.Executions.LatestPipelineRun(ctx, chatID); err == nil {
		if err := s.store.Executions.MarkRunAborted(ctx, run.ID); err != nil {
			s.log.Warn("Failed to mark run aborted", "run_id", run.ID, "error", err)
		}
	}
	s.log.Info("Pipeline abort requested", "chat_id", chatID)
	return true
}

// IsRunning reports whether a pipeline is active for the chat.
func (s *Service) IsRunning(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[chatID]
	return ok
}

// Resume continues an interrupted run: completed steps keep their
// outputs, everything else resets to pending and re-executes. Pass a
// run ID to resume a specific run, or a chat ID to find its most recent
// interrupted one.
func (s *Service) Resume(ctx context.Context, chatID, runID string, creds llm.Credentials) (string, error) {
	var run *models.PipelineRun
	var err error
	if runID != "" {
		run, err = s.store.Executions.GetPipelineRun(ctx, runID)
	} else {
		run, err = s.store.Executions.FindInterruptedPipelineRun(ctx, chatID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNothingToResume
		}
		return "", err
	}

	s.mu.Lock()
	if _, ok := s.active[run.ChatID]; ok {
		s.mu.Unlock()
		return "", ErrPipelineRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.active[run.ChatID] = cancel
	s.mu.Unlock()

	reset, err := s.store.Executions.ResetIncompleteSteps(ctx, run.ID)
	if err != nil {
		s.release(run.ChatID)
		return "", fmt.Errorf("resetting incomplete steps: %w", err)
	}
	steps, err := s.store.Executions.ListSteps(ctx, run.ID)
	if err != nil {
		s.release(run.ChatID)
		return "", fmt.Errorf("loading steps: %w", err)
	}
	steps = s.scrubResumedSteps(ctx, steps)

	history, herr := s.store.Chats.RecentMessages(ctx, run.ChatID, s.cfg.HistoryMaxMessages)
	if herr != nil {
		s.log.Warn("Failed to load chat history", "chat_id", run.ChatID, "error", herr)
	}

	s.log.Info("Resuming pipeline", "chat_id", run.ChatID, "run_id", run.ID, "steps_reset", reset)
	s.metrics.PipelineStarted()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(run.ChatID)
		s.runPersisted(runCtx, run, steps, creds, history)
	}()
	return run.ID, nil
}

// scrubResumedSteps drops reset summary steps: the scheduler recreates
// the summary at the end so its chat message is not lost to the crash.
func (s *Service) scrubResumedSteps(ctx context.Context, steps []*models.Step) []*models.Step {
	kept := steps[:0]
	for _, st := range steps {
		if st.AgentKey == config.AgentSummary && st.Status == models.StepStatusPending {
			if err := s.store.Executions.DeletePendingStep(ctx, st.ID); err != nil {
				s.log.Warn("Failed to drop stale summary step", "step_id", st.ID, "error", err)
			}
			continue
		}
		kept = append(kept, st)
	}
	return kept
}

// Stop cancels every running pipeline and waits for them to wind down.
// Called on server shutdown.
func (s *Service) Stop() {
	s.mu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) release(chatID string) {
	s.mu.Lock()
	if cancel, ok := s.active[chatID]; ok {
		cancel()
		delete(s.active, chatID)
	}
	s.mu.Unlock()
}

// broadcastNotifier fans sandbox writes out as files_changed events.
type broadcastNotifier struct {
	pub *events.Publisher
}

func (n broadcastNotifier) FilesChanged(projectID string, paths []string) {
	n.pub.PublishFilesChanged(events.FilesChangedPayload{
		ProjectID: projectID,
		Files:     paths,
	})
}

// parseClassification reads the classifier's JSON verdict, tolerating
// prose around the object. Anything unusable defaults to a full build:
// over-building is recoverable, refusing to build is not.
func parseClassification(output string) (models.Intent, models.Scope) {
	body := strings.TrimSpace(output)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	var doc struct {
		Intent string `json:"intent"`
		Scope  string `json:"scope"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return models.IntentBuild, models.ScopeFull
	}
	intent := models.Intent(doc.Intent)
	scope := models.Scope(doc.Scope)
	if !intent.IsValid() {
		return models.IntentBuild, models.ScopeFull
	}
	if !scope.IsValid() {
		scope = models.ScopeFull
	}
	return intent, scope
}

// projectHasFiles reports whether the project directory has any
// non-hidden entries.
func projectHasFiles(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		return true
	}
	return false
}

func chatTitle(userMessage string) string {
	title := strings.Join(strings.Fields(userMessage), " ")
	const maxTitle = 64
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}
