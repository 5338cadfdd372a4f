// Package pipeline turns a persisted plan into finished work: it
// dispatches dependency-ready steps in bounded parallel batches, retries
// transient model failures with backoff, gates spend between batches,
// runs review findings through remediation cycles, and closes the run
// with a user-facing summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/agent"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/metrics"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/plan"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/review"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

var (
	// ErrAborted reports a user-initiated stop. Completed steps keep
	// their outputs; the run can be resumed.
	ErrAborted = errors.New("pipeline stopped by user")
	// ErrBudgetExceeded reports a hard budget stop.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// RunSandbox is the per-run file surface handed to agents: the tool
// executor for native writes, the direct writer for extraction recovery,
// and the written-file list that feeds reviewer manifests.
type RunSandbox interface {
	llm.ToolExecutor
	WriteDirect(path, content string) (string, error)
	WrittenFiles() []string
}

// Scheduler executes pipeline runs. It is safe for concurrent use; all
// per-run state lives in the execution value Execute creates.
type Scheduler struct {
	store     *store.Store
	runner    *agent.Runner
	ledger    *ledger.Ledger // nil disables token accounting
	budget    *ledger.Budget // nil disables spend gates
	pub       *events.Publisher
	metrics   *metrics.Metrics
	cfg       config.PipelineConfig
	retryBase time.Duration
	log       *slog.Logger
}

// SchedulerConfig assembles a Scheduler.
type SchedulerConfig struct {
	Store     *store.Store
	Runner    *agent.Runner
	Ledger    *ledger.Ledger
	Budget    *ledger.Budget
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Pipeline  config.PipelineConfig
}

// NewScheduler creates a scheduler. Zero limits in the pipeline config
// fall back to safe defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	pc := cfg.Pipeline
	if pc.MaxParallelSteps <= 0 {
		pc.MaxParallelSteps = 4
	}
	if pc.MaxRetries <= 0 {
		pc.MaxRetries = 3
	}
	if pc.MaxRemediationCycles <= 0 {
		pc.MaxRemediationCycles = 1
	}
	return &Scheduler{
		store:     cfg.Store,
		runner:    cfg.Runner,
		ledger:    cfg.Ledger,
		budget:    cfg.Budget,
		pub:       cfg.Publisher,
		metrics:   cfg.Metrics,
		cfg:       pc,
		retryBase: 500 * time.Millisecond,
		log:       slog.With("component", "scheduler"),
	}
}

// ExecuteInput carries one run's plan and collaborators into Execute.
type ExecuteInput struct {
	Run         *models.PipelineRun
	Steps       []*models.Step
	Sandbox     RunSandbox
	Credentials llm.Credentials
	History     []models.Message
}

// stepPhase distinguishes remediation-cycle steps from the initial plan.
// Phases are in-memory only: after a crash-resume appended steps fall
// back to first-pass upstream rules, which over-shares but stays safe.
type stepPhase int

const (
	phaseInitial stepPhase = iota
	phaseRemediation
	phaseReReview
)

// execution is the state of one Execute call.
type execution struct {
	sched    *Scheduler
	run      *models.PipelineRun
	steps    []*models.Step
	sandbox  RunSandbox
	creds    llm.Credentials
	history  []models.Message
	phases   map[string]stepPhase
	batch    int
	expanded bool
	warned   bool
	log      *slog.Logger
}

// Execute drives one run to a terminal state: every step completed (with
// remediation and summary), or stopped, halted, or budget-exceeded. The
// context cancels on user abort; steps in flight are marked stopped and
// pending ones stay pending for resume.
func (s *Scheduler) Execute(ctx context.Context, in ExecuteInput) error {
	e := &execution{
		sched:   s,
		run:     in.Run,
		steps:   in.Steps,
		sandbox: in.Sandbox,
		creds:   in.Credentials,
		history: in.History,
		phases:  make(map[string]stepPhase),
		batch:   in.Run.CurrentBatch,
		log:     s.log.With("chat_id", in.Run.ChatID, "run_id", in.Run.ID),
	}
	return e.execute(ctx)
}

func (e *execution) execute(ctx context.Context) error {
	e.log.Info("Pipeline starting",
		"intent", e.run.Intent, "scope", e.run.Scope, "steps", len(e.steps))

	if err := e.checkBudget(ctx); err != nil {
		return err
	}
	if err := e.runDAG(ctx); err != nil {
		return err
	}

	unresolved := false
	findings := review.Evaluate(e.reviewerOutputs(e.steps))
	if findings.HasIssues {
		resolved, err := e.remediate(ctx, findings)
		if err != nil {
			return err
		}
		unresolved = !resolved
	}
	if err := e.summarize(ctx, unresolved); err != nil {
		return err
	}

	e.log.Info("Pipeline completed", "steps", len(e.steps), "unresolved_findings", unresolved)
	return nil
}

// runDAG executes pending steps batch by batch until none remain. A
// non-empty pending set with no ready steps means the plan's dependency
// graph can never finish, which halts the run.
func (e *execution) runDAG(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return e.stopRun(ctx)
		}
		ready := e.readySteps()
		if len(ready) == 0 {
			if e.pendingCount() == 0 {
				return nil
			}
			return e.haltMalformed(ctx)
		}
		if max := e.sched.cfg.MaxParallelSteps; len(ready) > max {
			ready = ready[:max]
		}

		e.batch++
		if err := e.sched.store.Executions.SetCurrentBatch(ctx, e.run.ID, e.batch); err != nil {
			e.log.Warn("Failed to record batch index", "batch", e.batch, "error", err)
		}
		if err := e.executeBatch(ctx, ready); err != nil {
			return err
		}

		e.expandAfterArchitect(ctx)
		if err := e.checkBudget(ctx); err != nil {
			return err
		}
	}
}

func (e *execution) readySteps() []*models.Step {
	byID := e.stepsByID()
	var ready []*models.Step
	for _, st := range e.steps {
		if st.Status != models.StepStatusPending {
			continue
		}
		ok := true
		for _, dep := range st.DependsOn {
			d := byID[dep]
			if d == nil || d.Status != models.StepStatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, st)
		}
	}
	return ready
}

func (e *execution) pendingCount() int {
	n := 0
	for _, st := range e.steps {
		if st.Status == models.StepStatusPending {
			n++
		}
	}
	return n
}

func (e *execution) stepsByID() map[string]*models.Step {
	byID := make(map[string]*models.Step, len(e.steps))
	for _, st := range e.steps {
		byID[st.ID] = st
	}
	return byID
}

type stepResult struct {
	step    *models.Step
	err     error
	stopped bool
}

// executeBatch runs a set of independent steps concurrently and waits
// for all of them. Inputs are computed up front: a goroutine must not
// read sibling step state while siblings are writing it.
func (e *execution) executeBatch(ctx context.Context, batch []*models.Step) error {
	e.log.Info("Dispatching batch", "batch", e.batch, "steps", stepNames(batch))

	inputs := make([]agent.Input, len(batch))
	for i, st := range batch {
		inputs[i] = e.stepInput(st)
	}

	results := make(chan stepResult, len(batch))
	var wg sync.WaitGroup
	for i, st := range batch {
		wg.Add(1)
		go func(st *models.Step, in agent.Input) {
			defer wg.Done()
			results <- e.executeStep(ctx, st, in)
		}(st, inputs[i])
	}
	wg.Wait()
	close(results)

	var failed *stepResult
	stopped := false
	for r := range results {
		if r.stopped {
			stopped = true
		}
		if r.err != nil && failed == nil {
			rc := r
			failed = &rc
		}
	}
	if stopped || ctx.Err() != nil {
		return e.stopRun(ctx)
	}
	if failed != nil {
		return e.halt(ctx, failed.step, failed.err)
	}
	return nil
}

// executeStep drives one step through its retry loop to a terminal
// status. The terminal agent_status broadcast happens here rather than
// in the runner: only the scheduler knows whether a retry follows.
func (e *execution) executeStep(ctx context.Context, st *models.Step, in agent.Input) stepResult {
	log := e.log.With("step_id", st.ID, "agent", st.Name())
	started := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.sched.retryBase
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0 // bounded by MaxRetries, not wall clock

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return e.markStopped(ctx, st, started)
		}

		if err := e.sched.store.Executions.RecordStepStart(ctx, st.ID); err != nil {
			log.Warn("Failed to record step start", "error", err)
		}
		st.Status = models.StepStatusRunning
		in.Attempt = attempt - 1

		out, err := e.sched.runner.Invoke(ctx, st.AgentKey, in)
		if err == nil {
			return e.markCompleted(ctx, st, out, started)
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return e.markStopped(ctx, st, started)
		}
		if !llm.IsRetriable(err) {
			return e.markFailed(ctx, st, err, started)
		}

		st.RetryCount = attempt
		st.Status = models.StepStatusRetrying
		if rerr := e.sched.store.Executions.RecordStepRetry(ctx, st.ID, attempt, err.Error()); rerr != nil {
			log.Warn("Failed to record retry", "attempt", attempt, "error", rerr)
		}
		e.sched.pub.PublishAgentStatus(events.AgentStatusPayload{
			ChatID:    e.run.ChatID,
			AgentName: st.Name(),
			Status:    events.AgentStatusRetrying,
			Attempt:   attempt,
			Error:     err.Error(),
		})
		if attempt >= e.sched.cfg.MaxRetries {
			return e.markFailed(ctx, st,
				fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err), started)
		}
		log.Warn("Step failed, will retry", "attempt", attempt, "error", err)

		wait := bo.NextBackOff()
		if hint := llm.RetryAfterHint(err); hint > wait {
			wait = hint
		}
		select {
		case <-ctx.Done():
			return e.markStopped(ctx, st, started)
		case <-time.After(wait):
		}
	}
}

// markCompleted persists the output before finalizing the token record,
// so a crash between the two leaves a voidable provisional row rather
// than billed-but-lost work.
func (e *execution) markCompleted(ctx context.Context, st *models.Step, out *agent.Output, started time.Time) stepResult {
	if err := e.sched.store.Executions.RecordStepComplete(ctx, st.ID, out.Content); err != nil {
		e.log.Warn("Failed to record step completion", "step_id", st.ID, "error", err)
	}
	st.Status = models.StepStatusCompleted
	st.Output = out.Content
	e.finalizeUsage(ctx, out)
	e.sched.metrics.StepFinished(st.AgentKey, models.StepStatusCompleted, time.Since(started).Seconds())
	e.log.Info("Step completed", "agent", st.Name(), "files_written", len(out.FilesWritten))
	return stepResult{step: st}
}

func (e *execution) finalizeUsage(ctx context.Context, out *agent.Output) {
	if e.sched.ledger == nil || out.Provisional == nil {
		return
	}
	if err := e.sched.ledger.FinalizeTokenUsage(ctx, out.Provisional, out.Usage); err != nil {
		e.log.Warn("Failed to finalize token usage", "record_id", out.Provisional.ID, "error", err)
		return
	}
	rec := out.Provisional
	e.sched.metrics.UsageFinalized(rec.Provider, rec.Model, rec.Usage, rec.CostEstimate)
}

func (e *execution) markFailed(ctx context.Context, st *models.Step, cause error, started time.Time) stepResult {
	if err := e.sched.store.Executions.RecordStepFailed(ctx, st.ID, cause.Error()); err != nil {
		e.log.Warn("Failed to record step failure", "step_id", st.ID, "error", err)
	}
	st.Status = models.StepStatusFailed
	st.Error = cause.Error()
	e.sched.pub.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    e.run.ChatID,
		AgentName: st.Name(),
		Status:    events.AgentStatusFailed,
		Error:     cause.Error(),
	})
	e.sched.pub.PublishAgentError(events.AgentErrorPayload{
		ChatID:    e.run.ChatID,
		AgentName: st.Name(),
		Error:     cause.Error(),
	})
	e.sched.metrics.StepFinished(st.AgentKey, models.StepStatusFailed, time.Since(started).Seconds())
	return stepResult{step: st, err: cause}
}

func (e *execution) markStopped(ctx context.Context, st *models.Step, started time.Time) stepResult {
	if err := e.sched.store.Executions.RecordStepStopped(ctx, st.ID); err != nil {
		e.log.Warn("Failed to record step stop", "step_id", st.ID, "error", err)
	}
	st.Status = models.StepStatusStopped
	e.sched.pub.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    e.run.ChatID,
		AgentName: st.Name(),
		Status:    events.AgentStatusStopped,
	})
	e.sched.metrics.StepFinished(st.AgentKey, models.StepStatusStopped, time.Since(started).Seconds())
	return stepResult{step: st, stopped: true}
}

// halt records a fatal end: pipeline_halted names the failed agent and a
// system message lands in the chat.
func (e *execution) halt(ctx context.Context, st *models.Step, cause error) error {
	e.sched.pub.PublishPipelineHalted(events.PipelineHaltedPayload{
		ChatID:      e.run.ChatID,
		FailedAgent: st.Name(),
		Reason:      cause.Error(),
	})
	e.postSystemMessage(ctx, fmt.Sprintf("Pipeline halted: %s failed. %s", st.Name(), cause.Error()))
	e.log.Error("Pipeline halted", "failed_agent", st.Name(), "error", cause)
	return fmt.Errorf("pipeline halted at %s: %w", st.Name(), cause)
}

func (e *execution) haltMalformed(ctx context.Context) error {
	err := fmt.Errorf("plan malformed: %d steps can never become ready", e.pendingCount())
	e.sched.pub.PublishPipelineHalted(events.PipelineHaltedPayload{
		ChatID: e.run.ChatID,
		Reason: err.Error(),
	})
	e.postSystemMessage(ctx, "Pipeline halted: the execution plan has unsatisfiable dependencies.")
	e.log.Error("Pipeline halted", "error", err)
	return err
}

// stopRun finalizes a user abort. Pending steps stay pending so the run
// can resume; the chat records which agents finished.
func (e *execution) stopRun(ctx context.Context) error {
	var completed []string
	for _, st := range e.steps {
		if st.Status == models.StepStatusCompleted {
			completed = append(completed, st.Name())
		}
	}
	done := "none"
	if len(completed) > 0 {
		done = strings.Join(completed, ", ")
	}
	e.postSystemMessage(ctx, fmt.Sprintf("Pipeline stopped by user. Completed agents: %s", done))
	e.log.Info("Pipeline stopped by user", "completed_steps", len(completed))
	return ErrAborted
}

// checkBudget consults the spend gates. One warning broadcast per run;
// an exceeded limit stops the pipeline with a chat message saying which
// limit and where spend stands.
func (e *execution) checkBudget(ctx context.Context) error {
	if e.sched.budget == nil {
		return nil
	}
	gr, err := e.sched.budget.CheckAll(ctx, e.run.ChatID, e.run.ProjectID)
	if err != nil {
		e.log.Warn("Budget check failed, letting the run continue", "error", err)
		return nil
	}
	if !gr.Allowed {
		msg := budgetMessage(gr)
		e.postSystemMessage(ctx, msg)
		e.sched.pub.PublishPipelineHalted(events.PipelineHaltedPayload{
			ChatID: e.run.ChatID,
			Reason: msg,
		})
		e.log.Warn("Pipeline stopped by budget", "message", msg)
		return fmt.Errorf("%w: %s", ErrBudgetExceeded, msg)
	}
	if gr.Warning && !e.warned {
		e.warned = true
		e.sched.pub.PublishAgentStatus(events.AgentStatusPayload{
			ChatID:    e.run.ChatID,
			AgentName: "orchestrator",
			Status:    events.AgentStatusWarning,
			Message:   budgetWarning(gr),
		})
		e.log.Warn("Budget warning", "message", budgetWarning(gr))
	}
	return nil
}

func budgetMessage(gr ledger.GateResult) string {
	if gr.TokenLimit > 0 {
		return fmt.Sprintf(
			"Token limit reached: %d of %d tokens used for this chat. Raise the budget or start a new chat to continue.",
			gr.CurrentTokens, gr.TokenLimit)
	}
	return fmt.Sprintf(
		"Cost limit reached: $%.2f of $%.2f spent. Raise the budget to continue.",
		gr.CurrentCost, gr.CostLimit)
}

func budgetWarning(gr ledger.GateResult) string {
	if gr.TokenLimit > 0 {
		return fmt.Sprintf("Approaching token limit: %d of %d tokens used for this chat.",
			gr.CurrentTokens, gr.TokenLimit)
	}
	return fmt.Sprintf("Approaching cost limit: $%.2f of $%.2f spent.",
		gr.CurrentCost, gr.CostLimit)
}

// expandAfterArchitect swaps the single frontend-dev step for parallel
// instances once the architect's file plan exists, then mirrors the swap
// in the store so a resume sees the same graph.
func (e *execution) expandAfterArchitect(ctx context.Context) {
	if e.expanded {
		return
	}
	var arch *models.Step
	for _, st := range e.steps {
		if st.AgentKey == config.AgentArchitect && st.Status == models.StepStatusCompleted {
			arch = st
			break
		}
	}
	if arch == nil {
		return
	}
	e.expanded = true

	var base *models.Step
	for _, st := range e.steps {
		if st.AgentKey == config.AgentFrontendDev && st.InstanceID == "" && st.Status == models.StepStatusPending {
			base = st
			break
		}
	}
	if base == nil {
		return
	}

	known := make(map[string]struct{}, len(e.steps))
	for _, st := range e.steps {
		known[st.ID] = struct{}{}
	}

	expanded := plan.ExpandFrontendDev(e.steps, arch.Output)
	for _, st := range expanded {
		if st.ID == base.ID {
			// No usable file plan; the single dev step stands.
			return
		}
	}

	var added []*models.Step
	var app *models.Step
	for _, st := range expanded {
		if _, ok := known[st.ID]; !ok {
			added = append(added, st)
		}
		if st.InstanceID == "frontend-dev-app" {
			app = st
		}
	}
	if err := e.sched.store.Executions.InsertSteps(ctx, e.run.ID, added); err != nil {
		e.log.Error("Failed to persist parallel dev steps", "error", err)
	}
	if err := e.sched.store.Executions.DeletePendingStep(ctx, base.ID); err != nil {
		e.log.Warn("Failed to remove replaced dev step", "step_id", base.ID, "error", err)
	}
	if app != nil {
		for _, st := range expanded {
			if _, old := known[st.ID]; !old {
				continue
			}
			for _, dep := range st.DependsOn {
				if dep == app.ID {
					if err := e.sched.store.Executions.UpdateStepDependencies(ctx, st.ID, st.DependsOn); err != nil {
						e.log.Warn("Failed to persist re-pointed dependencies", "step_id", st.ID, "error", err)
					}
					break
				}
			}
		}
	}
	e.steps = expanded
	e.log.Info("Expanded frontend-dev into parallel instances", "instances", len(added))
}

// remediate runs bounded fix→re-review cycles against the current
// findings. Returns true when a re-review comes back clean; false means
// the run exits best-effort with the findings noted in the summary.
func (e *execution) remediate(ctx context.Context, findings *models.ReviewFindings) (bool, error) {
	for cycle := 1; cycle <= e.sched.cfg.MaxRemediationCycles; cycle++ {
		paused, err := e.remediationGate(ctx)
		if err != nil || paused {
			return false, err
		}

		fixers := review.Fixers(findings)
		brief := review.RemediationBrief(findings)
		e.log.Info("Starting remediation cycle", "cycle", cycle, "fixers", fixers)

		// Fixers run one after another; parallel dev agents rewriting
		// the same project root would race.
		var appended []*models.Step
		var lastID string
		for _, key := range fixers {
			st := &models.Step{
				ID:            uuid.New().String(),
				PipelineRunID: e.run.ID,
				AgentKey:      key,
				Input:         brief,
				Status:        models.StepStatusPending,
			}
			if lastID != "" {
				st.DependsOn = []string{lastID}
			}
			lastID = st.ID
			e.phases[st.ID] = phaseRemediation
			appended = append(appended, st)
		}
		var rechecks []*models.Step
		for _, key := range []string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA} {
			st := &models.Step{
				ID:            uuid.New().String(),
				PipelineRunID: e.run.ID,
				AgentKey:      key,
				Input:         e.run.UserMessage,
				Status:        models.StepStatusPending,
				DependsOn:     []string{lastID},
			}
			e.phases[st.ID] = phaseReReview
			rechecks = append(rechecks, st)
			appended = append(appended, st)
		}
		if err := e.sched.store.Executions.InsertSteps(ctx, e.run.ID, appended); err != nil {
			e.log.Warn("Failed to persist remediation steps", "error", err)
		}
		e.steps = append(e.steps, appended...)

		if err := e.runDAG(ctx); err != nil {
			return false, err
		}

		findings = review.Evaluate(e.reviewerOutputs(rechecks))
		if !findings.HasIssues {
			e.log.Info("Remediation resolved review findings", "cycle", cycle)
			return true, nil
		}
	}
	e.log.Warn("Review findings remain after remediation",
		"cycles", e.sched.cfg.MaxRemediationCycles)
	return false, nil
}

// remediationGate re-checks spend before each cycle. Exceeding here
// pauses rather than halts: the built project is intact, only the
// polish loop stops.
func (e *execution) remediationGate(ctx context.Context) (bool, error) {
	if e.sched.budget == nil {
		return false, nil
	}
	gr, err := e.sched.budget.CheckAll(ctx, e.run.ChatID, e.run.ProjectID)
	if err != nil {
		e.log.Warn("Budget check failed before remediation", "error", err)
		return false, nil
	}
	if gr.Allowed {
		return false, nil
	}
	msg := budgetMessage(gr)
	e.sched.pub.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    e.run.ChatID,
		AgentName: "orchestrator",
		Status:    events.AgentStatusPaused,
		Message:   msg,
	})
	e.postSystemMessage(ctx, msg+" Remediation paused.")
	e.log.Warn("Remediation paused by budget", "message", msg)
	return true, nil
}

// reviewerOutputs maps each reviewer agent to its newest completed
// output among the given steps.
func (e *execution) reviewerOutputs(steps []*models.Step) map[string]string {
	out := make(map[string]string, 3)
	for _, st := range steps {
		if isReviewer(st.AgentKey) && st.Status == models.StepStatusCompleted {
			out[st.AgentKey] = st.Output
		}
	}
	return out
}

// summarize closes the run. A question's answer posts directly to the
// chat; build and fix runs get a closing summary step fed every final
// output. Summary failure is logged and swallowed: a built project
// without a recap beats a halted pipeline.
func (e *execution) summarize(ctx context.Context, unresolved bool) error {
	if e.run.Intent == models.IntentQuestion {
		for _, st := range e.steps {
			if st.AgentKey == config.AgentQuestion && st.Status == models.StepStatusCompleted {
				e.postAssistantMessage(ctx, st.AgentKey, st.Output)
				return nil
			}
		}
		return nil
	}
	for _, st := range e.steps {
		if st.AgentKey == config.AgentSummary && st.Status == models.StepStatusCompleted {
			// A resumed run already summarized before the crash.
			return nil
		}
	}

	input := e.run.UserMessage
	if unresolved {
		input += "\n\nSome review findings could not be fully resolved; be upfront about any remaining issues."
	}
	st := &models.Step{
		ID:            uuid.New().String(),
		PipelineRunID: e.run.ID,
		AgentKey:      config.AgentSummary,
		Input:         input,
		Status:        models.StepStatusPending,
	}
	if err := e.sched.store.Executions.InsertSteps(ctx, e.run.ID, []*models.Step{st}); err != nil {
		e.log.Warn("Failed to persist summary step", "error", err)
	}
	e.steps = append(e.steps, st)

	res := e.executeStep(ctx, st, e.stepInput(st))
	if res.stopped {
		return e.stopRun(ctx)
	}
	if res.err != nil {
		e.log.Warn("Summary generation failed", "error", res.err)
		return nil
	}
	e.postAssistantMessage(ctx, config.AgentSummary, st.Output)
	return nil
}

func (e *execution) stepInput(st *models.Step) agent.Input {
	return agent.Input{
		ChatID:      e.run.ChatID,
		ProjectID:   e.run.ProjectID,
		ProjectPath: e.run.ProjectPath,
		StepID:      st.ID,
		InstanceID:  st.InstanceID,
		UserMessage: st.Input,
		ChatHistory: e.history,
		Context: map[string]any{
			"intent":       string(e.run.Intent),
			"scope":        string(e.run.Scope),
			"project_id":   e.run.ProjectID,
			"project_path": e.run.ProjectPath,
		},
		UpstreamOutputs: e.upstreamFor(st),
		Tools:           e.sandbox,
		Writer:          e.sandbox,
		Credentials:     e.creds,
	}
}

// postSystemMessage persists and broadcasts a pipeline-level notice.
// Runs on a detached context so abort does not swallow the stop notice.
func (e *execution) postSystemMessage(ctx context.Context, content string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.sched.store.Chats.AddMessage(ctx, models.AddMessageRequest{
		ChatID:  e.run.ChatID,
		Role:    "system",
		Content: content,
	}); err != nil {
		e.log.Warn("Failed to record system message", "error", err)
	}
	e.sched.pub.PublishChatMessage(events.ChatMessagePayload{
		ChatID:    e.run.ChatID,
		AgentName: "system",
		Content:   content,
	})
}

func (e *execution) postAssistantMessage(ctx context.Context, agentKey, content string) {
	if content == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := e.sched.store.Chats.AddMessage(ctx, models.AddMessageRequest{
		ChatID:   e.run.ChatID,
		Role:     "assistant",
		AgentKey: agentKey,
		Content:  content,
	}); err != nil {
		e.log.Warn("Failed to record assistant message", "error", err)
	}
	e.sched.pub.PublishChatMessage(events.ChatMessagePayload{
		ChatID:    e.run.ChatID,
		AgentName: agentKey,
		Content:   content,
	})
}

func stepNames(steps []*models.Step) []string {
	names := make([]string, len(steps))
	for i, st := range steps {
		names[i] = st.Name()
	}
	return names
}
