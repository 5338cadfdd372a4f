package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client.DB())
}

// seedChat creates the project+chat rows steps and messages hang off.
func seedChat(t *testing.T, s *Store, chatID, projectID string) {
	t.Helper()
	require.NoError(t, s.Chats.EnsureProject(context.Background(), projectID, "demo", "/tmp/demo"))
	require.NoError(t, s.Chats.EnsureChat(context.Background(), chatID, projectID, ""))
}

func seedRun(t *testing.T, s *Store, chatID string, steps ...*models.Step) *models.PipelineRun {
	t.Helper()
	run := &models.PipelineRun{
		ChatID:      chatID,
		ProjectID:   "proj-1",
		ProjectPath: "/tmp/demo",
		UserMessage: "Build a landing page",
		Intent:      models.IntentBuild,
		Scope:       models.ScopeFull,
	}
	require.NoError(t, s.Executions.CreatePipelineRun(context.Background(), run, steps))
	return run
}

func TestEnsureProjectAndChatIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Chats.EnsureProject(ctx, "proj-1", "demo", "/tmp/demo"))
	require.NoError(t, s.Chats.EnsureProject(ctx, "proj-1", "renamed", "/elsewhere"))

	p, err := s.Chats.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name, "second ensure must not overwrite")
}

func TestAddAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")

	for _, content := range []string{"first", "second", "third"} {
		_, err := s.Chats.AddMessage(ctx, models.AddMessageRequest{
			ChatID: "chat-1", Role: "user", Content: content,
		})
		require.NoError(t, err)
	}

	msgs, err := s.Chats.RecentMessages(ctx, "chat-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)

	all, err := s.Chats.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAddMessageValidation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Chats.AddMessage(context.Background(), models.AddMessageRequest{Role: "user"})
	assert.True(t, IsValidationError(err))
}

func TestCreatePipelineRunPersistsSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")

	run := seedRun(t, s, "chat-1",
		&models.Step{AgentKey: "architect", Input: "Build a landing page"},
		&models.Step{AgentKey: "frontend-dev", Input: "Build a landing page", DependsOn: []string{"architect"}},
	)

	steps, err := s.Executions.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, models.StepStatusPending, steps[0].Status)
	assert.Equal(t, []string{"architect"}, steps[1].DependsOn)

	got, err := s.Executions.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentBuild, got.Intent)
	assert.False(t, got.Aborted)
}

func TestStepTransitionsAreMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")
	run := seedRun(t, s, "chat-1", &models.Step{AgentKey: "architect", Input: "x"})

	steps, err := s.Executions.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	stepID := steps[0].ID

	require.NoError(t, s.Executions.RecordStepStart(ctx, stepID))
	require.NoError(t, s.Executions.RecordStepRetry(ctx, stepID, 1, "overloaded"))
	require.NoError(t, s.Executions.RecordStepStart(ctx, stepID))
	require.NoError(t, s.Executions.RecordStepComplete(ctx, stepID, "done"))

	// Terminal state must survive any late transition attempt.
	require.NoError(t, s.Executions.RecordStepFailed(ctx, stepID, "late failure"))
	require.NoError(t, s.Executions.RecordStepStart(ctx, stepID))

	step, err := s.Executions.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, "done", step.Output)
	assert.Empty(t, step.Error)
	assert.Equal(t, 1, step.RetryCount)
	require.NotNil(t, step.CompletedAt)
}

func TestDeletePendingStepOnlyWhenPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")
	run := seedRun(t, s, "chat-1", &models.Step{AgentKey: "frontend-dev", Input: "x"})

	steps, err := s.Executions.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	stepID := steps[0].ID

	require.NoError(t, s.Executions.RecordStepStart(ctx, stepID))
	assert.ErrorIs(t, s.Executions.DeletePendingStep(ctx, stepID), ErrNotFound)
}

func TestCleanupStaleExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")
	run := seedRun(t, s, "chat-1",
		&models.Step{AgentKey: "architect", Input: "x"},
		&models.Step{AgentKey: "frontend-dev", Input: "x", DependsOn: []string{"architect"}},
	)

	steps, err := s.Executions.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[0].ID))
	require.NoError(t, s.Executions.RecordStepComplete(ctx, steps[0].ID, "plan"))
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[1].ID))

	// Provisional record attached to the in-flight step.
	require.NoError(t, s.Tokens.Insert(ctx, &models.TokenRecord{
		StepID: steps[1].ID, ChatID: "chat-1", AgentKey: "frontend-dev",
		Provider: "anthropic", Model: "claude-sonnet-4-5",
		Usage: models.TokenUsage{InputTokens: 100}, Estimated: true,
	}))

	n, err := s.Executions.CleanupStaleExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	step, err := s.Executions.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, step.Status)
	assert.Equal(t, StaleExecutionReason, step.Error)
	require.NotNil(t, step.CompletedAt)

	// Completed step untouched.
	done, err := s.Executions.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, done.Status)

	// Provisional rows voided from both tables.
	total, err := s.Tokens.SumChatTokens(ctx, "chat-1")
	require.NoError(t, err)
	assert.Zero(t, total)

	// Exactly one system message for the affected chat.
	msgs, err := s.Chats.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, StaleExecutionReason, msgs[0].Content)

	// Second run is a no-op.
	n, err = s.Executions.CleanupStaleExecutions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	msgs, err = s.Chats.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestFindInterruptedPipelineRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")

	// Older, fully completed run.
	first := seedRun(t, s, "chat-1", &models.Step{AgentKey: "architect", Input: "x"})
	steps, err := s.Executions.ListSteps(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[0].ID))
	require.NoError(t, s.Executions.RecordStepComplete(ctx, steps[0].ID, "ok"))

	_, err = s.Executions.FindInterruptedPipelineRun(ctx, "chat-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Newer run cut off mid-flight.
	second := seedRun(t, s, "chat-1",
		&models.Step{AgentKey: "architect", Input: "y"},
		&models.Step{AgentKey: "frontend-dev", Input: "y", DependsOn: []string{"architect"}},
	)
	steps, err = s.Executions.ListSteps(ctx, second.ID)
	require.NoError(t, err)
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[0].ID))
	require.NoError(t, s.Executions.RecordStepComplete(ctx, steps[0].ID, "plan"))
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[1].ID))

	found, err := s.Executions.FindInterruptedPipelineRun(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	// Still found after boot cleanup rewrites the status.
	_, err = s.Executions.CleanupStaleExecutions(ctx)
	require.NoError(t, err)
	found, err = s.Executions.FindInterruptedPipelineRun(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestResetIncompleteSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")
	run := seedRun(t, s, "chat-1",
		&models.Step{AgentKey: "architect", Input: "x"},
		&models.Step{AgentKey: "frontend-dev", Input: "x", DependsOn: []string{"architect"}},
	)

	steps, err := s.Executions.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[0].ID))
	require.NoError(t, s.Executions.RecordStepComplete(ctx, steps[0].ID, "plan"))
	require.NoError(t, s.Executions.RecordStepStart(ctx, steps[1].ID))
	require.NoError(t, s.Executions.RecordStepFailed(ctx, steps[1].ID, StaleExecutionReason))

	n, err := s.Executions.ResetIncompleteSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reset, err := s.Executions.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, reset.Status)
	assert.Empty(t, reset.Error)
	assert.Nil(t, reset.StartedAt)

	// Completed steps are never re-executed.
	kept, err := s.Executions.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, kept.Status)
	assert.Equal(t, "plan", kept.Output)
}

func TestTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")

	rec := &models.TokenRecord{
		StepID: "step-1", ChatID: "chat-1", ProjectID: "proj-1",
		AgentKey: "architect", Provider: "anthropic", Model: "claude-sonnet-4-5",
		Usage:     models.TokenUsage{InputTokens: 1000, OutputTokens: 200},
		Estimated: true, CostEstimate: 0.01,
	}
	require.NoError(t, s.Tokens.Insert(ctx, rec))
	require.NotEmpty(t, rec.ID)

	// Provisional counts as spend.
	total, err := s.Tokens.SumChatTokens(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, 1200, total)

	final := models.TokenUsage{InputTokens: 1500, OutputTokens: 300, CacheReadInputTokens: 50}
	require.NoError(t, s.Tokens.Finalize(ctx, rec.ID, final, 0.02))

	recs, err := s.Tokens.ListChatUsage(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Estimated)
	assert.Equal(t, final, recs[0].Usage)
	assert.InDelta(t, 0.02, recs[0].CostEstimate, 1e-9)

	ledger, err := s.Tokens.ListLedgerRows(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, final.Total(), ledger[0].TotalTokens)

	cost, err := s.Tokens.SumProjectCost(ctx, "proj-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, cost, 1e-9)
}

func TestTokenVoidDeletesBothTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")

	rec := &models.TokenRecord{
		StepID: "step-1", ChatID: "chat-1", AgentKey: "architect",
		Provider: "anthropic", Model: "claude-sonnet-4-5",
		Usage: models.TokenUsage{InputTokens: 1000}, Estimated: true,
	}
	require.NoError(t, s.Tokens.Insert(ctx, rec))
	require.NoError(t, s.Tokens.Void(ctx, rec.ID))

	total, err := s.Tokens.SumChatTokens(ctx, "chat-1")
	require.NoError(t, err)
	assert.Zero(t, total)

	ledger, err := s.Tokens.ListLedgerRows(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestSumCostSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedChat(t, s, "chat-1", "proj-1")

	old := &models.TokenRecord{
		StepID: "step-old", ChatID: "chat-1", AgentKey: "architect",
		Provider: "anthropic", Model: "claude-sonnet-4-5",
		CostEstimate: 1.0, CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		Usage: models.TokenUsage{InputTokens: 1},
	}
	recent := &models.TokenRecord{
		StepID: "step-new", ChatID: "chat-1", AgentKey: "architect",
		Provider: "anthropic", Model: "claude-sonnet-4-5",
		CostEstimate: 0.25, Usage: models.TokenUsage{InputTokens: 1},
	}
	require.NoError(t, s.Tokens.Insert(ctx, old))
	require.NoError(t, s.Tokens.Insert(ctx, recent))

	sum, err := s.Tokens.SumCostSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, sum, 1e-9)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Settings.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Settings.Set(ctx, "k", "v1"))
	require.NoError(t, s.Settings.Set(ctx, "k", "v2"))
	v, err := s.Settings.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.Settings.Delete(ctx, "k"))
	_, err = s.Settings.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAgentOverrideRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Settings.AgentOverride(ctx, "architect")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Settings.SetAgentOverride(ctx, "architect", ModelOverride{
		Provider: "openai", Model: "gpt-4o",
	}))
	ov, err := s.Settings.AgentOverride(ctx, "architect")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", ov.Model)

	err = s.Settings.SetAgentOverride(ctx, "architect", ModelOverride{Provider: "nope", Model: "x"})
	assert.True(t, IsValidationError(err))

	require.NoError(t, s.Settings.ClearAgentOverride(ctx, "architect"))
	_, err = s.Settings.AgentOverride(ctx, "architect")
	assert.ErrorIs(t, err, ErrNotFound)
}
