package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// TestE2E_TransientErrorRetried: an overloaded-provider error on the first
// attempt is retried and the step still completes. The failed attempt's
// provisional tokens are voided; only the successful call is billed.
func TestE2E_TransientErrorRetried(t *testing.T) {
	gw := NewScriptedGateway()
	gw.AddRouted(config.AgentArchitect, ScriptEntry{
		Err: &llm.APIError{Provider: config.ProviderAnthropic, StatusCode: 529, Message: "overloaded"},
	})
	gw.AddRouted(config.AgentArchitect, ScriptEntry{Text: "Design: a poll widget."})
	gw.AddRouted(config.AgentFrontendDev, ScriptEntry{Text: "Done."})
	gw.AddRouted(config.AgentStyling, ScriptEntry{Text: "Done."})
	for _, reviewer := range []string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA} {
		gw.AddRouted(reviewer, ScriptEntry{Text: `{"status":"pass"}`})
	}
	gw.AddRouted(config.AgentSummary, ScriptEntry{Text: "Built the poll widget."})

	app := NewTestApp(t, WithGateway(gw))

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.Subscribe("agents"))
	_, err = ws.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	app.Orchestrate(t, map[string]any{
		"chat_id":      "chat-retry",
		"project_path": NewProject(t),
		"user_message": "Build a poll widget",
	})
	app.WaitForPipelineIdle(t, "chat-retry")

	_, steps := app.LatestRun(t, "chat-retry")
	architect := stepByName(steps, config.AgentArchitect)
	require.NotNil(t, architect)
	assert.Equal(t, models.StepStatusCompleted, architect.Status)
	assert.Equal(t, 1, architect.RetryCount)
	assert.Equal(t, "Design: a poll widget.", architect.Output)

	ev, err := ws.WaitForAgentStatus(config.AgentArchitect, "retrying", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(1), ev.Parsed["attempt"])

	// 2 architect attempts + 6 remaining steps.
	assert.Equal(t, 8, gw.CallCount())
	assert.Equal(t, 2, gw.CallsFor(config.AgentArchitect))

	// 7 successful calls billed; the failed attempt voided.
	app.RequireLedgerSettled(t)
	assert.Equal(t, 7*15, app.ChatTokenTotal(t, "chat-retry"))
}

// TestE2E_RetriesExhausted: three straight failures exhaust the retry
// budget, the step fails, and the pipeline halts with the cause in chat.
func TestE2E_RetriesExhausted(t *testing.T) {
	gw := NewScriptedGateway()
	for i := 0; i < 3; i++ {
		gw.AddRouted(config.AgentArchitect, ScriptEntry{
			Err: &llm.APIError{Provider: config.ProviderAnthropic, StatusCode: 500, Message: "internal error"},
		})
	}

	app := NewTestApp(t, WithGateway(gw))

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.Subscribe("agents"))
	_, err = ws.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	app.Orchestrate(t, map[string]any{
		"chat_id":      "chat-exhaust",
		"project_path": NewProject(t),
		"user_message": "Build a countdown timer",
	})
	app.WaitForPipelineIdle(t, "chat-exhaust")

	_, steps := app.LatestRun(t, "chat-exhaust")
	architect := stepByName(steps, config.AgentArchitect)
	require.NotNil(t, architect)
	assert.Equal(t, models.StepStatusFailed, architect.Status)
	assert.Equal(t, 3, architect.RetryCount)
	assert.Contains(t, architect.Error, "retries exhausted after 3 attempts")

	// Nothing downstream ran and no summary was attempted.
	for _, st := range steps {
		if st.ID == architect.ID {
			continue
		}
		assert.Equal(t, models.StepStatusPending, st.Status, "step %s", st.Name())
	}
	assert.Equal(t, 3, gw.CallCount())

	system := app.MessagesByRole(t, "chat-exhaust", "system")
	require.Len(t, system, 1)
	assert.Contains(t, system[0].Content, "Pipeline halted: architect failed.")
	assert.Contains(t, system[0].Content, "retries exhausted after 3 attempts")

	_, err = ws.WaitForAgentStatus(config.AgentArchitect, "failed", 5*time.Second)
	require.NoError(t, err)
	_, err = ws.WaitForEventType("pipeline_halted", 5*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, ws.EventsByType("agent_error"))

	// Every attempt was voided; nothing billed.
	app.RequireLedgerSettled(t)
	assert.Equal(t, 0, app.ChatTokenTotal(t, "chat-exhaust"))
}

// TestE2E_NonRetriableErrorFailsFast: a 401 is not retried at all.
func TestE2E_NonRetriableErrorFailsFast(t *testing.T) {
	gw := NewScriptedGateway()
	gw.AddRouted(config.AgentArchitect, ScriptEntry{
		Err: &llm.APIError{Provider: config.ProviderAnthropic, StatusCode: 401, Message: "invalid x-api-key"},
	})

	app := NewTestApp(t, WithGateway(gw))

	app.Orchestrate(t, map[string]any{
		"chat_id":      "chat-auth",
		"project_path": NewProject(t),
		"user_message": "Build a contact form",
	})
	app.WaitForPipelineIdle(t, "chat-auth")

	_, steps := app.LatestRun(t, "chat-auth")
	architect := stepByName(steps, config.AgentArchitect)
	require.NotNil(t, architect)
	assert.Equal(t, models.StepStatusFailed, architect.Status)
	assert.Equal(t, 0, architect.RetryCount)
	assert.Contains(t, architect.Error, "invalid x-api-key")

	assert.Equal(t, 1, gw.CallCount())
	app.RequireLedgerSettled(t)
}
