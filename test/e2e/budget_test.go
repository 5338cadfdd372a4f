package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// TestE2E_BudgetHardStop: a chat over its token limit is stopped at the
// gate before any plan step runs. The classifier's spend is what tips it.
func TestE2E_BudgetHardStop(t *testing.T) {
	gw := NewScriptedGateway()
	gw.AddRouted(config.AgentClassify, ScriptEntry{
		Text:  `{"intent":"build","scope":"full"}`,
		Usage: &models.TokenUsage{InputTokens: 90, OutputTokens: 20},
	})

	app := NewTestApp(t, WithGateway(gw),
		WithBudgets(config.BudgetConfig{MaxTokensPerChat: 100, WarnRatio: 0.8}))

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.Subscribe("agents"))
	_, err = ws.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	app.Orchestrate(t, map[string]any{
		"chat_id":      "chat-budget",
		"project_path": NewSeededProject(t),
		"user_message": "Build a dashboard",
	})
	app.WaitForPipelineIdle(t, "chat-budget")

	// The gate fired before the first batch: the whole plan is untouched.
	run, steps := app.LatestRun(t, "chat-budget")
	assert.False(t, run.Aborted)
	require.Len(t, steps, 6)
	for _, st := range steps {
		assert.Equal(t, models.StepStatusPending, st.Status, "step %s", st.Name())
	}
	assert.Equal(t, 1, gw.CallCount())

	system := app.MessagesByRole(t, "chat-budget", "system")
	require.Len(t, system, 1)
	assert.Equal(t,
		"Token limit reached: 110 of 100 tokens used for this chat. Raise the budget or start a new chat to continue.",
		system[0].Content)

	halted, err := ws.WaitForEventType("pipeline_halted", 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(halted.Raw), "Token limit reached")

	// The classifier call itself stays billed.
	app.RequireLedgerSettled(t)
	assert.Equal(t, 110, app.ChatTokenTotal(t, "chat-budget"))
}

// TestE2E_BudgetWarning: crossing the warn ratio broadcasts one warning
// and the run keeps going to completion.
func TestE2E_BudgetWarning(t *testing.T) {
	gw := NewScriptedGateway()
	gw.AddRouted(config.AgentArchitect, ScriptEntry{
		Text:  "Design: a dashboard with a stats grid.",
		Usage: &models.TokenUsage{InputTokens: 750, OutputTokens: 100},
	})
	gw.AddRouted(config.AgentFrontendDev, ScriptEntry{Text: "Done."})
	gw.AddRouted(config.AgentStyling, ScriptEntry{Text: "Done."})
	for _, reviewer := range []string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA} {
		gw.AddRouted(reviewer, ScriptEntry{Text: `{"status":"pass"}`})
	}
	gw.AddRouted(config.AgentSummary, ScriptEntry{Text: "Built the dashboard."})

	app := NewTestApp(t, WithGateway(gw),
		WithBudgets(config.BudgetConfig{MaxTokensPerChat: 1000, WarnRatio: 0.8}))

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.Subscribe("agents"))
	_, err = ws.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	app.Orchestrate(t, map[string]any{
		"chat_id":      "chat-warn",
		"project_path": NewProject(t),
		"user_message": "Build a dashboard",
	})
	app.WaitForPipelineIdle(t, "chat-warn")

	// The run completed despite the warning.
	_, steps := app.LatestRun(t, "chat-warn")
	require.Len(t, steps, 7)
	for _, st := range steps {
		assert.Equal(t, models.StepStatusCompleted, st.Status, "step %s", st.Name())
	}
	assert.Equal(t, 850+6*15, app.ChatTokenTotal(t, "chat-warn"))

	warning, err := ws.WaitForAgentStatus("orchestrator", "warning", 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, warning.Parsed["message"], "Approaching token limit: 850 of 1000")

	// Later batches stay over the ratio but the warning fires once.
	var warnings int
	for _, ev := range ws.EventsByType("agent_status") {
		if ev.Parsed["status"] == "warning" {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)

	app.RequireLedgerSettled(t)
}
