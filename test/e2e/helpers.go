package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP helpers
// ────────────────────────────────────────────────────────────

// Orchestrate posts a pipeline request with the test credentials and
// expects 202 Accepted.
func (app *TestApp) Orchestrate(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/orchestrate", body, http.StatusAccepted)
}

// OrchestrateExpect posts a pipeline request and asserts the given status.
func (app *TestApp) OrchestrateExpect(t *testing.T, body map[string]any, expectedStatus int) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/orchestrate", body, expectedStatus)
}

// Abort posts an abort for the chat's running pipeline.
func (app *TestApp) Abort(t *testing.T, chatID string) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/orchestrate/abort", map[string]any{"chat_id": chatID}, http.StatusOK)
}

// Resume posts a resume request and expects 202 Accepted.
func (app *TestApp) Resume(t *testing.T, chatID, runID string) map[string]any {
	t.Helper()
	body := map[string]any{"chat_id": chatID}
	if runID != "" {
		body["pipeline_run_id"] = runID
	}
	return app.postJSON(t, "/api/orchestrate/resume", body, http.StatusAccepted)
}

// PipelineRunning reads GET /api/orchestrate/status for the chat.
func (app *TestApp) PipelineRunning(t *testing.T, chatID string) bool {
	t.Helper()
	resp := app.getJSON(t, "/api/orchestrate/status?chat_id="+chatID, http.StatusOK)
	running, _ := resp["running"].(bool)
	return running
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	return app.sendJSON(t, http.MethodPost, path, body, expectedStatus)
}

func (app *TestApp) putJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	return app.sendJSON(t, http.MethodPut, path, body, expectedStatus)
}

func (app *TestApp) sendJSON(t *testing.T, method, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key-Anthropic", TestAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: unexpected status", method, path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// Polling helpers
// ────────────────────────────────────────────────────────────

// WaitForPipelineIdle polls the status endpoint until no pipeline is
// active for the chat. Call it after Orchestrate returned 202: the run is
// registered before the response goes out, so this cannot race the start.
func (app *TestApp) WaitForPipelineIdle(t *testing.T, chatID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !app.PipelineRunning(t, chatID)
	}, 30*time.Second, 100*time.Millisecond, "pipeline for chat %s never went idle", chatID)
}

// WaitForStepStatus polls the store until the named step (agent key or
// instance ID) of the chat's latest run reaches the expected status.
func (app *TestApp) WaitForStepStatus(t *testing.T, chatID, name string, expected models.StepStatus) {
	t.Helper()
	var last models.StepStatus
	require.Eventually(t, func() bool {
		st := app.StepByName(t, chatID, name)
		if st == nil {
			return false
		}
		last = st.Status
		return st.Status == expected
	}, 30*time.Second, 100*time.Millisecond,
		"step %s never reached %s (last: %s)", name, expected, last)
}

// LatestRun loads the chat's most recent pipeline run and its steps.
func (app *TestApp) LatestRun(t *testing.T, chatID string) (*models.PipelineRun, []*models.Step) {
	t.Helper()
	run, err := app.Store.Executions.LatestPipelineRun(context.Background(), chatID)
	require.NoError(t, err)
	steps, err := app.Store.Executions.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	return run, steps
}

// StepByName returns the named step of the chat's latest run, nil when the
// run or step does not exist yet.
func (app *TestApp) StepByName(t *testing.T, chatID, name string) *models.Step {
	t.Helper()
	run, err := app.Store.Executions.LatestPipelineRun(context.Background(), chatID)
	if err != nil {
		return nil
	}
	steps, err := app.Store.Executions.ListSteps(context.Background(), run.ID)
	if err != nil {
		return nil
	}
	return stepByName(steps, name)
}

func stepByName(steps []*models.Step, name string) *models.Step {
	for _, st := range steps {
		if st.Name() == name {
			return st
		}
	}
	return nil
}

func stepsByAgent(steps []*models.Step, agentKey string) []*models.Step {
	var out []*models.Step
	for _, st := range steps {
		if st.AgentKey == agentKey {
			out = append(out, st)
		}
	}
	return out
}

// Messages returns the chat's messages in insertion order.
func (app *TestApp) Messages(t *testing.T, chatID string) []models.Message {
	t.Helper()
	msgs, err := app.Store.Chats.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	return msgs
}

// MessagesByRole filters the chat's messages by role.
func (app *TestApp) MessagesByRole(t *testing.T, chatID, role string) []models.Message {
	t.Helper()
	var out []models.Message
	for _, m := range app.Messages(t, chatID) {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Ledger assertions
// ────────────────────────────────────────────────────────────

// ProvisionalRows counts write-ahead rows that were neither finalized nor
// voided, across both accounting tables.
func (app *TestApp) ProvisionalRows(t *testing.T) int {
	t.Helper()
	count := 0
	for _, table := range []string{"token_usage", "billing_ledger"} {
		var n int
		row := app.Store.DB().QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE estimated = 1`, table))
		require.NoError(t, row.Scan(&n))
		count += n
	}
	return count
}

// RequireLedgerSettled asserts that no provisional accounting rows remain.
// Terminal pipelines settled every write-ahead record by finalizing or
// voiding it; rows still marked estimated are leaks.
func (app *TestApp) RequireLedgerSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return app.ProvisionalRows(t) == 0
	}, 10*time.Second, 100*time.Millisecond, "provisional ledger rows were never settled")
}

// ChatTokenTotal sums the chat's recorded tokens, provisional included.
func (app *TestApp) ChatTokenTotal(t *testing.T, chatID string) int {
	t.Helper()
	total, err := app.Store.Tokens.SumChatTokens(context.Background(), chatID)
	require.NoError(t, err)
	return total
}

// ────────────────────────────────────────────────────────────
// Project fixtures
// ────────────────────────────────────────────────────────────

// NewProject creates an empty project directory. An empty directory makes
// the pipeline skip classification and build from scratch.
func NewProject(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// NewSeededProject creates a project directory with one existing file so
// the pipeline treats it as an established project and runs the classifier.
func NewSeededProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!doctype html>\n"), 0o644))
	return dir
}

// RequireFile asserts a project file exists and returns its content.
func RequireFile(t *testing.T, projectDir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(projectDir, rel))
	require.NoError(t, err, "expected project file %s", rel)
	return string(data)
}
