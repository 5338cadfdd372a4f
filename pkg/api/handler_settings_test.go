package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAgentSettings(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s.Routes(), http.MethodGet, "/api/settings/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AgentSettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Agents)

	var architect *AgentSettings
	for i := range resp.Agents {
		if resp.Agents[i].Key == "architect" {
			architect = &resp.Agents[i]
		}
	}
	require.NotNil(t, architect, "builtin architect agent must be listed")
	assert.Equal(t, "anthropic", architect.Provider)
	assert.NotEmpty(t, architect.Model)
	assert.Nil(t, architect.Override)
}

func TestModelOverrideLifecycle(t *testing.T) {
	s := newTestServer(t)
	engine := s.Routes()

	t.Run("unknown agent", func(t *testing.T) {
		rec := perform(t, engine, http.MethodPut, "/api/settings/agents/nope/model",
			`{"provider":"openai","model":"gpt-4o"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid provider", func(t *testing.T) {
		rec := perform(t, engine, http.MethodPut, "/api/settings/agents/architect/model",
			`{"provider":"aws","model":"titan"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid provider")
	})

	t.Run("empty model", func(t *testing.T) {
		rec := perform(t, engine, http.MethodPut, "/api/settings/agents/architect/model",
			`{"provider":"openai","model":"  "}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("set, list, clear", func(t *testing.T) {
		rec := perform(t, engine, http.MethodPut, "/api/settings/agents/architect/model",
			`{"provider":"openai","model":"gpt-4o"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = perform(t, engine, http.MethodGet, "/api/settings/agents", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp AgentSettingsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		for _, a := range resp.Agents {
			if a.Key == "architect" {
				require.NotNil(t, a.Override)
				assert.Equal(t, "gpt-4o", a.Override.Model)
			}
		}

		rec = perform(t, engine, http.MethodDelete, "/api/settings/agents/architect/model", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = perform(t, engine, http.MethodGet, "/api/settings/agents", "", nil)
		resp = AgentSettingsResponse{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		for _, a := range resp.Agents {
			if a.Key == "architect" {
				assert.Nil(t, a.Override)
			}
		}
	})
}

func TestPromptOverrideLifecycle(t *testing.T) {
	s := newTestServer(t)
	engine := s.Routes()

	rec := perform(t, engine, http.MethodGet, "/api/settings/agents/architect/prompt", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var before PromptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	assert.NotEmpty(t, before.Prompt, "builtin prompt must resolve")

	rec = perform(t, engine, http.MethodPut, "/api/settings/agents/architect/prompt",
		`{"prompt":"You are a careful technical architect."}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = perform(t, engine, http.MethodGet, "/api/settings/agents/architect/prompt", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after PromptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, "You are a careful technical architect.", after.Prompt)

	rec = perform(t, engine, http.MethodDelete, "/api/settings/agents/architect/prompt", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = perform(t, engine, http.MethodGet, "/api/settings/agents/architect/prompt", "", nil)
	var restored PromptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restored))
	assert.Equal(t, before.Prompt, restored.Prompt)
}

func TestPromptOverrideValidation(t *testing.T) {
	s := newTestServer(t)
	engine := s.Routes()

	rec := perform(t, engine, http.MethodPut, "/api/settings/agents/architect/prompt",
		`{"prompt":"   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "prompt is required")

	rec = perform(t, engine, http.MethodGet, "/api/settings/agents/nope/prompt", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
