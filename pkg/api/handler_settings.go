package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// listAgentSettingsHandler handles GET /api/settings/agents.
// Returns every configured agent with its effective model and any operator
// override.
func (s *Server) listAgentSettingsHandler(c *gin.Context) {
	resp := AgentSettingsResponse{Agents: []AgentSettings{}}

	for _, key := range s.registry.Keys() {
		cfg, err := s.registry.Get(key)
		if err != nil {
			continue
		}
		item := AgentSettings{
			Key:             key,
			DisplayName:     cfg.DisplayName,
			Provider:        string(cfg.Provider),
			Model:           cfg.Model,
			Group:           string(cfg.Group),
			Tools:           cfg.Tools,
			MaxOutputTokens: cfg.MaxOutputTokens,
			MaxToolSteps:    cfg.MaxToolSteps,
		}
		ov, err := s.store.Settings.AgentOverride(c.Request.Context(), key)
		if err == nil {
			item.Override = ov
		} else if !errors.Is(err, store.ErrNotFound) {
			mapServiceError(c, err)
			return
		}
		resp.Agents = append(resp.Agents, item)
	}

	c.JSON(http.StatusOK, resp)
}

// setModelOverrideHandler handles PUT /api/settings/agents/:key/model.
func (s *Server) setModelOverrideHandler(c *gin.Context) {
	key := c.Param("key")
	if !s.registry.Has(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + key})
		return
	}

	var req ModelOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider := config.ProviderType(req.Provider)
	if !provider.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider: " + req.Provider})
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	err := s.store.Settings.SetAgentOverride(c.Request.Context(), key, store.ModelOverride{
		Provider: provider,
		Model:    req.Model,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent_key": key, "provider": req.Provider, "model": req.Model})
}

// clearModelOverrideHandler handles DELETE /api/settings/agents/:key/model.
func (s *Server) clearModelOverrideHandler(c *gin.Context) {
	key := c.Param("key")
	if !s.registry.Has(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + key})
		return
	}

	if err := s.store.Settings.ClearAgentOverride(c.Request.Context(), key); err != nil {
		mapServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// getPromptHandler handles GET /api/settings/agents/:key/prompt.
// Returns the effective system prompt after override and disk resolution.
func (s *Server) getPromptHandler(c *gin.Context) {
	key := c.Param("key")
	if !s.registry.Has(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + key})
		return
	}

	c.JSON(http.StatusOK, &PromptResponse{
		AgentKey: key,
		Prompt:   s.prompts.Resolve(c.Request.Context(), key),
	})
}

// setPromptOverrideHandler handles PUT /api/settings/agents/:key/prompt.
func (s *Server) setPromptOverrideHandler(c *gin.Context) {
	key := c.Param("key")
	if !s.registry.Has(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + key})
		return
	}

	var req PromptOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	if err := s.store.Settings.SetPromptOverride(c.Request.Context(), key, req.Prompt); err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, &PromptResponse{AgentKey: key, Prompt: req.Prompt})
}

// clearPromptOverrideHandler handles DELETE /api/settings/agents/:key/prompt.
func (s *Server) clearPromptOverrideHandler(c *gin.Context) {
	key := c.Param("key")
	if !s.registry.Has(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + key})
		return
	}

	if err := s.store.Settings.ClearPromptOverride(c.Request.Context(), key); err != nil {
		mapServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
