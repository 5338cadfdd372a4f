package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
)

// runOrchestrationHandler handles POST /api/orchestrate.
// Starts a pipeline and returns immediately; progress streams over /ws.
func (s *Server) runOrchestrationHandler(c *gin.Context) {
	var req OrchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChatID == "" || req.ProjectPath == "" || req.UserMessage == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id, project_path and user_message are required"})
		return
	}
	if len(req.UserMessage) > maxUserMessageChars {
		c.JSON(http.StatusRequestEntityTooLarge,
			gin.H{"error": fmt.Sprintf("user_message exceeds maximum length of %d characters", maxUserMessageChars)})
		return
	}

	creds := credentialsFrom(c)
	if len(creds.APIKeys) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one X-Api-Key-{provider} header is required"})
		return
	}

	err := s.pipeline.Start(c.Request.Context(), pipeline.Request{
		ChatID:       req.ChatID,
		ProjectID:    req.ProjectID,
		ProjectPath:  req.ProjectPath,
		UserMessage:  req.UserMessage,
		Intent:       models.Intent(req.Intent),
		Scope:        models.Scope(req.Scope),
		ResearchJSON: req.ResearchJSON,
		TestResults:  req.TestResults,
		Credentials:  creds,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, &OrchestrateResponse{
		ChatID:  req.ChatID,
		Status:  "started",
		Message: "Pipeline started; progress streams on the agents topic",
	})
}

// resumeOrchestrationHandler handles POST /api/orchestrate/resume.
// Continues an interrupted run from its first non-completed step.
func (s *Server) resumeOrchestrationHandler(c *gin.Context) {
	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChatID == "" && req.PipelineRunID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id or pipeline_run_id is required"})
		return
	}

	creds := credentialsFrom(c)
	if len(creds.APIKeys) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one X-Api-Key-{provider} header is required"})
		return
	}

	runID, err := s.pipeline.Resume(c.Request.Context(), req.ChatID, req.PipelineRunID, creds)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, &OrchestrateResponse{
		ChatID:        req.ChatID,
		PipelineRunID: runID,
		Status:        "resumed",
		Message:       "Pipeline resumed from the first non-completed step",
	})
}

// abortOrchestrationHandler handles POST /api/orchestrate/abort.
func (s *Server) abortOrchestrationHandler(c *gin.Context) {
	var req AbortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}

	if !s.pipeline.Abort(c.Request.Context(), req.ChatID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active pipeline for this chat"})
		return
	}

	c.JSON(http.StatusOK, &OrchestrateResponse{
		ChatID:  req.ChatID,
		Status:  "aborting",
		Message: "Abort requested; in-flight steps will stop",
	})
}

// orchestrationStatusHandler handles GET /api/orchestrate/status?chat_id=.
func (s *Server) orchestrationStatusHandler(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}

	c.JSON(http.StatusOK, &StatusResponse{
		ChatID:  chatID,
		Running: s.pipeline.IsRunning(chatID),
	})
}
