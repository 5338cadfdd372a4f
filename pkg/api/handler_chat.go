package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getChatHandler handles GET /api/chats/:id.
func (s *Server) getChatHandler(c *gin.Context) {
	chatID := c.Param("id")

	chat, err := s.store.Chats.GetChat(c.Request.Context(), chatID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

// listMessagesHandler handles GET /api/chats/:id/messages.
// Returns the full conversation in chronological order, including the
// system notices the orchestrator inserts on halts and restarts.
func (s *Server) listMessagesHandler(c *gin.Context) {
	chatID := c.Param("id")

	if _, err := s.store.Chats.GetChat(c.Request.Context(), chatID); err != nil {
		mapServiceError(c, err)
		return
	}
	msgs, err := s.store.Chats.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, &MessagesResponse{ChatID: chatID, Messages: msgs})
}

// latestRunHandler handles GET /api/chats/:id/run.
// Returns the chat's most recent pipeline run with its step rows, which is
// how a client reconstructs pipeline state after reconnecting.
func (s *Server) latestRunHandler(c *gin.Context) {
	chatID := c.Param("id")

	run, err := s.store.Executions.LatestPipelineRun(c.Request.Context(), chatID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	steps, err := s.store.Executions.ListSteps(c.Request.Context(), run.ID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, &RunDetailResponse{Run: run, Steps: steps})
}
