package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// mapServiceError writes the HTTP error response for a service-layer error.
func mapServiceError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, pipeline.ErrPipelineRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "a pipeline is already running for this chat"})
	case errors.Is(err, pipeline.ErrNothingToResume):
		c.JSON(http.StatusNotFound, gin.H{"error": "no interrupted pipeline to resume"})
	default:
		slog.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
