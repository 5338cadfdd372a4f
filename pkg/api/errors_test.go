package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        store.NewValidationError("chat_id", "required"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "chat_id",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", store.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "pipeline running maps to 409",
			err:        pipeline.ErrPipelineRunning,
			expectCode: http.StatusConflict,
			expectMsg:  "already running",
		},
		{
			name:       "nothing to resume maps to 404",
			err:        pipeline.ErrNothingToResume,
			expectCode: http.StatusNotFound,
			expectMsg:  "no interrupted pipeline",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := testContext(rec)

			mapServiceError(c, tt.err)

			assert.Equal(t, tt.expectCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectMsg)
		})
	}
}
