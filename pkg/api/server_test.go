package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/metrics"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/prompt"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// newTestServer builds a Server over an in-memory database. The pipeline
// service carries no runner, so tests exercise only handlers that never
// start an agent.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client, err := database.NewClient(context.Background(), database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	return NewServer(ServerConfig{
		Pipeline: pipeline.NewService(pipeline.ServiceConfig{Store: st}),
		Store:    st,
		DB:       client,
		ConnMgr:  events.NewConnectionManager(time.Second),
		Metrics:  metrics.New(),
		Registry: config.NewAgentRegistry(config.GetBuiltinAgents()),
		Prompts:  prompt.NewStore("", st.Settings),
		System:   config.SystemConfig{ListenAddr: "127.0.0.1:0"},
	})
}

func perform(t *testing.T, engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s.Routes(), http.MethodGet, "/api/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"version":"pagegen `)
	assert.Contains(t, rec.Body.String(), `"agents":`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s.Routes(), http.MethodGet, "/metrics", "", nil)

	// Label-less collectors are present in the scrape even before any
	// pipeline has run.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "active_pipelines")
}

func TestSecurityHeadersSet(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s.Routes(), http.MethodGet, "/api/health", "", nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s.Routes(), http.MethodGet, "/api/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
