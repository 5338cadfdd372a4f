// Package api exposes the orchestrator over HTTP: the four orchestration
// operations, chat and run reads, agent settings, health, Prometheus metrics,
// and the WebSocket event stream. Handlers stay thin; everything stateful
// lives in the pipeline service and the stores.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/ledger"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/metrics"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/pipeline"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/prompt"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Server is the HTTP API server.
type Server struct {
	pipeline   *pipeline.Service
	store      *store.Store
	db         *database.Client
	connMgr    *events.ConnectionManager
	reconciler *ledger.Reconciler
	metrics    *metrics.Metrics
	registry   *config.AgentRegistry
	prompts    *prompt.Store
	system     config.SystemConfig
	log        *slog.Logger

	httpServer *http.Server
}

// ServerConfig carries the server's collaborators.
type ServerConfig struct {
	Pipeline   *pipeline.Service
	Store      *store.Store
	DB         *database.Client
	ConnMgr    *events.ConnectionManager
	Reconciler *ledger.Reconciler
	Metrics    *metrics.Metrics
	Registry   *config.AgentRegistry
	Prompts    *prompt.Store
	System     config.SystemConfig
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		pipeline:   cfg.Pipeline,
		store:      cfg.Store,
		db:         cfg.DB,
		connMgr:    cfg.ConnMgr,
		reconciler: cfg.Reconciler,
		metrics:    cfg.Metrics,
		registry:   cfg.Registry,
		prompts:    cfg.Prompts,
		system:     cfg.System,
		log:        slog.With("component", "api"),
	}
}

// Routes builds the gin engine with all routes and middleware registered.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), securityHeaders())

	r.GET("/ws", s.wsHandler)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.GET("/health", s.healthHandler)

	orch := api.Group("/orchestrate")
	orch.POST("", s.runOrchestrationHandler)
	orch.POST("/resume", s.resumeOrchestrationHandler)
	orch.POST("/abort", s.abortOrchestrationHandler)
	orch.GET("/status", s.orchestrationStatusHandler)

	api.GET("/chats/:id", s.getChatHandler)
	api.GET("/chats/:id/messages", s.listMessagesHandler)
	api.GET("/chats/:id/run", s.latestRunHandler)

	settings := api.Group("/settings")
	settings.GET("/agents", s.listAgentSettingsHandler)
	settings.PUT("/agents/:key/model", s.setModelOverrideHandler)
	settings.DELETE("/agents/:key/model", s.clearModelOverrideHandler)
	settings.GET("/agents/:key/prompt", s.getPromptHandler)
	settings.PUT("/agents/:key/prompt", s.setPromptOverrideHandler)
	settings.DELETE("/agents/:key/prompt", s.clearPromptOverrideHandler)

	api.POST("/admin/reconcile", s.reconcileHandler)

	return r
}

// Start begins serving on the configured listen address. Blocks until the
// server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.system.ListenAddr)
	if err != nil {
		return err
	}
	return s.StartWithListener(ln)
}

// StartWithListener serves on an already-bound listener. Tests use it to
// serve on an ephemeral port. Blocks until the server stops.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.log.Info("API server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
