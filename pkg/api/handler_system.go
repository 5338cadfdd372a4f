package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/database"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/version"
)

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())

	resp := HealthResponse{
		Status:   "healthy",
		Version:  version.Full(),
		Database: dbHealth,
		Configuration: ConfigurationStats{
			Agents:    len(s.registry.All()),
			Providers: len(config.AllProviders()),
		},
	}
	if s.connMgr != nil {
		resp.WSConnections = s.connMgr.ActiveConnections()
	}

	if err != nil {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// reconcileHandler handles POST /api/admin/reconcile.
// Recomputes every billing ledger row against the current pricing catalog.
func (s *Server) reconcileHandler(c *gin.Context) {
	if s.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler is not configured"})
		return
	}

	stats, err := s.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, &ReconcileResponse{Stats: stats})
}
