package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to
// ConnectionManager. Blocks until the client disconnects.
func (s *Server) wsHandler(c *gin.Context) {
	if s.connMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WebSocket not available"})
		return
	}

	// An empty origin allowlist means same-origin only, which is
	// coder/websocket's default behavior.
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.system.AllowedWSOrigins,
	})
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	s.connMgr.HandleConnection(c.Request.Context(), conn)
}
