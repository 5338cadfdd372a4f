package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requestLogger logs one line per request. Credential headers are never
// logged; only method, path, status, and duration appear.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		// Health probes and metrics scrapes would drown the log.
		if path == "/api/health" || path == "/metrics" {
			return
		}
		log.Info("Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// credentialsFrom extracts per-request provider credentials from
// X-Api-Key-{Provider} and X-Proxy-Url-{Provider} headers. Header lookup is
// case-insensitive, so X-Api-Key-anthropic and X-Api-Key-Anthropic both work.
func credentialsFrom(c *gin.Context) llm.Credentials {
	creds := llm.Credentials{
		APIKeys:   make(map[config.ProviderType]string),
		ProxyURLs: make(map[config.ProviderType]string),
	}
	for _, p := range config.AllProviders() {
		if key := c.GetHeader("X-Api-Key-" + string(p)); key != "" {
			creds.APIKeys[p] = key
		}
		if proxy := c.GetHeader("X-Proxy-Url-" + string(p)); proxy != "" {
			creds.ProxyURLs[p] = proxy
		}
	}
	return creds
}
