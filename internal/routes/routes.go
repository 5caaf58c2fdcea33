// Package routes wires the gin router: health check, per-caller
// throttle (agent identity, else source IP), CORS, then one
// SetupXRoutes call per domain. Every SetupXRoutes
// function here takes the shared handlers.Deps instead of reading from
// a package-level DB.
package routes

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"vaultcore/internal/handlers"
	"vaultcore/internal/middleware"
	"vaultcore/pkg/vaultconfig"
)

// SetupRouter builds the gin engine serving the wallet and strategy
// tool surface.
func SetupRouter(deps *handlers.Deps, cfg *vaultconfig.Config) *gin.Engine {
	r := gin.Default()

	// Add health check endpoint
	r.Any("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})

	r.Use(middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.HTTPRateLimitPerSecond,
		Burst:             cfg.HTTPRateLimitBurst,
	}))

	// Configure CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Get allowed origins from environment variable
		// Format: comma-separated list, e.g., "http://localhost:3000,http://localhost:3001"
		allowedOriginsStr := os.Getenv("ALLOWED_ORIGINS")
		var allowedOrigins []string

		if allowedOriginsStr != "" {
			origins := strings.Split(allowedOriginsStr, ",")
			for _, o := range origins {
				trimmed := strings.TrimSpace(o)
				if trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		}

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				allowed = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Cache-Control, X-Requested-With, X-Agent-Id")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupWalletRoutes(r, deps)
	SetupStrategyRoutes(r, deps)
	SetupAdminRoutes(r, deps)

	return r
}
