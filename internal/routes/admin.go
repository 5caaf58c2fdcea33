package routes

import (
	"github.com/gin-gonic/gin"

	"vaultcore/internal/handlers"
)

// SetupAdminRoutes sets up operator-facing routes that observe rather
// than drive wallet or strategy state.
func SetupAdminRoutes(r *gin.Engine, deps *handlers.Deps) {
	r.GET("/admin/events/stream", handlers.StreamEvents(deps))
}
