package routes

import (
	"github.com/gin-gonic/gin"

	"vaultcore/internal/handlers"
)

// SetupStrategyRoutes sets up all routes related to recurring transfer
// strategy management.
func SetupStrategyRoutes(r *gin.Engine, deps *handlers.Deps) {
	strategies := r.Group("/strategies")
	{
		strategies.POST("", handlers.CreateStrategy(deps))
		strategies.GET("", handlers.ListStrategies(deps))
		strategies.GET("/:label", handlers.StrategyStatus(deps))
		strategies.DELETE("/:label", handlers.DeleteStrategy(deps))
		strategies.POST("/:label/start", handlers.StartStrategy(deps))
		strategies.POST("/:label/stop", handlers.StopStrategy(deps))
		strategies.POST("/:label/tick", handlers.TickStrategy(deps))
	}
}
