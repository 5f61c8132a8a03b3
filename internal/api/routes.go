// Package api wires the HTTP surface: health, operator auth, run
// control and raw data ingestion.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/pluvio/hydroclim-go/internal/api/handlers"
	"github.com/pluvio/hydroclim-go/internal/middleware"
)

// Handlers groups the route handlers SetupRoutes mounts.
type Handlers struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Compute *handlers.ComputeHandler
}

// SetupRoutes mounts all routes on the router. Run control, run history
// and ingestion sit behind the JWT middleware; health, the case listing
// and the timestep preview are open.
func SetupRoutes(router *gin.Engine, h Handlers, auth *middleware.AuthMiddleware) {
	router.GET("/health", h.Health.Check)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/login", h.Auth.Login)

		v1.GET("/cases", h.Compute.GetCases)
		v1.GET("/timesteps", h.Compute.GetTimesteps)

		protected := v1.Group("")
		protected.Use(auth.RequireAuth())
		{
			protected.POST("/compute", h.Compute.Compute)
			protected.GET("/runs", h.Compute.GetRuns)
			protected.GET("/runs/:id", h.Compute.GetRun)
			protected.POST("/data/raw", h.Compute.IngestRaw)
		}
	}
}
