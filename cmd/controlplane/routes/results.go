package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/container"
	"github.com/lyzr/taskplane/cmd/controlplane/handlers"
)

// RegisterResultRoutes registers result metadata and data routes
func RegisterResultRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewResultHandler(c.ResultService, c.Components.Logger)

	results := e.Group("/api/v1/results")
	{
		results.GET("", h.List)                                       // GET /api/v1/results?session_id=...
		results.GET("/service-configuration", h.ServiceConfiguration) // GET /api/v1/results/service-configuration
		results.POST("/upload", h.Upload)                             // POST /api/v1/results/upload (framed stream)
		results.GET("/:result_id", h.Get)                             // GET /api/v1/results/r-1
	}

	sessionResults := e.Group("/api/v1/sessions/:session_id/results")
	{
		sessionResults.POST("", h.Create)                  // POST /api/v1/sessions/s-1/results
		sessionResults.POST("/metadata", h.CreateMetadata) // POST /api/v1/sessions/s-1/results/metadata
		sessionResults.GET("/:result_id/data", h.Download) // GET /api/v1/sessions/s-1/results/r-1/data
	}
}
