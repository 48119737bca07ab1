package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/container"
	"github.com/lyzr/taskplane/cmd/controlplane/handlers"
	"github.com/lyzr/taskplane/cmd/controlplane/service"
)

// RegisterSessionRoutes registers the session lifecycle routes
func RegisterSessionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSessionHandler(c.SessionService, c.Components.Logger)

	sessions := e.Group("/api/v1/sessions")
	{
		sessions.POST("", h.Create)               // POST /api/v1/sessions
		sessions.GET("/:session_id", h.Get)       // GET /api/v1/sessions/s-1
		sessions.DELETE("/:session_id", h.Delete) // DELETE /api/v1/sessions/s-1

		for _, action := range []string{
			service.ActionCancel,
			service.ActionClose,
			service.ActionPause,
			service.ActionResume,
			service.ActionStopSubmission,
			service.ActionPurge,
		} {
			sessions.POST("/:session_id/"+action, h.Action(action)) // POST /api/v1/sessions/s-1/cancel
		}
	}
}
