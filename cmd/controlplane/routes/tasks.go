package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/container"
	"github.com/lyzr/taskplane/cmd/controlplane/handlers"
)

// RegisterTaskRoutes registers task submission routes
func RegisterTaskRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewTaskHandler(c.TaskService, c.Components.Logger)

	tasks := e.Group("/api/v1/sessions/:session_id/tasks")
	{
		tasks.POST("", h.Submit) // POST /api/v1/sessions/s-1/tasks
		tasks.GET("", h.List)    // GET /api/v1/sessions/s-1/tasks
	}
}
