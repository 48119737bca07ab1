package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/container"
	"github.com/lyzr/taskplane/cmd/controlplane/handlers"
)

// RegisterEventRoutes registers the websocket event stream
func RegisterEventRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewEventHandler(c.Hub, c.SessionService, c.Components.Logger)

	e.GET("/api/v1/events/ws", h.Subscribe) // GET /api/v1/events/ws?session_id=s-1
}
