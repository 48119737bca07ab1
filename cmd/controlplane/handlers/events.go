package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/events"
	"github.com/lyzr/taskplane/cmd/controlplane/service"
	"github.com/lyzr/taskplane/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventHandler upgrades subscribers to the session event stream
type EventHandler struct {
	hub      *events.Hub
	sessions *service.SessionService
	log      *logger.Logger
}

func NewEventHandler(hub *events.Hub, sessions *service.SessionService, log *logger.Logger) *EventHandler {
	return &EventHandler{hub: hub, sessions: sessions, log: log}
}

// Subscribe streams result events of one session
// GET /api/v1/events/ws?session_id=...
func (h *EventHandler) Subscribe(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id query parameter required")
	}
	if _, err := h.sessions.Get(c.Request().Context(), sessionID); err != nil {
		return httpError(err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.WithSession(sessionID).Warn("websocket upgrade failed", "error", err)
		return nil
	}

	events.NewClient(h.hub, conn, sessionID).Serve()
	h.log.WithSession(sessionID).Debug("event subscriber connected")
	return nil
}
