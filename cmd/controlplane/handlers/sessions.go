package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/middleware"
	"github.com/lyzr/taskplane/cmd/controlplane/service"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
)

// SessionHandler drives the session lifecycle
type SessionHandler struct {
	sessions *service.SessionService
	log      *logger.Logger
}

func NewSessionHandler(sessions *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log}
}

// Create opens a session
// POST /api/v1/sessions
func (h *SessionHandler) Create(c echo.Context) error {
	var req clients.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	info, err := h.sessions.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	h.log.WithContext(c.Request().Context()).WithSession(info.SessionID).Info("session opened", "user", middleware.GetUsername(c))
	return c.JSON(http.StatusOK, info)
}

// Get returns one session
// GET /api/v1/sessions/:session_id
func (h *SessionHandler) Get(c echo.Context) error {
	info, err := h.sessions.Get(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// Action applies a lifecycle action, e.g. POST /api/v1/sessions/:session_id/cancel
func (h *SessionHandler) Action(action string) echo.HandlerFunc {
	return func(c echo.Context) error {
		info, err := h.sessions.Apply(c.Request().Context(), c.Param("session_id"), action)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, info)
	}
}

// Delete removes a session
// DELETE /api/v1/sessions/:session_id
func (h *SessionHandler) Delete(c echo.Context) error {
	return h.Action(service.ActionDelete)(c)
}
