package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/service"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
)

// TaskHandler accepts task submissions
type TaskHandler struct {
	tasks *service.TaskService
	log   *logger.Logger
}

func NewTaskHandler(tasks *service.TaskService, log *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, log: log}
}

// Submit creates a batch of tasks
// POST /api/v1/sessions/:session_id/tasks
func (h *TaskHandler) Submit(c echo.Context) error {
	var req clients.SubmitTasksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.SessionID = c.Param("session_id")

	infos, err := h.tasks.Submit(c.Request().Context(), req.SessionID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, clients.SubmitTasksResponse{TaskInfos: infos})
}

// List returns the tasks of a session
// GET /api/v1/sessions/:session_id/tasks
func (h *TaskHandler) List(c echo.Context) error {
	tasks, err := h.tasks.List(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}
