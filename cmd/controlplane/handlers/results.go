package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/taskplane/cmd/controlplane/service"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/models"
)

// ResultHandler serves result metadata and data
type ResultHandler struct {
	results *service.ResultService
	log     *logger.Logger
}

func NewResultHandler(results *service.ResultService, log *logger.Logger) *ResultHandler {
	return &ResultHandler{results: results, log: log}
}

// ServiceConfiguration returns the data limits
// GET /api/v1/results/service-configuration
func (h *ResultHandler) ServiceConfiguration(c echo.Context) error {
	return c.JSON(http.StatusOK, h.results.ServiceConfiguration())
}

type createMetadataRequest struct {
	Names []string `json:"names"`
}

type createResultsRequest struct {
	Results []clients.ResultData `json:"results"`
}

type resultsResponse struct {
	Results []models.BlobState `json:"results"`
}

// CreateMetadata creates results that will be uploaded later
// POST /api/v1/sessions/:session_id/results/metadata
func (h *ResultHandler) CreateMetadata(c echo.Context) error {
	var req createMetadataRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	states, err := h.results.CreateMetadata(c.Request().Context(), c.Param("session_id"), req.Names)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resultsResponse{Results: states})
}

// Create creates results together with their data
// POST /api/v1/sessions/:session_id/results
func (h *ResultHandler) Create(c echo.Context) error {
	var req createResultsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	states, err := h.results.CreateWithData(c.Request().Context(), c.Param("session_id"), req.Results)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resultsResponse{Results: states})
}

// Upload consumes a framed upload stream
// POST /api/v1/results/upload
func (h *ResultHandler) Upload(c echo.Context) error {
	states, err := h.results.Upload(c.Request().Context(), c.Request().Body)
	if err != nil {
		h.log.WithContext(c.Request().Context()).Warn("upload rejected", "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, clients.UploadAck{Results: states})
}

// Download streams result data as frames of at most the advertised chunk size
// GET /api/v1/sessions/:session_id/results/:result_id/data
func (h *ResultHandler) Download(c echo.Context) error {
	sessionID, resultID := c.Param("session_id"), c.Param("result_id")

	pieces, err := h.results.OpenDownload(c.Request().Context(), sessionID, resultID)
	if err != nil {
		return httpError(err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	resp.WriteHeader(http.StatusOK)

	for _, piece := range pieces {
		frame := clients.Frame{Op: clients.OpData, SessionID: sessionID, ResultID: resultID, Data: piece}
		if err := frame.Encode(resp); err != nil {
			// The client went away; nothing left to report to it
			h.log.WithSession(sessionID).WithResult(resultID).Debug("download aborted", "error", err)
			return nil
		}
		resp.Flush()
	}
	return nil
}

// Get returns the state of one result
// GET /api/v1/results/:result_id
func (h *ResultHandler) Get(c echo.Context) error {
	state, err := h.results.Get(c.Request().Context(), c.Param("result_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, state)
}

// List pages through results
// GET /api/v1/results?session_id=&filter=&page=&page_size=&sort_field=&sort_direction=
func (h *ResultHandler) List(c echo.Context) error {
	req := models.ListBlobsRequest{
		SessionID:     c.QueryParam("session_id"),
		Filter:        c.QueryParam("filter"),
		SortField:     c.QueryParam("sort_field"),
		SortDirection: models.SortDirection(c.QueryParam("sort_direction")),
	}

	var err error
	if req.Page, err = intParam(c, "page"); err != nil {
		return err
	}
	if req.PageSize, err = intParam(c, "page_size"); err != nil {
		return err
	}

	page, err := h.results.List(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}
