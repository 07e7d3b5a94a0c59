// Package v1 provides the public HTTP API for runs and findings.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/uxrunner/internal/hub"
	"github.com/xiaot623/gogo/uxrunner/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	streamer *hub.Streamer
}

// NewHandler creates a new handler. streamer may be nil, which disables the live feed.
func NewHandler(service *service.Service, streamer *hub.Streamer) *Handler {
	return &Handler{
		service:  service,
		streamer: streamer,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", h.LaunchRun)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/stop", h.StopRun)
	e.POST("/v1/runs/:run_id/resume", h.ResumeRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/findings", h.ListFindings)
	e.GET("/v1/runs/:run_id/stream", h.StreamRun)
	e.GET("/v1/tests/:test_id/findings", h.AggregateTestFindings)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// serviceError maps service errors onto status codes.
func serviceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrRunFinished):
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
