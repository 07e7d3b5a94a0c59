package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// LaunchRun queues a new run.
// POST /v1/runs
func (h *Handler) LaunchRun(c echo.Context) error {
	var req domain.LaunchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.LaunchRun(c.Request().Context(), req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// GetRun returns the stored run with its event log.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// StopRun ends the active execution of a run.
// POST /v1/runs/:run_id/stop
func (h *Handler) StopRun(c echo.Context) error {
	run, err := h.service.StopRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":  run.RunID,
		"status":  run.Status,
		"message": "run stopped",
	})
}

// ResumeRun continues an interrupted run from its last checkpoint.
// POST /v1/runs/:run_id/resume
func (h *Handler) ResumeRun(c echo.Context) error {
	resp, err := h.service.ResumeRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}
