package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListFindings returns the clustered findings of a run.
// GET /v1/runs/:run_id/findings
func (h *Handler) ListFindings(c echo.Context) error {
	res, err := h.service.ListFindings(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// AggregateTestFindings merges findings across every run of a test.
// GET /v1/tests/:test_id/findings
func (h *Handler) AggregateTestFindings(c echo.Context) error {
	res, err := h.service.AggregateTestFindings(c.Request().Context(), c.Param("test_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
