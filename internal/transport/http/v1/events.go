package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// GetRunEvents retrieves events for a run.
// GET /v1/runs/:run_id/events?after_ts=&types=click,backtrack&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			afterTs = val
		}
	}
	var types []string
	for _, t := range strings.Split(c.QueryParam("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	ctx := c.Request().Context()

	if _, err := h.service.GetRun(ctx, runID); err != nil {
		return serviceError(c, err)
	}
	events, err := h.service.GetRunEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return serviceError(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}

	return c.JSON(http.StatusOK, domain.RunEventsResponse{
		RunID:  runID,
		Events: events,
	})
}

// StreamRun upgrades to a WebSocket carrying the run's live feed.
// GET /v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	if h.streamer == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "live feed is disabled"})
	}
	runID := c.Param("run_id")
	if _, err := h.service.GetRun(c.Request().Context(), runID); err != nil {
		return serviceError(c, err)
	}
	return h.streamer.Serve(c, runID)
}
