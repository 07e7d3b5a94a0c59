// Package http provides the HTTP server for the run API.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/uxrunner/internal/hub"
	"github.com/xiaot623/gogo/uxrunner/internal/service"
	v1 "github.com/xiaot623/gogo/uxrunner/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, streamer *hub.Streamer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, streamer)

	// Register Routes
	v1Handler.RegisterRoutes(e)

	return e
}
