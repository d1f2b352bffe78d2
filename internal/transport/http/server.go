// Package http provides the HTTP server for the assistant.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tempora-app/tempora/internal/service"
	v1 "github.com/tempora-app/tempora/internal/transport/http/v1"
	"github.com/tempora-app/tempora/internal/ws"
)

// NewServer creates and configures the HTTP server. It serves the REST API
// and the WebSocket subscription endpoint on one listener.
func NewServer(svc *service.Service, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	v1Handler.RegisterRoutes(e)

	e.GET("/ws/conversations/:conversation_id", wsServer.HandleWebSocket)

	return e
}
