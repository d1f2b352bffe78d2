// Package v1 provides the REST handlers for the assistant API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tempora-app/tempora/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/prompt", h.SubmitPrompt)

	e.GET("/v1/conversations", h.ListConversations)
	e.GET("/v1/conversations/:conversation_id", h.GetConversation)
	e.POST("/v1/conversations/:conversation_id/name", h.RenameConversation)
	e.DELETE("/v1/conversations/:conversation_id", h.DeleteConversation)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
