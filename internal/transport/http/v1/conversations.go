package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tempora-app/tempora/internal/domain"
	"github.com/tempora-app/tempora/internal/service"
	"github.com/tempora-app/tempora/internal/store"
)

// SubmitPrompt accepts a prompt and starts the turn in the background.
// POST /v1/prompt
func (h *Handler) SubmitPrompt(c echo.Context) error {
	var req domain.PromptRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Prompt == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	conversationID, err := h.service.StartTurn(c.Request().Context(), service.PromptInput{
		UserID:             req.UserID,
		Prompt:             req.Prompt,
		Images:             req.Images,
		ConversationID:     req.ConversationID,
		GoogleRefreshToken: req.GoogleRefreshToken,
		Timezone:           req.Timezone,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, domain.PromptResponse{ConversationID: conversationID})
}

// ListConversations returns a user's conversations, newest first.
// GET /v1/conversations?user_id=...&limit=...
func (h *Handler) ListConversations(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	conversations, err := h.service.ListConversations(c.Request().Context(), userID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": conversations,
	})
}

// GetConversation returns one conversation with its full history.
// GET /v1/conversations/:conversation_id
func (h *Handler) GetConversation(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	conv, err := h.service.GetConversation(c.Request().Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, conv)
}

// RenameConversation sets a user-chosen display name.
// POST /v1/conversations/:conversation_id/name
func (h *Handler) RenameConversation(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	var req domain.RenameRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	if err := h.service.RenameConversation(c.Request().Context(), conversationID, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"conversation_id": conversationID,
		"name":            req.Name,
	})
}

// DeleteConversation soft-deletes a conversation.
// DELETE /v1/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	if err := h.service.DeleteConversation(c.Request().Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}
