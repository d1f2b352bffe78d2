package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tempora-app/tempora/internal/adapter/calendar"
	"github.com/tempora-app/tempora/internal/domain"
	"github.com/tempora-app/tempora/internal/tool"
)

// generateConversationID returns a short prefixed id like conv_a1b2c3d4.
func generateConversationID() string {
	return "conv_" + uuid.New().String()[:8]
}

// PromptInput carries everything needed to start or continue a turn.
type PromptInput struct {
	UserID             string
	Prompt             string
	Images             []string
	ConversationID     string
	GoogleRefreshToken string
	Timezone           string
}

// StartTurn accepts a prompt and runs the turn in the background. It creates
// the conversation when no id is given, and returns the id immediately so the
// caller can subscribe before the first broadcast lands.
func (s *Service) StartTurn(ctx context.Context, input PromptInput) (string, error) {
	if input.Prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}
	if input.UserID == "" {
		return "", fmt.Errorf("user_id is required")
	}

	conversationID := input.ConversationID
	isNew := conversationID == ""
	if isNew {
		conversationID = generateConversationID()
		conv := &domain.Conversation{
			ConversationID: conversationID,
			UserID:         input.UserID,
			Name:           domain.PlaceholderName,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return "", fmt.Errorf("failed to create conversation: %w", err)
		}
	} else {
		if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
			return "", err
		}
	}

	auth := &tool.AuthContext{
		UserID:   input.UserID,
		Timezone: input.Timezone,
	}
	if input.GoogleRefreshToken != "" {
		auth.Calendar = calendar.NewClient(calendar.OAuthConfig{
			ClientID:     s.config.GoogleClientID,
			ClientSecret: s.config.GoogleClientSecret,
		}, input.GoogleRefreshToken, s.config.ToolTimeout)
	}

	// Naming is fire-and-forget from creation, racing the turn's own appends;
	// the rename is serialized by the store like any other write.
	if isNew {
		go s.NameConversation(context.Background(), conversationID, input.Prompt, input.Images)
	}

	go func() {
		// The turn outlives the HTTP request that started it.
		if err := s.RunTurn(context.Background(), conversationID, UserContent{
			Text:   input.Prompt,
			Images: input.Images,
		}, auth); err != nil {
			log.Printf("ERROR: turn failed for conversation %s: %v", conversationID, err)
		}
	}()

	return conversationID, nil
}

// GetConversation returns a conversation with its full message history.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}

// ListConversations returns a user's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	return s.store.ListConversations(ctx, userID, limit)
}

// RenameConversation sets a user-chosen display name and announces it.
func (s *Service) RenameConversation(ctx context.Context, conversationID, name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if err := s.store.RenameConversation(ctx, conversationID, name); err != nil {
		return err
	}
	if err := s.broadcaster.PublishJSON(conversationID, domain.NewNameEvent(conversationID, name)); err != nil {
		log.Printf("WARN: failed to broadcast rename for %s: %v", conversationID, err)
	}
	return nil
}

// DeleteConversation soft-deletes a conversation.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.store.DeleteConversation(ctx, conversationID)
}
