package service

import (
	"context"
	"log"
	"strings"

	"github.com/tempora-app/tempora/internal/adapter/llm"
	"github.com/tempora-app/tempora/internal/domain"
)

const namingPrompt = "Summarize the conversation in 5 words or fewer. Respond with only the summary, no punctuation at the end."

// NameConversation derives a short display name from the opening user content
// and stores it, skipping conversations the user already renamed. It runs
// concurrently with the turn that carries the same content; the rename goes
// through the store's serialized write path. Naming is best-effort: on any
// failure the placeholder name stays and the error is only logged.
func (s *Service) NameConversation(ctx context.Context, conversationID, openingText string, images []string) {
	if strings.TrimSpace(openingText) == "" && len(images) == 0 {
		return
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		log.Printf("WARN: naming skipped, failed to load conversation %s: %v", conversationID, err)
		return
	}
	if conv.Name != domain.PlaceholderName {
		return
	}

	opening := toChatMessage(domain.Message{
		Role:    domain.RoleUser,
		Content: openingText,
		Images:  images,
	})

	temperature := 0.0
	resp, err := s.completeWithRetry(ctx, &llm.ChatCompletionRequest{
		Model:       s.config.NamingModel,
		Temperature: &temperature,
		Messages: []llm.ChatMessage{
			{Role: string(domain.RoleSystem), Content: namingPrompt},
			opening,
		},
	})
	if err != nil {
		log.Printf("WARN: naming failed for conversation %s: %v", conversationID, err)
		return
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		log.Printf("WARN: naming returned no choices for conversation %s", conversationID)
		return
	}

	name := sanitizeName(resp.Choices[0].Message.Content)
	if name == "" {
		return
	}

	if err := s.store.RenameConversation(ctx, conversationID, name); err != nil {
		log.Printf("WARN: failed to store name for conversation %s: %v", conversationID, err)
		return
	}
	if err := s.broadcaster.PublishJSON(conversationID, domain.NewNameEvent(conversationID, name)); err != nil {
		log.Printf("WARN: failed to broadcast name for %s: %v", conversationID, err)
	}
}

// sanitizeName trims whitespace and wrapping quotes from a model-produced
// name and caps its length.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, `"'`)
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > 80 {
		name = strings.TrimSpace(string(runes[:80]))
	}
	return name
}
