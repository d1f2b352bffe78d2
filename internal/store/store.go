// Package store defines the persistence interface for conversations.
package store

import (
	"context"
	"errors"

	"github.com/tempora-app/tempora/internal/domain"
)

// ErrNotFound is returned when a conversation does not exist or has been
// soft-deleted. The store never auto-creates on append.
var ErrNotFound = errors.New("conversation not found")

// Store defines the persistence operations for conversations and messages.
//
// AppendMessage and RenameConversation are serialized per conversation id:
// two concurrent writers on the same conversation never interleave, so the
// stored message order is exactly the acceptance order.
type Store interface {
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation returns the conversation with its full ordered message
	// history. Returns ErrNotFound for missing or deleted ids.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// ListConversations returns a user's non-deleted conversations, newest
	// first, without message bodies.
	ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)

	// AppendMessage assigns the next sequence number and stores the message.
	// Returns the stored message with MessageID/Seq/CreatedAt populated.
	AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) (*domain.Message, error)

	RenameConversation(ctx context.Context, conversationID, name string) error

	// DeleteConversation flags the conversation deleted. History is kept.
	DeleteConversation(ctx context.Context, conversationID string) error

	Close() error
}
