package domain

// Event types pushed to WebSocket subscribers. Every accepted store mutation
// is mirrored as one event; a full snapshot is sent once on join.
const (
	EventConversationMessage  = "conversation_message"
	EventConversationName     = "conversation_name"
	EventConversationSnapshot = "conversation_snapshot"
)

// MessageEvent wraps an accepted message for subscriber delivery.
type MessageEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// NameEvent announces a conversation rename.
type NameEvent struct {
	Type    string      `json:"type"`
	Message NamePayload `json:"message"`
}

// NamePayload carries the new display name.
type NamePayload struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}

// SnapshotEvent delivers the full current conversation to a new subscriber.
type SnapshotEvent struct {
	Type    string       `json:"type"`
	Message Conversation `json:"message"`
}

// NewMessageEvent builds the broadcast payload for an accepted message.
func NewMessageEvent(msg Message) MessageEvent {
	return MessageEvent{Type: EventConversationMessage, Message: msg}
}

// NewNameEvent builds the broadcast payload for a rename.
func NewNameEvent(conversationID, name string) NameEvent {
	return NameEvent{Type: EventConversationName, Message: NamePayload{
		ConversationID: conversationID,
		Name:           name,
	}}
}

// NewSnapshotEvent builds the join-time snapshot payload.
func NewSnapshotEvent(conv Conversation) SnapshotEvent {
	return SnapshotEvent{Type: EventConversationSnapshot, Message: conv}
}
