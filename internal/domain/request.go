package domain

// PromptRequest is the inbound turn trigger. The caller gets the conversation
// id back immediately; the turn itself runs in the background.
type PromptRequest struct {
	UserID             string   `json:"user_id"`
	Prompt             string   `json:"prompt"`
	Images             []string `json:"images,omitempty"`
	ConversationID     string   `json:"conversation_id,omitempty"`
	GoogleRefreshToken string   `json:"google_refresh_token,omitempty"`
	Timezone           string   `json:"timezone,omitempty"`
}

// PromptResponse acknowledges that a turn was accepted for processing.
type PromptResponse struct {
	ConversationID string `json:"conversation_id"`
}

// RenameRequest is the body for a user-initiated rename.
type RenameRequest struct {
	Name string `json:"name"`
}
