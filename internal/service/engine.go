package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/tempora-app/tempora/internal/adapter/llm"
	"github.com/tempora-app/tempora/internal/domain"
	"github.com/tempora-app/tempora/internal/tool"
)

const systemPreamble = `You are a helpful calendar assistant. You manage the user's schedule through the available tools.

Guidelines:
- Resolve relative dates ("tomorrow", "next Tuesday") against the current date and the user's timezone before calling a tool.
- Query the calendar before updating or deleting an event so you operate on real event ids.
- When a tool fails, tell the user what went wrong instead of pretending it worked.
- Keep answers short and concrete.`

// UserContent is the payload of one incoming user turn.
type UserContent struct {
	Text   string
	Images []string
}

// toolResult pairs one dispatched call with its outcome. Results are stored
// in the order the model requested the calls, regardless of completion order.
type toolResult struct {
	callID  string
	content string
}

// accept persists a message and mirrors it to subscribers. The store is the
// authority: a store failure aborts the turn, a broadcast failure is only
// logged.
func (s *Service) accept(ctx context.Context, conversationID string, msg *domain.Message) (*domain.Message, error) {
	stored, err := s.store.AppendMessage(ctx, conversationID, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to append %s message: %w", msg.Role, err)
	}
	if err := s.broadcaster.PublishJSON(conversationID, domain.NewMessageEvent(*stored)); err != nil {
		log.Printf("WARN: failed to broadcast message %s: %v", stored.MessageID, err)
	}
	return stored, nil
}

// RunTurn executes one conversation turn: it accepts the user message, then
// loops completion and tool dispatch until the model produces a plain answer
// or the iteration cap is hit. Every accepted message is broadcast as it
// lands, so subscribers watch the turn unfold.
func (s *Service) RunTurn(ctx context.Context, conversationID string, content UserContent, auth *tool.AuthContext) error {
	userMsg := &domain.Message{
		Role:    domain.RoleUser,
		Content: content.Text,
		Images:  content.Images,
	}
	if _, err := s.accept(ctx, conversationID, userMsg); err != nil {
		return err
	}

	for iteration := 0; iteration < s.config.MaxTurnIterations; iteration++ {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}

		req := s.buildRequest(conv, auth)
		resp, err := s.completeWithRetry(ctx, req)
		if err != nil {
			return fmt.Errorf("completion failed: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
			return fmt.Errorf("completion returned no choices")
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			_, err := s.accept(ctx, conversationID, &domain.Message{
				Role:    domain.RoleAssistant,
				Content: msg.Content,
			})
			return err
		}

		calls := make([]domain.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			calls[i] = domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: rawArguments(tc.Function.Arguments),
			}
		}

		// The dispatch step is recorded before any handler runs, so the
		// stored history always explains the tool results that follow it.
		if _, err := s.accept(ctx, conversationID, &domain.Message{
			Role:      domain.RoleAssistant,
			Content:   msg.Content,
			ToolCalls: calls,
		}); err != nil {
			return err
		}

		results := s.dispatchTools(ctx, auth, calls)
		for _, res := range results {
			if _, err := s.accept(ctx, conversationID, &domain.Message{
				Role:       domain.RoleTool,
				Content:    res.content,
				ToolCallID: res.callID,
			}); err != nil {
				return err
			}
		}
	}

	log.Printf("ERROR: conversation %s hit the iteration cap (%d)", conversationID, s.config.MaxTurnIterations)
	if _, err := s.accept(ctx, conversationID, &domain.Message{
		Role:    domain.RoleAssistant,
		Content: "I could not finish this request within the allowed number of steps. Please try again with a simpler request.",
	}); err != nil {
		return err
	}
	return fmt.Errorf("turn did not converge after %d iterations", s.config.MaxTurnIterations)
}

// rawArguments normalizes a wire argument string into a JSON value. Models
// occasionally emit malformed payloads; those are preserved as a JSON string
// so schema validation can reject them with context.
func rawArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}

// buildRequest assembles the completion request from the stored history.
func (s *Service) buildRequest(conv *domain.Conversation, auth *tool.AuthContext) *llm.ChatCompletionRequest {
	timezone := "UTC"
	if auth != nil && auth.Timezone != "" {
		timezone = auth.Timezone
	}
	now := time.Now().UTC()
	if loc, err := time.LoadLocation(timezone); err == nil {
		now = now.In(loc)
	}
	system := fmt.Sprintf("%s\n\nCurrent datetime: %s\nUser timezone: %s",
		systemPreamble, now.Format(time.RFC3339), timezone)

	messages := make([]llm.ChatMessage, 0, len(conv.Messages)+1)
	messages = append(messages, llm.ChatMessage{Role: string(domain.RoleSystem), Content: system})
	for _, m := range conv.Messages {
		messages = append(messages, toChatMessage(m))
	}

	defs := s.registry.Definitions()
	tools := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	temperature := 0.0
	return &llm.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		Temperature: &temperature,
		Tools:       tools,
	}
}

// toChatMessage converts a stored message to its wire form.
func toChatMessage(m domain.Message) llm.ChatMessage {
	cm := llm.ChatMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if len(m.Images) > 0 {
		parts := []llm.ContentPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, llm.ContentPart{
				Type:     "image_url",
				ImageURL: &llm.ImageURL{URL: img},
			})
		}
		cm.Content = parts
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = llm.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: llm.ToolCallFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			}
		}
		cm.ToolCalls = calls
	}
	return cm
}

// completeWithRetry calls the model, retrying transient failures with a short
// backoff. Each attempt gets its own timeout.
func (s *Service) completeWithRetry(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.LLMMaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: retrying completion (attempt %d/%d): %v", attempt, s.config.LLMMaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if s.config.LLMTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.config.LLMTimeout)
		}
		resp, err := s.llmClient.CreateChatCompletion(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("completion failed after %d attempts: %w", s.config.LLMMaxRetries+1, lastErr)
}

// dispatchTools runs a batch of tool calls concurrently. Each call fails or
// succeeds on its own; a failure becomes that call's error result and never
// aborts its siblings. Results come back in request order.
func (s *Service) dispatchTools(ctx context.Context, auth *tool.AuthContext, calls []domain.ToolCall) []toolResult {
	results := make([]toolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ToolCall) {
			defer wg.Done()
			results[i] = toolResult{
				callID:  call.ID,
				content: s.executeTool(ctx, auth, call),
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeTool resolves, validates, policy-checks and runs one call. The
// returned string is the tool message content; errors are encoded as a JSON
// object so the model can read them.
func (s *Service) executeTool(ctx context.Context, auth *tool.AuthContext, call domain.ToolCall) (content string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: tool %s panicked: %v", call.Name, r)
			content = errorContent(fmt.Sprintf("tool %s failed unexpectedly", call.Name))
		}
	}()

	def, ok := s.registry.Resolve(call.Name)
	if !ok {
		return errorContent(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	if err := def.ValidateArgs(call.Arguments); err != nil {
		return errorContent(err.Error())
	}

	if s.policyEngine != nil {
		var args interface{}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			args = map[string]interface{}{}
		}
		userID := ""
		if auth != nil {
			userID = auth.UserID
		}
		decision, reason, err := s.policyEngine.Evaluate(ctx, map[string]interface{}{
			"tool_name": call.Name,
			"user_id":   userID,
			"args":      args,
		})
		if err != nil {
			log.Printf("ERROR: policy evaluation failed for %s: %v", call.Name, err)
			return errorContent("policy evaluation failed")
		}
		if decision == "block" {
			if reason == "" {
				reason = "blocked by policy"
			}
			return errorContent(reason)
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if s.config.ToolTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.config.ToolTimeout)
		defer cancel()
	}

	out, err := def.Handler(callCtx, auth, call.Arguments)
	if err != nil {
		return errorContent(err.Error())
	}
	if len(out) == 0 {
		out = json.RawMessage(`{}`)
	}
	return string(out)
}

// errorContent encodes a tool failure as the JSON payload stored in the tool
// message.
func errorContent(msg string) string {
	return `{"error":` + strconv.Quote(msg) + `}`
}
