package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a scriptable CompletionClient for testing. Each call pops the
// next queued step; the step is either a canned response or an error.
type MockClient struct {
	mu       sync.Mutex
	steps    []mockStep
	Requests []*ChatCompletionRequest
}

type mockStep struct {
	// model restricts the step to requests for that model; empty matches any.
	model string
	resp  *ChatCompletionResponse
	err   error
}

// NewMockClient creates an empty mock client. With no scripted steps it
// answers every call with a plain content response.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements CompletionClient.
var _ CompletionClient = (*MockClient)(nil)

// QueueContent scripts a plain assistant content response.
func (m *MockClient) QueueContent(content string) {
	m.queue(mockStep{resp: contentResponse(content)})
}

// QueueContentForModel scripts a content response consumed only by requests
// for the given model. Lets tests script concurrent callers that use
// different models without depending on call order.
func (m *MockClient) QueueContentForModel(model, content string) {
	m.queue(mockStep{model: model, resp: contentResponse(content)})
}

// QueueToolCalls scripts a response asking for the given tool calls.
func (m *MockClient) QueueToolCalls(calls ...ToolCall) {
	m.queue(mockStep{resp: &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   "mock",
		Choices: []Choice{
			{
				Index: 0,
				Message: &ResponseMessage{
					Role:      "assistant",
					ToolCalls: calls,
				},
				FinishReason: "tool_calls",
			},
		},
	}})
}

// QueueError scripts a failed completion call.
func (m *MockClient) QueueError(err error) {
	m.queue(mockStep{err: err})
}

func (m *MockClient) queue(step mockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
}

// CreateChatCompletion returns the next scripted step.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	for i, step := range m.steps {
		if step.model != "" && step.model != req.Model {
			continue
		}
		m.steps = append(m.steps[:i], m.steps[i+1:]...)
		if step.err != nil {
			return nil, step.err
		}
		return step.resp, nil
	}
	return contentResponse("mock response"), nil
}

func contentResponse(content string) *ChatCompletionResponse {
	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   "mock",
		Choices: []Choice{
			{
				Index: 0,
				Message: &ResponseMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
}
