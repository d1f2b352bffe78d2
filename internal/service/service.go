// Package service implements the conversation engine and its supporting
// operations.
package service

import (
	"github.com/tempora-app/tempora/internal/adapter/llm"
	"github.com/tempora-app/tempora/internal/config"
	"github.com/tempora-app/tempora/internal/store"
	"github.com/tempora-app/tempora/internal/tool"
	"github.com/tempora-app/tempora/policy"
)

// Broadcaster fans an accepted mutation out to a conversation's subscribers.
// Delivery is best-effort; the store remains the durability authority.
type Broadcaster interface {
	PublishJSON(conversationID string, v interface{}) error
}

// Service wires the engine's collaborators together. All fields are
// dependency-injected so the engine is testable with fakes.
type Service struct {
	store        store.Store
	llmClient    llm.CompletionClient
	broadcaster  Broadcaster
	registry     *tool.Registry
	policyEngine *policy.Engine
	config       *config.Config
}

// New creates a new Service.
func New(st store.Store, llmClient llm.CompletionClient, broadcaster Broadcaster, registry *tool.Registry, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:        st,
		llmClient:    llmClient,
		broadcaster:  broadcaster,
		registry:     registry,
		policyEngine: policyEngine,
		config:       cfg,
	}
}
