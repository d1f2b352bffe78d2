package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Definition{
		Name:        "echo",
		Description: "echoes its arguments",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Handler: func(ctx context.Context, auth *AuthContext, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	})
	assert.NoError(t, err)

	def, ok := r.Resolve("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", def.Name)

	_, ok = r.Resolve("DoMagic")
	assert.False(t, ok)

	// Duplicate registration is rejected.
	err = r.Register(&Definition{
		Name:    "echo",
		Handler: def.Handler,
	})
	assert.Error(t, err)
}

func TestRegistryValidateArgs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Definition{
		Name:       "echo",
		Parameters: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Handler: func(ctx context.Context, auth *AuthContext, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	})
	def, _ := r.Resolve("echo")

	assert.NoError(t, def.ValidateArgs(json.RawMessage(`{"text":"hi"}`)))
	assert.Error(t, def.ValidateArgs(json.RawMessage(`{}`)), "missing required field")
	assert.Error(t, def.ValidateArgs(json.RawMessage(`{"text":42}`)), "wrong type")
	assert.Error(t, def.ValidateArgs(json.RawMessage(`not json`)))
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry()
	RegisterCalendarTools(r)
	RegisterTimeTools(r)

	defs := r.Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"create_event", "query_events", "update_event", "delete_event",
		"calculate_time", "convert_timezone",
	}, names)
}

func TestRegistryRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Definition{
		Name:       "broken",
		Parameters: json.RawMessage(`{"type": 42}`),
		Handler: func(ctx context.Context, auth *AuthContext, args json.RawMessage) (json.RawMessage, error) {
			return nil, nil
		},
	})
	assert.Error(t, err)
}
