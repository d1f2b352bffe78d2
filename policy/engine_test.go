package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicyDecisions(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	assert.NoError(t, err)

	attendees := make([]interface{}, 60)
	for i := range attendees {
		attendees[i] = "a@example.com"
	}

	cases := []struct {
		name     string
		input    map[string]interface{}
		decision string
	}{
		{
			name: "allow plain create",
			input: map[string]interface{}{
				"tool_name": "create_event",
				"user_id":   "u1",
				"args":      map[string]interface{}{"summary": "Lunch"},
			},
			decision: "allow",
		},
		{
			name: "block bulk invite",
			input: map[string]interface{}{
				"tool_name": "create_event",
				"user_id":   "u1",
				"args":      map[string]interface{}{"attendees": attendees},
			},
			decision: "block",
		},
		{
			name: "block non-primary delete",
			input: map[string]interface{}{
				"tool_name": "delete_event",
				"user_id":   "u1",
				"args":      map[string]interface{}{"event_id": "e1", "calendar_id": "team"},
			},
			decision: "block",
		},
		{
			name: "allow primary delete",
			input: map[string]interface{}{
				"tool_name": "delete_event",
				"user_id":   "u1",
				"args":      map[string]interface{}{"event_id": "e1", "calendar_id": "primary"},
			},
			decision: "allow",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, _, err := engine.Evaluate(ctx, tc.input)
			assert.NoError(t, err)
			assert.Equal(t, tc.decision, decision)
		})
	}
}
