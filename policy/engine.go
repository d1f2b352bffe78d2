// Package policy gates tool dispatch through OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the tool policy for one requested call.
// Input is a map with keys tool_name, user_id and args.
// Returns the decision ("allow" or "block") and an optional reason.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default decision.
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	switch v := val.(type) {
	case string:
		return v, "", nil
	case map[string]interface{}:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		if decision != "" {
			return decision, reason, nil
		}
	}

	return "allow", "unexpected return type", nil
}

// DefaultPolicy guards the calendar tools. A blocked call surfaces as that
// call's error result; it never aborts sibling calls in the batch.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

# Bulk invites are a spam vector; cap attendees per created event.
decision = "block" {
	input.tool_name == "create_event"
	count(input.args.attendees) > 50
}

# Deletes are restricted to the user's primary calendar.
decision = "block" {
	input.tool_name == "delete_event"
	input.args.calendar_id != "primary"
	input.args.calendar_id != ""
}
`
