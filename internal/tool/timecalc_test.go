package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runTool(t *testing.T, r *Registry, name string, args string) (map[string]string, error) {
	t.Helper()
	def, ok := r.Resolve(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	raw := json.RawMessage(args)
	if err := def.ValidateArgs(raw); err != nil {
		return nil, err
	}
	out, err := def.Handler(context.Background(), nil, raw)
	if err != nil {
		return nil, err
	}
	var result map[string]string
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return result, nil
}

func TestCalculateTime(t *testing.T) {
	r := NewRegistry()
	RegisterTimeTools(r)

	result, err := runTool(t, r, "calculate_time",
		`{"start_time":"2026-08-29T10:00:00Z","weeks":1,"days":1,"hours":2,"minutes":30}`)
	assert.NoError(t, err)
	assert.Equal(t, "2026-09-06T12:30:00Z", result["result"])
}

func TestCalculateTimeNegativeDelta(t *testing.T) {
	r := NewRegistry()
	RegisterTimeTools(r)

	result, err := runTool(t, r, "calculate_time",
		`{"start_time":"2026-08-29T10:00:00Z","days":-1}`)
	assert.NoError(t, err)
	assert.Equal(t, "2026-08-28T10:00:00Z", result["result"])
}

func TestCalculateTimeBadInput(t *testing.T) {
	r := NewRegistry()
	RegisterTimeTools(r)

	_, err := runTool(t, r, "calculate_time", `{"start_time":"yesterday"}`)
	assert.Error(t, err)

	// Schema rejects a missing start_time before the handler runs.
	_, err = runTool(t, r, "calculate_time", `{"days":1}`)
	assert.Error(t, err)
}

func TestConvertTimezone(t *testing.T) {
	r := NewRegistry()
	RegisterTimeTools(r)

	result, err := runTool(t, r, "convert_timezone",
		`{"time":"2026-08-29T10:00:00Z","timezone":"Europe/Berlin"}`)
	assert.NoError(t, err)
	assert.Equal(t, "2026-08-29T12:00:00+02:00", result["result"])

	_, err = runTool(t, r, "convert_timezone",
		`{"time":"2026-08-29T10:00:00Z","timezone":"Mars/Olympus"}`)
	assert.Error(t, err)
}
