// Package tool provides the tool registry consulted by the conversation engine.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tempora-app/tempora/internal/adapter/calendar"
)

// AuthContext carries per-request credentials into tool handlers. Handlers
// must not mutate it; it is shared by every call in a dispatch batch.
type AuthContext struct {
	UserID   string
	Timezone string

	// Calendar is nil when the request carried no Google credentials.
	Calendar *calendar.Client
}

// HandlerFunc executes one tool call with validated arguments.
type HandlerFunc func(ctx context.Context, auth *AuthContext, args json.RawMessage) (json.RawMessage, error)

// Definition describes one registered tool: its name, the parameter schema
// advertised to the model, and the executable handler.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage

	Handler HandlerFunc

	schema *jsonschema.Schema
}

// ValidateArgs checks an argument payload against the declared schema.
func (d *Definition) ValidateArgs(args json.RawMessage) error {
	if d.schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var v interface{}
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := d.schema.Validate(v); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", d.Name, err)
	}
	return nil
}

// Registry stores tool definitions keyed by name. Tools are registered at
// process start and immutable afterwards.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	order       []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
	}
}

// Register adds a definition, compiling its parameter schema.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("handler is required for %s", def.Name)
	}
	if len(def.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		url := def.Name + ".schema.json"
		if err := compiler.AddResource(url, strings.NewReader(string(def.Parameters))); err != nil {
			return fmt.Errorf("failed to load schema for %s: %w", def.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
		}
		def.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.definitions[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister adds a definition or panics. For startup wiring only.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition for a tool name.
func (r *Registry) Resolve(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	return def, ok
}

// Definitions returns all registered tools in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.definitions[name])
	}
	return defs
}
