// Package toolset presents the tool provider's catalog as a validated
// capability set: a mapping from operation name to an invocation handle,
// checked against the declared input schema before dispatch.
package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/tastychat/internal/observability"
	"github.com/harun/tastychat/pkg/mcp"
)

// Handler is the invocation handle behind one registered tool.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition is one registered tool.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Result is the outcome of one dispatch. A failed invocation is a value, not
// a session error: callers fold it back into the model's context. Err keeps
// the wrap chain so callers can tell a dead provider channel from an
// ordinary tool failure.
type Result struct {
	OK       bool
	Output   string
	Err      error
	Duration time.Duration
}

// Registry maps operation names to invocation handles.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]*Definition
	schemas     map[string]*gojsonschema.Schema
	policy      *Policy
	callTimeout time.Duration
}

// New creates a registry. policy may be nil (allow all); callTimeout <= 0
// falls back to 30s.
func New(policy *Policy, callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Registry{
		tools:       make(map[string]*Definition),
		schemas:     make(map[string]*gojsonschema.Schema),
		policy:      policy,
		callTimeout: callTimeout,
	}
}

// Register adds a tool and compiles its schema.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil for %s", def.Name)
	}

	var schema *gojsonschema.Schema
	if len(def.InputSchema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.InputSchema))
		if err != nil {
			return fmt.Errorf("invalid input schema for %s: %w", def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// RegisterProvider pulls the provider's catalog and registers every tool with
// a handle dispatching back to the provider. Enumerated once per session.
func (r *Registry) RegisterProvider(ctx context.Context, client *mcp.Client) ([]string, error) {
	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider catalog: %w", err)
	}

	registered := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		name := desc.Name
		if name == "" {
			continue
		}

		def := Definition{
			Name:        name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				result, err := client.CallTool(ctx, name, args)
				if err != nil {
					return "", err
				}
				if result.IsError {
					return "", fmt.Errorf("%s", result.Content)
				}
				return result.Content, nil
			},
		}

		if err := r.Register(def); err != nil {
			return registered, fmt.Errorf("failed to register provider tool %s: %w", name, err)
		}
		registered = append(registered, name)
	}

	log.Info().Int("tools", len(registered)).Msg("Provider catalog registered")
	return registered, nil
}

// Get returns a tool definition by name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Descriptors returns the registered catalog sorted by tool name for
// advertising to models and clients.
func (r *Registry) Descriptors() []mcp.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]mcp.ToolDescriptor, 0, len(r.tools))
	for _, def := range r.tools {
		descriptors = append(descriptors, mcp.ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke dispatches one tool call: policy check, schema validation, then the
// handler under the call timeout.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	tool := r.tools[name]
	schema := r.schemas[name]
	policy := r.policy
	r.mu.RUnlock()

	if !policy.Allows(name) {
		log.Warn().Str("tool", name).Msg("Tool dispatch blocked by policy")
		return r.failed(name, start, fmt.Errorf("tool %q is not allowed by policy", name))
	}

	if tool == nil {
		return r.failed(name, start, fmt.Errorf("tool not found: %s", name))
	}

	if schema != nil {
		if err := validateArgs(schema, args); err != nil {
			log.Warn().Str("tool", name).Err(err).Msg("Argument validation failed")
			return r.failed(name, start, fmt.Errorf("argument validation failed: %w", err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	outputChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		output, err := tool.Handler(callCtx, args)
		if err != nil {
			errChan <- err
			return
		}
		outputChan <- output
	}()

	select {
	case output := <-outputChan:
		duration := time.Since(start)
		observability.RecordToolInvocation(name, duration, true)
		log.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool invocation completed")
		return Result{OK: true, Output: output, Duration: duration}

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolInvocation(name, duration, false)
		log.Warn().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool invocation failed")
		return Result{Err: err, Duration: duration}

	case <-callCtx.Done():
		duration := time.Since(start)
		observability.RecordToolInvocation(name, duration, false)
		log.Warn().Str("tool", name).Dur("duration", duration).Msg("Tool invocation timed out")
		return Result{
			Err:      fmt.Errorf("tool invocation timeout after %v", r.callTimeout),
			Duration: duration,
		}
	}
}

func (r *Registry) failed(name string, start time.Time, err error) Result {
	duration := time.Since(start)
	observability.RecordToolInvocation(name, duration, false)
	return Result{Err: err, Duration: duration}
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := ""
		for _, desc := range result.Errors() {
			if msgs != "" {
				msgs += "; "
			}
			msgs += desc.String()
		}
		return fmt.Errorf("%s", msgs)
	}
	return nil
}
