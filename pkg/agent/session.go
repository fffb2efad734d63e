package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/tastychat/internal/observability"
	"github.com/harun/tastychat/pkg/mcp"
	"github.com/harun/tastychat/pkg/toolset"
)

const maxToolTurns = 10

// Session binds a provider, instructions and the tool catalog together and
// executes conversation turns against them.
type Session struct {
	id           string
	provider     Provider
	registry     *toolset.Registry
	connector    io.Closer
	model        string
	instructions string
	temperature  float64
	maxTokens    int
	maxRetries   int
	logger       zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// SessionConfig holds session construction parameters.
type SessionConfig struct {
	Provider     Provider
	Registry     *toolset.Registry
	Connector    io.Closer
	Model        string
	Instructions string
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	Logger       zerolog.Logger
}

// NewSession creates a session. Connector may be nil when the tool catalog
// is not backed by a subprocess.
func NewSession(cfg SessionConfig) (*Session, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}

	id := uuid.NewString()

	return &Session{
		id:           id,
		provider:     cfg.Provider,
		registry:     cfg.Registry,
		connector:    cfg.Connector,
		model:        cfg.Model,
		instructions: cfg.Instructions,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxRetries:   cfg.MaxRetries,
		logger:       cfg.Logger.With().Str("session_id", id).Logger(),
	}, nil
}

// ID returns the session identity used in logs and the audit trail.
func (s *Session) ID() string {
	return s.id
}

// Provider returns the name of the bound provider.
func (s *Session) Provider() string {
	return s.provider.Name()
}

// Model returns the bound model name.
func (s *Session) Model() string {
	return s.model
}

// Run executes one conversation turn. history is never mutated: the turn
// accumulates onto a copy, and the complete superseding state comes back in
// TurnResult.Messages only when the whole turn succeeds. On error the caller
// keeps its history as-is.
func (s *Session) Run(ctx context.Context, userText string, history []Message) (*TurnResult, error) {
	start := time.Now()

	working := make([]Message, len(history), len(history)+2)
	copy(working, history)
	working = append(working, Message{Role: "user", Content: userText})

	tools := s.registry.Descriptors()
	usage := &TokenUsage{}
	allToolCalls := []ToolCall{}

	for turn := 0; turn < maxToolTurns; turn++ {
		select {
		case <-ctx.Done():
			observability.RecordTurn(s.provider.Name(), time.Since(start), false)
			return nil, ctx.Err()
		default:
		}

		response, err := s.callWithRetry(ctx, working, tools)
		if err != nil {
			observability.RecordTurn(s.provider.Name(), time.Since(start), false)
			s.audit("model_call", "failure", map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		if response.Usage != nil {
			usage.InputTokens += response.Usage.InputTokens
			usage.OutputTokens += response.Usage.OutputTokens
		}

		if len(response.ToolCalls) == 0 {
			working = append(working, Message{
				Role:    "assistant",
				Content: response.Content,
				Metadata: map[string]interface{}{
					"model": s.model,
				},
			})

			duration := time.Since(start)
			observability.RecordTurn(s.provider.Name(), duration, true)
			s.logger.Debug().
				Dur("duration", duration).
				Int("tool_calls", len(allToolCalls)).
				Int("input_tokens", usage.InputTokens).
				Int("output_tokens", usage.OutputTokens).
				Msg("Turn completed")

			return &TurnResult{
				Output:    response.Content,
				Messages:  working,
				ToolCalls: allToolCalls,
				Usage:     usage,
			}, nil
		}

		working = append(working, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			result := s.registry.Invoke(ctx, call.Name, call.Arguments)

			if errors.Is(result.Err, mcp.ErrProviderUnavailable) {
				observability.RecordTurn(s.provider.Name(), time.Since(start), false)
				s.audit("tool_call", "failure", map[string]interface{}{
					"tool":  call.Name,
					"error": result.Err.Error(),
				})
				return nil, result.Err
			}

			content := result.Output
			status := "success"
			if result.Err != nil {
				content = fmt.Sprintf("Tool %s failed: %v", call.Name, result.Err)
				status = "failure"
			}
			s.audit("tool_call", status, map[string]interface{}{
				"tool":        call.Name,
				"duration_ms": result.Duration.Milliseconds(),
			})

			working = append(working, Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}

		allToolCalls = append(allToolCalls, response.ToolCalls...)
	}

	observability.RecordTurn(s.provider.Name(), time.Since(start), false)
	return nil, &ModelInvocationError{
		Provider: s.provider.Name(),
		Err:      fmt.Errorf("maximum tool execution turns (%d) exceeded", maxToolTurns),
	}
}

// callWithRetry calls the provider with exponential backoff on transient
// errors. Terminal failures come back as ModelInvocationError.
func (s *Session) callWithRetry(ctx context.Context, messages []Message, tools []mcp.ToolDescriptor) (*Response, error) {
	maxRetries := s.maxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	request := Request{
		Model:        s.model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		SystemPrompt: s.instructions,
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := s.provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, &ModelInvocationError{Provider: s.provider.Name(), Err: err}
		}

		if attempt == maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1000*(1<<attempt)) * time.Millisecond
		s.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after model error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &ModelInvocationError{
		Provider: s.provider.Name(),
		Err:      fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr),
	}
}

// Close releases the tool-provider connector. Safe to call more than once
// and from any exit path.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.connector != nil {
			s.closeErr = s.connector.Close()
		}
	})
	return s.closeErr
}

func (s *Session) audit(action, status string, metadata map[string]interface{}) {
	observability.GetAuditLogger().Record(observability.AuditEvent{
		Type:     "agent",
		Actor:    s.id,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}
