package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tastychat/pkg/mcp"
	"github.com/harun/tastychat/pkg/toolset"
)

// scriptedProvider replays a fixed sequence of responses and records every
// request it receives.
type scriptedProvider struct {
	responses []interface{} // *Response or error
	calls     []Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Call(_ context.Context, request Request) (*Response, error) {
	p.calls = append(p.calls, request)
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("scripted provider exhausted")
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*Response), nil
}

type countingCloser struct {
	closes int
	err    error
}

func (c *countingCloser) Close() error {
	c.closes++
	return c.err
}

func newTestSession(t *testing.T, provider Provider, registry *toolset.Registry) *Session {
	t.Helper()
	if registry == nil {
		registry = toolset.New(nil, time.Second)
	}
	session, err := NewSession(SessionConfig{
		Provider:     provider,
		Registry:     registry,
		Model:        "gpt-4o-mini",
		Instructions: "You are a trading assistant.",
		MaxRetries:   1,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return session
}

func TestNewSessionValidation(t *testing.T) {
	registry := toolset.New(nil, time.Second)
	provider := &scriptedProvider{}

	_, err := NewSession(SessionConfig{Registry: registry, Model: "m"})
	assert.ErrorContains(t, err, "provider is required")

	_, err = NewSession(SessionConfig{Provider: provider, Model: "m"})
	assert.ErrorContains(t, err, "registry is required")

	_, err = NewSession(SessionConfig{Provider: provider, Registry: registry})
	assert.ErrorContains(t, err, "model cannot be empty")

	_, err = NewSession(SessionConfig{Provider: provider, Registry: registry, Model: "m", Temperature: 1.5})
	assert.ErrorContains(t, err, "temperature")
}

func TestSessionIdentity(t *testing.T) {
	a := newTestSession(t, &scriptedProvider{}, nil)
	b := newTestSession(t, &scriptedProvider{}, nil)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "scripted", a.Provider())
	assert.Equal(t, "gpt-4o-mini", a.Model())
}

func TestRunSimpleTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []interface{}{
		&Response{Content: "You hold 100 shares of SPY.", Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}},
	}}
	session := newTestSession(t, provider, nil)

	result, err := session.Run(context.Background(), "what are my positions?", nil)
	require.NoError(t, err)

	assert.Equal(t, "You hold 100 shares of SPY.", result.Output)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Equal(t, "what are my positions?", result.Messages[0].Content)
	assert.Equal(t, "assistant", result.Messages[1].Role)
	assert.Equal(t, 10, result.Usage.InputTokens)
	assert.Equal(t, 5, result.Usage.OutputTokens)

	require.Len(t, provider.calls, 1)
	assert.Equal(t, "You are a trading assistant.", provider.calls[0].SystemPrompt)
}

func TestRunDoesNotMutateHistory(t *testing.T) {
	provider := &scriptedProvider{responses: []interface{}{
		&Response{Content: "second answer"},
	}}
	session := newTestSession(t, provider, nil)

	history := make([]Message, 0, 8)
	history = append(history,
		Message{Role: "user", Content: "first question"},
		Message{Role: "assistant", Content: "first answer"},
	)
	snapshot := make([]Message, len(history))
	copy(snapshot, history)

	result, err := session.Run(context.Background(), "second question", history)
	require.NoError(t, err)

	assert.Equal(t, snapshot, history)
	require.Len(t, result.Messages, 4)
	assert.Equal(t, snapshot, result.Messages[:2])
	assert.Equal(t, "second question", result.Messages[2].Content)
}

func TestRunToolLoop(t *testing.T) {
	registry := toolset.New(nil, time.Second)
	invoked := 0
	require.NoError(t, registry.Register(toolset.Definition{
		Name:        "get_positions",
		Description: "List open positions",
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			invoked++
			return "SPY 100 shares", nil
		},
	}))

	provider := &scriptedProvider{responses: []interface{}{
		&Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "get_positions", Arguments: map[string]interface{}{}}}},
		&Response{Content: "You hold 100 shares of SPY."},
	}}
	session := newTestSession(t, provider, registry)

	result, err := session.Run(context.Background(), "positions?", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, invoked)
	assert.Equal(t, "You hold 100 shares of SPY.", result.Output)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "get_positions", result.ToolCalls[0].Name)

	// user, assistant+tool_calls, tool, assistant
	require.Len(t, result.Messages, 4)
	assert.Equal(t, "tool", result.Messages[2].Role)
	assert.Equal(t, "SPY 100 shares", result.Messages[2].Content)
	assert.Equal(t, "call_1", result.Messages[2].ToolCallID)

	// The second model call must carry the tool exchange.
	require.Len(t, provider.calls, 2)
	assert.Len(t, provider.calls[1].Messages, 3)
}

func TestRunToolFailureFoldedIntoContext(t *testing.T) {
	registry := toolset.New(nil, time.Second)
	require.NoError(t, registry.Register(toolset.Definition{
		Name: "get_quote",
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "", fmt.Errorf("market data feed down")
		},
	}))

	provider := &scriptedProvider{responses: []interface{}{
		&Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "get_quote", Arguments: map[string]interface{}{}}}},
		&Response{Content: "I could not fetch the quote."},
	}}
	session := newTestSession(t, provider, registry)

	result, err := session.Run(context.Background(), "quote SPY", nil)
	require.NoError(t, err)

	assert.Equal(t, "I could not fetch the quote.", result.Output)
	assert.Contains(t, result.Messages[2].Content, "market data feed down")
}

func TestRunProviderChannelDeathIsFatal(t *testing.T) {
	registry := toolset.New(nil, time.Second)
	require.NoError(t, registry.Register(toolset.Definition{
		Name: "get_positions",
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "", fmt.Errorf("dispatch failed: %w", mcp.ErrProviderUnavailable)
		},
	}))

	provider := &scriptedProvider{responses: []interface{}{
		&Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "get_positions", Arguments: map[string]interface{}{}}}},
	}}
	session := newTestSession(t, provider, registry)

	result, err := session.Run(context.Background(), "positions?", nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, mcp.ErrProviderUnavailable)
}

func TestRunTerminalModelError(t *testing.T) {
	provider := &scriptedProvider{responses: []interface{}{
		fmt.Errorf("invalid api key"),
	}}
	session := newTestSession(t, provider, nil)

	result, err := session.Run(context.Background(), "hello", nil)
	assert.Nil(t, result)

	var invErr *ModelInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "scripted", invErr.Provider)
	assert.Contains(t, invErr.Error(), "invalid api key")
}

func TestRunRetriesTransientModelError(t *testing.T) {
	provider := &scriptedProvider{responses: []interface{}{
		fmt.Errorf("429 too many requests"),
		&Response{Content: "recovered"},
	}}
	registry := toolset.New(nil, time.Second)
	session, err := NewSession(SessionConfig{
		Provider:   provider,
		Registry:   registry,
		Model:      "gpt-4o-mini",
		MaxRetries: 2,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	result, err := session.Run(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Output)
	assert.Len(t, provider.calls, 2)
}

func TestRunMaxToolTurnsExceeded(t *testing.T) {
	registry := toolset.New(nil, time.Second)
	require.NoError(t, registry.Register(toolset.Definition{
		Name: "get_positions",
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "SPY 100 shares", nil
		},
	}))

	looping := make([]interface{}, maxToolTurns)
	for i := range looping {
		looping[i] = &Response{ToolCalls: []ToolCall{{ID: fmt.Sprintf("call_%d", i), Name: "get_positions", Arguments: map[string]interface{}{}}}}
	}
	provider := &scriptedProvider{responses: looping}
	session := newTestSession(t, provider, registry)

	result, err := session.Run(context.Background(), "positions?", nil)
	assert.Nil(t, result)

	var invErr *ModelInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Contains(t, invErr.Error(), "maximum tool execution turns")
}

func TestRunCancelledContext(t *testing.T) {
	provider := &scriptedProvider{responses: []interface{}{
		&Response{Content: "never reached"},
	}}
	session := newTestSession(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := session.Run(ctx, "hello", nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, provider.calls)
}

func TestCloseReleasesConnectorOnce(t *testing.T) {
	connector := &countingCloser{}
	registry := toolset.New(nil, time.Second)
	session, err := NewSession(SessionConfig{
		Provider:  &scriptedProvider{},
		Registry:  registry,
		Connector: connector,
		Model:     "gpt-4o-mini",
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	assert.Equal(t, 1, connector.closes)
}

func TestCloseReportsConnectorError(t *testing.T) {
	connector := &countingCloser{err: errors.New("kill failed")}
	registry := toolset.New(nil, time.Second)
	session, err := NewSession(SessionConfig{
		Provider:  &scriptedProvider{},
		Registry:  registry,
		Connector: connector,
		Model:     "gpt-4o-mini",
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	assert.EqualError(t, session.Close(), "kill failed")
	assert.EqualError(t, session.Close(), "kill failed")
	assert.Equal(t, 1, connector.closes)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("invalid api key")))
	assert.True(t, IsRetryableError(errors.New("429 too many requests")))
	assert.True(t, IsRetryableError(errors.New("rate limit exceeded")))
	assert.True(t, IsRetryableError(errors.New("connection reset by peer")))
	assert.True(t, IsRetryableError(errors.New("upstream returned 503")))
}
