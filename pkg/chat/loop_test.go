package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tastychat/pkg/agent"
	"github.com/harun/tastychat/pkg/mcp"
)

type turnRecord struct {
	input   string
	history []agent.Message
}

// scriptedRunner replays results in order and records every turn it is asked
// to run.
type scriptedRunner struct {
	results []interface{} // *agent.TurnResult or error
	turns   []turnRecord
	closes  int
}

func (r *scriptedRunner) Run(_ context.Context, userText string, history []agent.Message) (*agent.TurnResult, error) {
	r.turns = append(r.turns, turnRecord{input: userText, history: history})
	if len(r.results) == 0 {
		return nil, fmt.Errorf("scripted runner exhausted")
	}
	next := r.results[0]
	r.results = r.results[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*agent.TurnResult), nil
}

func (r *scriptedRunner) Close() error {
	r.closes++
	return nil
}

func turnResult(output string, messages ...agent.Message) *agent.TurnResult {
	return &agent.TurnResult{Output: output, Messages: messages}
}

func runLoop(t *testing.T, runner *scriptedRunner, input string) (*bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	loop, err := New(Config{
		Session: runner,
		Input:   strings.NewReader(input),
		Output:  out,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return out, loop.Run(context.Background())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Input: strings.NewReader(""), Output: &bytes.Buffer{}})
	assert.ErrorContains(t, err, "session is required")

	_, err = New(Config{Session: &scriptedRunner{}})
	assert.ErrorContains(t, err, "streams are required")
}

func TestExitTokens(t *testing.T) {
	for _, token := range []string{"quit", "exit", "q", "QUIT", "Exit", "Q", "  quit  "} {
		runner := &scriptedRunner{}
		_, err := runLoop(t, runner, token+"\n")
		require.NoError(t, err, token)
		assert.Empty(t, runner.turns, token)
		assert.Equal(t, 1, runner.closes, token)
	}
}

func TestEmptyInputSkipped(t *testing.T) {
	runner := &scriptedRunner{results: []interface{}{
		turnResult("hi there"),
	}}
	out, err := runLoop(t, runner, "\n   \nhello\nquit\n")
	require.NoError(t, err)

	require.Len(t, runner.turns, 1)
	assert.Equal(t, "hello", runner.turns[0].input)
	assert.Contains(t, out.String(), "hi there")
}

func TestStateAdvancesOnSuccess(t *testing.T) {
	firstState := []agent.Message{
		{Role: "user", Content: "what are my positions?"},
		{Role: "assistant", Content: "SPY 100 shares, QQQ 50 shares"},
	}
	runner := &scriptedRunner{results: []interface{}{
		turnResult("SPY 100 shares, QQQ 50 shares", firstState...),
		turnResult("You already asked about QQQ."),
	}}

	out, err := runLoop(t, runner, "what are my positions?\nand QQQ?\nquit\n")
	require.NoError(t, err)

	require.Len(t, runner.turns, 2)
	assert.Empty(t, runner.turns[0].history)
	assert.Equal(t, firstState, runner.turns[1].history)
	assert.Contains(t, out.String(), "SPY 100 shares")
}

func TestStatePreservedOnTurnFailure(t *testing.T) {
	goodState := []agent.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	runner := &scriptedRunner{results: []interface{}{
		turnResult("hi", goodState...),
		&agent.ModelInvocationError{Provider: "openai", Err: fmt.Errorf("503 overloaded")},
		turnResult("still here"),
	}}

	out, err := runLoop(t, runner, "hello\nbroken turn\nretry\nquit\n")
	require.NoError(t, err)

	require.Len(t, runner.turns, 3)
	// The failed turn saw the good state and the next turn saw it unchanged.
	assert.Equal(t, goodState, runner.turns[1].history)
	assert.Equal(t, goodState, runner.turns[2].history)
	assert.Contains(t, out.String(), "error: ")
	assert.Contains(t, out.String(), "503 overloaded")
}

func TestProviderUnavailableTerminates(t *testing.T) {
	runner := &scriptedRunner{results: []interface{}{
		fmt.Errorf("tool dispatch: %w", mcp.ErrProviderUnavailable),
	}}

	out, err := runLoop(t, runner, "positions?\nnever reached\nquit\n")
	assert.ErrorIs(t, err, mcp.ErrProviderUnavailable)
	assert.Len(t, runner.turns, 1)
	assert.Equal(t, 1, runner.closes)
	assert.Contains(t, out.String(), "error: ")
}

func TestEndOfInputClosesSession(t *testing.T) {
	runner := &scriptedRunner{results: []interface{}{
		turnResult("answer"),
	}}
	_, err := runLoop(t, runner, "one question")
	require.NoError(t, err)
	assert.Len(t, runner.turns, 1)
	assert.Equal(t, 1, runner.closes)
}

func TestCancelledContextStopsLoop(t *testing.T) {
	runner := &scriptedRunner{}
	out := &bytes.Buffer{}
	loop, err := New(Config{
		Session: runner,
		Input:   strings.NewReader("hello\nquit\n"),
		Output:  out,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, loop.Run(ctx))
	assert.Empty(t, runner.turns)
	assert.Equal(t, 1, runner.closes)
}

func TestInterruptWhileAwaitingInput(t *testing.T) {
	runner := &scriptedRunner{}

	// A pipe that is never written keeps the loop blocked waiting for input.
	in, w := io.Pipe()
	defer w.Close()

	loop, err := New(Config{
		Session: runner,
		Input:   in,
		Output:  &bytes.Buffer{},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not close after interrupt while awaiting input")
	}

	assert.Empty(t, runner.turns)
	assert.Equal(t, 1, runner.closes)
}

func TestBannerPrinted(t *testing.T) {
	runner := &scriptedRunner{}
	out, err := runLoop(t, runner, "quit\n")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Tasty Agent Chat")
}
