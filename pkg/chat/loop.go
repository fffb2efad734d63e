// Package chat runs the interactive read-eval-print loop over an agent
// session. Conversation state lives only in process memory and only advances
// when a turn succeeds end to end.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/tastychat/pkg/agent"
	"github.com/harun/tastychat/pkg/mcp"
)

// Runner executes conversation turns. *agent.Session satisfies it.
type Runner interface {
	Run(ctx context.Context, userText string, history []agent.Message) (*agent.TurnResult, error)
	Close() error
}

// Config holds loop construction parameters.
type Config struct {
	Session Runner
	Input   io.Reader
	Output  io.Writer
	Logger  zerolog.Logger
}

// Loop is the interactive chat front-end.
type Loop struct {
	session Runner
	in      io.Reader
	out     io.Writer
	logger  zerolog.Logger
}

// New creates a chat loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Input == nil || cfg.Output == nil {
		return nil, fmt.Errorf("input and output streams are required")
	}
	return &Loop{
		session: cfg.Session,
		in:      cfg.Input,
		out:     cfg.Output,
		logger:  cfg.Logger,
	}, nil
}

// exit tokens are matched case-insensitively after trimming
func isExitToken(input string) bool {
	switch strings.ToLower(input) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

// Run reads inputs until an exit token, end of input, or cancellation. The
// session is closed on every return path. A dead tool-provider channel is the
// only turn error that terminates the loop; everything else is reported and
// the conversation continues with its state unchanged.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.session.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to close session")
		}
	}()

	fmt.Fprintln(l.out, "Tasty Agent Chat (type 'quit' to exit)")
	l.logger.Info().Msg("Chat session started")

	// Reads happen on their own goroutine so cancellation is honored while
	// blocked waiting for input, not just between lines.
	lines := make(chan string)
	readDone := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(l.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readDone <- scanner.Err()
	}()

	var history []agent.Message

	for {
		if ctx.Err() != nil {
			l.logger.Info().Msg("Chat session interrupted")
			return nil
		}

		fmt.Fprint(l.out, "\n> ")

		var input string
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Chat session interrupted")
			return nil
		case err := <-readDone:
			if err != nil {
				l.logger.Warn().Err(err).Msg("Input stream error")
			}
			l.logger.Info().Msg("Chat session ended")
			return nil
		case line := <-lines:
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}
		if isExitToken(input) {
			l.logger.Info().Msg("Chat session ended by user")
			return nil
		}

		l.logger.Debug().Str("input", input).Msg("Processing user input")

		result, err := l.session.Run(ctx, input, history)
		if err != nil {
			if errors.Is(err, mcp.ErrProviderUnavailable) {
				fmt.Fprintf(l.out, "error: %v\n", err)
				return err
			}
			if ctx.Err() != nil {
				l.logger.Info().Msg("Chat session interrupted")
				return nil
			}
			fmt.Fprintf(l.out, "error: %v\n", err)
			continue
		}

		history = result.Messages
		fmt.Fprintf(l.out, "%s\n", result.Output)
	}
}
