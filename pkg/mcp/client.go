// Package mcp owns the channel to the external tool provider: a subprocess
// speaking newline-delimited JSON-RPC over its stdio pipes. The client
// supervises the process for the lifetime of one agent session and guarantees
// it is gone once Close returns, whatever path led there.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrProviderUnavailable reports that the tool provider channel could not be
// established or maintained. It is fatal to the owning session; the client
// never retries internally.
var ErrProviderUnavailable = errors.New("tool provider unavailable")

const protocolVersion = "2024-11-05"

// errCodeChannelClosed marks synthetic responses injected when the provider
// pipe closes with requests still in flight.
const errCodeChannelClosed = -32000

// Config configures a Client.
type Config struct {
	Command        string
	Args           []string
	Env            []string      // extra KEY=VALUE entries for the subprocess
	StartupTimeout time.Duration // bound on spawn + initialize handshake
	CallTimeout    time.Duration // bound on a single request round-trip
	Logger         zerolog.Logger
}

// Client talks to one tool-provider subprocess. It is safe for concurrent
// calls after Connect, but is designed to serve a single session.
type Client struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	nextID  int
	pending map[int]chan *rpcResponse
	started bool
	closed  bool

	log zerolog.Logger
}

// NewClient creates a client for the given provider invocation. Nothing is
// spawned until Connect.
func NewClient(cfg Config) *Client {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 60 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[int]chan *rpcResponse),
		log:     cfg.Logger.With().Str("component", "mcp").Logger(),
	}
}

// Connect spawns the provider subprocess and performs the initialize
// handshake under the startup timeout. The subprocess inherits the parent
// environment with its own diagnostic noise suppressed. Any failure is
// reported as ErrProviderUnavailable and leaves no process behind.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: client is closed", ErrProviderUnavailable)
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = append(os.Environ(), "PYTHONWARNINGS=ignore")
	cmd.Env = append(cmd.Env, c.cfg.Env...)
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: failed to start %s: %v", ErrProviderUnavailable, c.cfg.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.started = true
	c.mu.Unlock()

	c.log.Info().
		Str("command", c.cfg.Command).
		Strs("args", c.cfg.Args).
		Int("pid", cmd.Process.Pid).
		Msg("Tool provider started")

	go c.listen(stdout)

	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()

	if err := c.initialize(handshakeCtx); err != nil {
		c.log.Error().Err(err).Msg("Tool provider handshake failed")
		c.Close()
		return fmt.Errorf("%w: handshake failed: %v", ErrProviderUnavailable, err)
	}

	c.log.Info().Msg("Tool provider handshake complete")
	return nil
}

// listen reads responses from the provider and routes them to waiters.
func (c *Client) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.log.Error().Err(err).Msg("Failed to unmarshal provider response")
			continue
		}

		id, ok := resp.ID.(float64)
		if !ok {
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[int(id)]
		if exists {
			delete(c.pending, int(id))
		}
		c.mu.Unlock()

		if exists {
			ch <- &resp
		}
	}

	// Pipe closed: the provider died or Close was called. Fail all waiters
	// so no caller blocks until its timeout.
	c.mu.Lock()
	waiters := c.pending
	c.pending = make(map[int]chan *rpcResponse)
	c.mu.Unlock()

	for id, ch := range waiters {
		ch <- &rpcResponse{
			ID:    float64(id),
			Error: &rpcError{Code: errCodeChannelClosed, Message: "provider channel closed"},
		}
	}
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "tastychat",
			"version": "0.1.0",
		},
	}
	_, err := c.call(ctx, "initialize", params)
	return err
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected", ErrProviderUnavailable)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("%w: write failed: %v", ErrProviderUnavailable, err)
	}

	// A caller-supplied deadline owns the bound; the per-call timeout only
	// applies when there is none. The startup handshake runs under the
	// startup deadline and must not be cut short by the call timeout.
	var timeout <-chan time.Time
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timer := time.NewTimer(c.cfg.CallTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			if resp.Error.Code == errCodeChannelClosed {
				return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, resp.Error.Message)
			}
			return nil, fmt.Errorf("provider error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-timeout:
		c.dropPending(id)
		return nil, fmt.Errorf("provider request timeout: %s", method)
	}
}

// dropPending removes a waiter whose response will never be consumed. The
// waiter channel is buffered, so a response racing the removal is dropped
// without blocking the listen goroutine.
func (c *Client) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// ListTools enumerates the provider's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &listResult); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}

	return listResult.Tools, nil
}

// CallTool invokes one tool by name. A tool-level error comes back in the
// CallResult, not as a Go error; Go errors mean the channel itself failed.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	result, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var parsed toolCallResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("malformed tools/call result: %w", err)
	}

	out := &CallResult{IsError: parsed.IsError}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += block.Text
		}
	}

	return out, nil
}

// Close terminates the provider subprocess. It is idempotent and safe to call
// from deferred cleanup on any exit path.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cmd := c.cmd
	stdin := c.stdin
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.log.Warn().Err(err).Msg("Failed to kill tool provider")
		}
		cmd.Wait()
		c.log.Info().Msg("Tool provider stopped")
	}

	return nil
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
