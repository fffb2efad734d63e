// Package gateway serves the tool catalog to network clients: one websocket
// streaming endpoint carrying JSON-RPC 2.0, plus health and metrics. The
// gateway holds no conversation state; it is a transport in front of the
// tool registry.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/tastychat/internal/observability"
	"github.com/harun/tastychat/pkg/toolset"
)

// Server exposes the tool catalog over a network stream.
type Server struct {
	host     string
	port     int
	name     string
	version  string
	registry *toolset.Registry
	clients  *ClientRegistry
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host     string
	Port     int
	Name     string
	Version  string
	Registry *toolset.Registry
	Logger   zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Name == "" {
		cfg.Name = "tastychat"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	return &Server{
		host:     cfg.Host,
		port:     cfg.Port,
		name:     cfg.Name,
		version:  cfg.Version,
		registry: cfg.Registry,
		clients:  NewClientRegistry(),
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP handler serving all gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","tools":%d,"clients":%d}`, s.registry.Count(), s.clients.Count())
	})
	return mux
}

// Start binds the listen address and serves until Stop. A bind failure comes
// back from ListenAndServe before any client is accepted.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.host).
		Int("port", s.port).
		Int("tools", s.registry.Count()).
		Msg("Starting gateway server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server: drains in-flight requests, closes client
// connections, then shuts down the listener.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown drain timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// ConnectedClients returns information about all connected clients.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.Snapshot()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		RateLimiter:  newClientRateLimiter(60, 10),
	}

	s.clients.Add(client)
	observability.GatewayClientConnected(1)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		observability.GatewayClientConnected(-1)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

func (s *Server) handleMessage(client *Client, message []byte) {
	var req RPCRequest
	if err := json.Unmarshal(message, &req); err != nil {
		s.sendError(client, nil, ParseError, "invalid JSON")
		return
	}
	if req.Method == "" {
		s.sendError(client, req.ID, InvalidRequest, "method is required")
		return
	}

	// Notifications get no response.
	if req.IsNotification() {
		s.logger.Debug().Str("method", req.Method).Msg("Notification received")
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(client, req)
	case "ping":
		s.sendResult(client, req.ID, req.Method, map[string]interface{}{})
	case "tools/list":
		s.handleToolsList(client, req)
	case "tools/call":
		s.handleToolsCall(client, req)
	default:
		s.sendError(client, req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		observability.RecordGatewayRequest(req.Method, false)
	}
}

func (s *Server) handleInitialize(client *Client, req RPCRequest) {
	s.clients.MarkInitialized(client.ID)
	s.sendResult(client, req.ID, req.Method, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		ServerInfo: serverInfo{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleToolsList(client *Client, req RPCRequest) {
	descriptors := s.registry.Descriptors()
	tools := make([]map[string]interface{}, 0, len(descriptors))
	for _, desc := range descriptors {
		tool := map[string]interface{}{
			"name":        desc.Name,
			"description": desc.Description,
		}
		if len(desc.InputSchema) > 0 {
			tool["inputSchema"] = json.RawMessage(desc.InputSchema)
		}
		tools = append(tools, tool)
	}
	s.sendResult(client, req.ID, req.Method, map[string]interface{}{"tools": tools})
}

func (s *Server) handleToolsCall(client *Client, req RPCRequest) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.sendError(client, req.ID, InvalidParams, "tools/call requires a tool name")
		observability.RecordGatewayRequest(req.Method, false)
		return
	}

	if allowed, reason := client.RateLimiter.allow(); !allowed {
		s.sendError(client, req.ID, InternalError, reason)
		observability.RecordGatewayRequest(req.Method, false)
		return
	}

	client.RateLimiter.start()
	s.inFlightReqs.Add(1)

	go func() {
		defer client.RateLimiter.end()
		defer s.inFlightReqs.Done()

		result := s.registry.Invoke(context.Background(), params.Name, params.Arguments)

		// A failed tool call is still a successful RPC: the failure rides in
		// the result payload.
		output := result.Output
		if result.Err != nil {
			output = result.Err.Error()
		}

		s.sendResult(client, req.ID, req.Method, callResult{
			Content: []textContent{{Type: "text", Text: output}},
			IsError: result.Err != nil,
		})
	}()
}

func (s *Server) sendResult(client *Client, id json.RawMessage, method string, result interface{}) {
	observability.RecordGatewayRequest(method, true)
	response := RPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send response")
	}
}

func (s *Server) sendError(client *Client, id json.RawMessage, code int, message string) {
	response := RPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send error response")
	}
}
