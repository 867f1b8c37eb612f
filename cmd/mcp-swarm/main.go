// Command mcp-swarm is an MCP stdio server that exposes a running swarm
// gateway as tools: browsing agents, paid execution, workflows and the
// investment ledger.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/gateway"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/version"
)

// MCP Protocol Types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

type Capabilities struct {
	Tools map[string]any `json:"tools"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

const (
	mcpProtocolVersion = "2024-11-05"
	callTimeout        = 60 * time.Second
	dialTimeout        = 10 * time.Second
)

// Gateway is the part of *gateway.Remote the server calls.
type Gateway interface {
	Call(ctx context.Context, method string, params, out any) error
}

type MCPServer struct {
	gw  Gateway
	out io.Writer
	mu  sync.Mutex
	log *logging.Logger
}

func main() {
	// stdout carries the protocol, so logs go to stderr only.
	log := logging.New(os.Stderr, envOr("SWARM_LOG_LEVEL", "info")).Sub("mcp")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url, params, err := connectSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	remote, err := gateway.Dial(dialCtx, url, params)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("connecting to gateway")
	}
	defer remote.Close()
	log.Info().Str("url", url).Str("user", params.Client.User).Msg("connected to gateway")

	server := &MCPServer{gw: remote, out: os.Stdout, log: log}
	if err := server.Run(ctx, os.Stdin); err != nil {
		log.Error().Err(err).Msg("reading stdin")
	}
	log.Info().Msg("server shutting down")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectSettings derives the gateway URL and credentials from the swarm
// config. SWARM_GATEWAY_URL and SWARM_USER override them.
func connectSettings() (string, gateway.ConnectParams, error) {
	paths, err := config.ResolvePaths()
	if err != nil {
		return "", gateway.ConnectParams{}, err
	}
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return "", gateway.ConnectParams{}, err
	}

	scheme := "ws"
	if cfg.Gateway.TLS.Enabled {
		scheme = "wss"
	}
	url := envOr("SWARM_GATEWAY_URL", fmt.Sprintf("%s://127.0.0.1:%d/ws", scheme, cfg.Gateway.Port))

	auth := gateway.ResolveAuth(cfg.Gateway.Auth)
	params := gateway.ConnectParams{
		Client: gateway.ClientInfo{
			ID:       "mcp-swarm",
			Version:  version.Version,
			Platform: runtime.GOOS,
			User:     envOr("SWARM_USER", envOr("USER", "mcp")),
		},
		Auth: &gateway.ConnectAuth{Token: auth.Token, Password: auth.Password},
	}
	return url, params, nil
}

// Run serves newline-delimited JSON-RPC requests from in until EOF or ctx
// is done.
func (s *MCPServer) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	// Increase buffer size for large inputs
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				return nil
			}
			if line == "" {
				continue
			}
			s.handleRequest(ctx, line)
		}
	}
}

func (s *MCPServer) handleRequest(ctx context.Context, line string) {
	var req JSONRPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.log.Warn().Err(err).Msg("parse error")
		s.sendError(nil, -32700, "Parse error", err.Error())
		return
	}

	s.log.Debug().Str("method", req.Method).Msg("handling request")

	switch req.Method {
	case "initialize":
		s.sendResponse(req.ID, InitializeResult{
			ProtocolVersion: mcpProtocolVersion,
			Capabilities:    Capabilities{Tools: map[string]any{}},
			ServerInfo:      ServerInfo{Name: "swarm", Version: version.Version},
		})
	case "tools/list":
		s.sendResponse(req.ID, ListToolsResult{Tools: toolDefinitions()})
	case "tools/call":
		s.handleCallTool(ctx, req)
	case "notifications/initialized":
		// Ignore this notification
		return
	default:
		s.sendError(req.ID, -32601, "Method not found", fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (s *MCPServer) handleCallTool(ctx context.Context, req JSONRPCRequest) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	t, ok := tools[params.Name]
	if !ok {
		s.sendError(req.ID, -32602, "Unknown tool", fmt.Sprintf("Tool not found: %s", params.Name))
		return
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	method, rpcParams, err := t.build(params.Arguments)
	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var payload json.RawMessage
	if err := s.gw.Call(callCtx, method, rpcParams, &payload); err != nil {
		s.log.Warn().Err(err).Str("tool", params.Name).Msg("tool call failed")
		s.sendToolError(req.ID, err.Error())
		return
	}

	text, err := indent(payload)
	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}
	s.sendResponse(req.ID, ToolResult{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: failedResult(payload),
	})
}

func indent(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// failedResult reports whether payload is an execution or workflow result
// with success false.
func failedResult(raw json.RawMessage) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if json.Unmarshal(raw, &probe) != nil || probe.Success == nil {
		return false
	}
	return !*probe.Success
}

func (s *MCPServer) sendToolError(id any, message string) {
	s.sendResponse(id, ToolResult{
		Content: []ContentItem{{Type: "text", Text: message}},
		IsError: true,
	})
}

func (s *MCPServer) sendResponse(id any, result any) {
	s.write(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *MCPServer) sendError(id any, code int, message string, data any) {
	s.write(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func (s *MCPServer) write(resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("marshaling response")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}
