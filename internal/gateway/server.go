package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arko05roy/swarm/internal/channel"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/engine"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/ledger"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/metrics"
	"github.com/arko05roy/swarm/internal/ratelimit"
	"github.com/arko05roy/swarm/internal/registry"
	"github.com/arko05roy/swarm/internal/version"
)

// ErrClientClosed is returned when writing to a closed client.
var ErrClientClosed = errors.New("client connection closed")

// hookName is the handler name the server registers on the hook bus.
const hookName = "gateway"

// Server is the swarm gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	registry *registry.Registry
	engine   *engine.Engine

	// Optional collaborators. Ledger methods are only exposed with a ledger.
	ledger   *ledger.Ledger
	limiter  ratelimit.Limiter
	limits   map[string]int
	channels *channel.Registry
	hooks    *hooks.Manager
	metrics  *metrics.Metrics

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithLedger exposes the ledger.* methods.
func WithLedger(l *ledger.Ledger) ServerOption {
	return func(s *Server) {
		s.ledger = l
	}
}

// WithRateLimits caps run, invest and withdraw per user. Limits maps an
// action name to its hourly maximum.
func WithRateLimits(l ratelimit.Limiter, limits map[string]int) ServerOption {
	return func(s *Server) {
		s.limiter = l
		s.limits = limits
	}
}

// WithChannels sets the channel registry for channel status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) {
		s.channels = ch
	}
}

// WithHooks sets the hook manager. Every hook event is broadcast to
// connected clients while the server runs.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithMetrics serves m on GET /metrics and counts RPC results.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new gateway server over the registry and engine.
func New(cfg config.Config, reg *registry.Registry, eng *engine.Engine, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		registry:    reg,
		engine:      eng,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// Requests without an Origin header (non-browser clients) are always accepted.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// isOriginAllowed matches origin against exact entries, "*" and entries
// with one wildcard, the same forms the CORS middleware accepts.
func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		prefix, suffix, ok := strings.Cut(a, "*")
		if ok && len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Gateway.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Gateway.TLS.CertPath, s.cfg.Gateway.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Gateway.Bind != "loopback" && s.cfg.Gateway.Bind != "" {
		s.log.Warn().Msg("TLS is not enabled, credentials travel in cleartext")
	}

	s.startedAt = time.Now()
	go s.authLimiter.run(ctx)

	if s.hooks != nil {
		s.hooks.OnAll(hookName, s.broadcastHook)
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		s.hooks.Detach(hookName)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// broadcastHook forwards a hook event to every connected client.
func (s *Server) broadcastHook(_ context.Context, p hooks.Payload) error {
	s.clients.Broadcast(p.Event, p.Data, s.eventSeq.Add(1))
	return nil
}

// Addr returns the server's configured listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

const (
	maxPayload       = 4 * 1024 * 1024
	handshakeTimeout = 10 * time.Second

	// maxInflight caps concurrent requests per connection. Further frames
	// are not read until a slot frees up.
	maxInflight = 8
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.serveClient(ctx, client)
}

// handshake runs challenge, connect and hello on a fresh socket.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	reject := func(code, msg string) error {
		rejectAndClose(conn, frame.ID, code, msg)
		return fmt.Errorf("%s: %s", code, msg)
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		return nil, reject("protocol_error", "expected connect request")
	}
	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return nil, reject("invalid_params", "invalid connect params")
	}
	if !supportsProtocol(params) {
		return nil, reject("protocol_mismatch", fmt.Sprintf("server speaks protocol %d, client wants %d-%d",
			ProtocolVersion, params.MinProtocol, params.MaxProtocol))
	}
	auth := Authorize(s.auth, params.Auth)
	if !auth.OK {
		return nil, reject("unauthorized", auth.Reason)
	}

	client := NewClient(conn, params.Client, auth)
	hello, err := NewResponse(frame.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{
			Methods: s.Methods(),
			Events:  append([]string{EventConnectChallenge}, hooks.AllEvents...),
		},
		Policy: ServerPolicy{MaxPayload: maxPayload},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	return client, nil
}

// supportsProtocol reports whether the client's range admits ProtocolVersion.
// A zero bound is open.
func supportsProtocol(p ConnectParams) bool {
	if p.MinProtocol > ProtocolVersion {
		return false
	}
	return p.MaxProtocol == 0 || p.MaxProtocol >= ProtocolVersion
}

// serveClient reads request frames until the socket fails and runs each one
// on its own goroutine, at most maxInflight at a time. ctx is cancelled once
// the socket is gone; serveClient returns after every handler has finished.
func (s *Server) serveClient(ctx context.Context, client *Client) {
	var wg sync.WaitGroup
	defer wg.Wait()

	slots := make(chan struct{}, maxInflight)
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-slots
				wg.Done()
			}()
			s.dispatch(ctx, client, frame)
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("method", frame.Method).Msg("rpc handler panicked")
			client.RespondError(frame.ID, ErrorShape{Code: "unknown", Message: "internal error"})
		}
	}()
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func rejectAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
