package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/composer"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/engine"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/ledger"
	"github.com/arko05roy/swarm/internal/metrics"
	"github.com/arko05roy/swarm/internal/ratelimit"
	"github.com/arko05roy/swarm/internal/registry"
)

const testToken = "test-token-123"

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = testToken
	return cfg
}

func echoAgent(id string, price float64, caps ...string) *agent.Agent {
	return agent.New(agent.Manifest{
		ID:           id,
		Name:         strings.ToUpper(id),
		Capabilities: caps,
		Pricing:      agent.Pricing{BasePrice: price},
	}, agent.ProviderFunc(func(_ context.Context, in map[string]any, _ agent.Caller) (any, error) {
		return in, nil
	}))
}

// newTestServer serves the gateway routes over httptest. The hook bus is
// wired to the client broadcast the same way Start does it.
func newTestServer(t *testing.T, withLedger bool, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	log := testLog()
	hm := hooks.NewManager(log)

	reg := registry.New(log, registry.WithHooks(hm))
	require.NoError(t, reg.Register(echoAgent("echo", 0, "debug"), ""))
	require.NoError(t, reg.Register(echoAgent("price", 1, "crypto"), "carol"))

	eng := engine.New(reg, engine.Config{}, log, engine.WithHooks(hm))
	opts = append([]ServerOption{WithHooks(hm)}, opts...)
	if withLedger {
		opts = append(opts, WithLedger(ledger.New(reg, log, ledger.WithHooks(hm))))
	}

	srv := New(testConfig(), reg, eng, log, opts...)
	hm.OnAll(hookName, srv.broadcastHook)

	mux := http.NewServeMux()
	srv.registerHTTPRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// wsConn is an authenticated test connection.
type wsConn struct {
	t      *testing.T
	conn   *websocket.Conn
	hello  HelloOK
	nextID atomic.Int64
}

func connect(t *testing.T, ts *httptest.Server, user string) *wsConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventConnectChallenge, challenge.Event)

	req, err := NewRequest("connect-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "swarm-test", Version: "1.0.0", Platform: "linux", User: user},
		Auth:        &ConnectAuth{Token: testToken},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK, "handshake should succeed")

	c := &wsConn{t: t, conn: conn}
	require.NoError(t, json.Unmarshal(resp.Payload, &c.hello))
	return c
}

// call sends a request and reads until its response, returning any event
// frames seen on the way.
func (c *wsConn) call(method string, params any) (Frame, []Frame) {
	c.t.Helper()
	id := fmt.Sprintf("req-%d", c.nextID.Add(1))
	req, err := NewRequest(id, method, params)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(req))

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []Frame
	for {
		var f Frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			events = append(events, f)
			continue
		}
		require.Equal(c.t, id, f.ID)
		return f, events
	}
}

// ok calls method and decodes a successful payload into out.
func (c *wsConn) ok(method string, params, out any) {
	c.t.Helper()
	resp, _ := c.call(method, params)
	require.NotNil(c.t, resp.OK)
	require.True(c.t, *resp.OK, "%s failed: %+v", method, resp.Error)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(resp.Payload, out))
	}
}

// fail calls method and returns the error shape.
func (c *wsConn) fail(method string, params any) ErrorShape {
	c.t.Helper()
	resp, _ := c.call(method, params)
	require.NotNil(c.t, resp.OK)
	require.False(c.t, *resp.OK, "%s should fail", method)
	require.NotNil(c.t, resp.Error)
	return *resp.Error
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Version, "public endpoint only reports status")
}

func TestMetricsEndpoint(t *testing.T) {
	_, plain := newTestServer(t, false)
	resp, err := http.Get(plain.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics are opt-in")

	_, ts := newTestServer(t, false, WithMetrics(metrics.New()))
	c := connect(t, ts, "alice")
	c.call("health", nil)
	c.call("agents.get", idParams{ID: "ghost"})

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `swarm_rpc_requests_total{code="ok",method="health"} 1`)
	assert.Contains(t, string(body), `swarm_rpc_requests_total{code="not_found",method="agents.get"} 1`)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandshakeAdvertisesMethodsAndEvents(t *testing.T) {
	srv, ts := newTestServer(t, true)
	c := connect(t, ts, "alice")

	assert.Equal(t, ProtocolVersion, c.hello.Protocol)
	assert.NotEmpty(t, c.hello.Server.ConnID)
	assert.Equal(t, srv.Methods(), c.hello.Features.Methods)
	assert.Contains(t, c.hello.Features.Events, EventConnectChallenge)
	assert.Contains(t, c.hello.Features.Events, hooks.EventInvestmentMade)
	assert.Equal(t, maxPayload, c.hello.Policy.MaxPayload)
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name   string
		method string
		auth   *ConnectAuth
		code   string
		minVer int
	}{
		{"wrong token", "connect", &ConnectAuth{Token: "wrong"}, "unauthorized", 0},
		{"no credentials", "connect", nil, "unauthorized", 0},
		{"not a connect", "health", &ConnectAuth{Token: testToken}, "protocol_error", 0},
		{"protocol too new", "connect", &ConnectAuth{Token: testToken}, "protocol_mismatch", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, false)
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
			require.NoError(t, err)
			defer conn.Close()

			var challenge Frame
			require.NoError(t, conn.ReadJSON(&challenge))

			req, _ := NewRequest("r1", tt.method, ConnectParams{MinProtocol: tt.minVer, Client: ClientInfo{ID: "x"}, Auth: tt.auth})
			require.NoError(t, conn.WriteJSON(req))

			var resp Frame
			require.NoError(t, conn.ReadJSON(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestSupportsProtocol(t *testing.T) {
	assert.True(t, supportsProtocol(ConnectParams{}))
	assert.True(t, supportsProtocol(ConnectParams{MinProtocol: 1, MaxProtocol: 3}))
	assert.False(t, supportsProtocol(ConnectParams{MinProtocol: 2}))
	assert.False(t, supportsProtocol(ConnectParams{MaxProtocol: -1}))
}

func TestRequestsRunConcurrently(t *testing.T) {
	srv, ts := newTestServer(t, false)
	release := make(chan struct{})
	slow := agent.New(agent.Manifest{ID: "slow", Name: "SLOW"}, agent.ProviderFunc(
		func(ctx context.Context, in map[string]any, _ agent.Caller) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return in, nil
		}))
	require.NoError(t, srv.registry.Register(slow, ""))
	c := connect(t, ts, "alice")

	req, err := NewRequest("slow-1", "engine.execute", executeParams{AgentID: "slow"})
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(req))

	// Answered while the slow execution is still running.
	var h HealthResponse
	c.ok("health", nil, &h)
	assert.Equal(t, "ok", h.Status)

	close(release)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f Frame
		require.NoError(t, c.conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse {
			assert.Equal(t, "slow-1", f.ID)
			require.NotNil(t, f.OK)
			assert.True(t, *f.OK)
			break
		}
	}
}

func TestRPCHealthAndUnknownMethod(t *testing.T) {
	_, ts := newTestServer(t, false)
	c := connect(t, ts, "alice")

	var h HealthResponse
	c.ok("health", nil, &h)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Clients)
	assert.Equal(t, 1, h.Users)
	assert.Equal(t, 2, h.Agents)

	e := c.fail("dance", nil)
	assert.Equal(t, "method_not_found", e.Code)
}

func TestRPCAgents(t *testing.T) {
	_, ts := newTestServer(t, false)
	c := connect(t, ts, "alice")

	var list struct {
		Agents []registry.Listing `json:"agents"`
	}
	c.ok("agents.list", registry.ListOptions{Owner: "carol"}, &list)
	require.Len(t, list.Agents, 1)
	assert.Equal(t, "price", list.Agents[0].ID)

	c.ok("agents.search", map[string]string{"query": "crypto"}, &list)
	require.Len(t, list.Agents, 1)

	var detail AgentDetail
	c.ok("agents.get", idParams{ID: "price"}, &detail)
	assert.Equal(t, "carol", detail.Owner)
	assert.Equal(t, "healthy", detail.Health.Status)

	assert.Equal(t, "not_found", c.fail("agents.get", idParams{ID: "ghost"}).Code)
	assert.Equal(t, "invalid_params", c.fail("agents.get", idParams{}).Code)

	var best agent.Manifest
	c.ok("agents.best", map[string]any{"capabilities": []string{"debug"}}, &best)
	assert.Equal(t, "echo", best.ID)
	assert.Equal(t, "not_found", c.fail("agents.best", map[string]any{"capabilities": []string{"poetry"}}).Code)

	var state map[string]any
	c.ok("agents.pause", idParams{ID: "echo"}, &state)
	assert.Equal(t, false, state["active"])
	res := agent.Result{}
	c.ok("engine.execute", executeParams{AgentID: "echo"}, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "INACTIVE", string(res.Code))

	c.ok("agents.resume", idParams{ID: "echo"}, &state)
	assert.Equal(t, true, state["active"])

	assert.Equal(t, "permission_denied", c.fail("agents.pause", idParams{ID: "price"}).Code)

	var stats map[string]any
	c.ok("registry.stats", nil, &stats)
	assert.EqualValues(t, 2, stats["totalAgents"])
}

func TestRPCEngine(t *testing.T) {
	_, ts := newTestServer(t, false)
	c := connect(t, ts, "alice")

	var res agent.Result
	resp, events := c.call("engine.execute", executeParams{AgentID: "price", Input: map[string]any{"coin": "btc"}})
	require.True(t, *resp.OK)
	require.NoError(t, json.Unmarshal(resp.Payload, &res))
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"coin": "btc"}, res.Data)
	assert.Equal(t, 1.0, res.Cost)

	require.NotEmpty(t, events)
	assert.Equal(t, hooks.EventExecutionCompleted, events[0].Event)
	assert.Positive(t, events[0].Seq)

	var history struct {
		Records []engine.Record `json:"records"`
	}
	c.ok("engine.history", engine.HistoryFilter{AgentID: "price"}, &history)
	require.Len(t, history.Records, 1)
	assert.Equal(t, "alice", history.Records[0].Caller.UserID)
	assert.Equal(t, "gateway", history.Records[0].Caller.Source)

	var stats engine.Stats
	c.ok("engine.stats", nil, &stats)
	assert.Equal(t, 1, stats.TotalExecutions)

	var health engine.Health
	c.ok("engine.health", nil, &health)
	assert.Equal(t, "healthy", health.Status)

	var agentStats map[string]any
	c.ok("agents.stats", idParams{ID: "price"}, &agentStats)
	assert.Contains(t, agentStats, "executions")

	assert.Equal(t, "invalid_params", c.fail("engine.execute", executeParams{}).Code)
}

func TestRPCWorkflow(t *testing.T) {
	_, ts := newTestServer(t, false)
	c := connect(t, ts, "alice")

	def := composer.Definition{Name: "chain", Steps: []composer.Step{
		{Agent: "echo", UseGlobalInput: true},
		{Agent: "price", Input: map[string]any{"wrapped": "$prev"}},
	}}
	input := map[string]any{"msg": "hi"}

	var res composer.Result
	c.ok("workflow.run", workflowParams{Workflow: def, Input: input}, &res)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"wrapped": map[string]any{"msg": "hi"}}, res.Final)
	assert.Equal(t, 1.0, res.TotalCost)

	var est map[string]any
	c.ok("workflow.estimate", workflowParams{Workflow: def}, &est)
	assert.Equal(t, 1.0, est["estimatedCost"])

	bad := composer.Definition{Steps: []composer.Step{{Agent: "ghost"}}}
	var v composer.Validation
	c.ok("workflow.validate", workflowParams{Workflow: bad}, &v)
	assert.False(t, v.Valid)
	assert.Equal(t, "validation_failed", c.fail("workflow.run", workflowParams{Workflow: bad}).Code)
}

func TestRPCLedger(t *testing.T) {
	_, ts := newTestServer(t, true)
	c := connect(t, ts, "alice")

	var inv ledger.Investment
	resp, events := c.call("ledger.invest", amountParams{AgentID: "price", Amount: 10})
	require.True(t, *resp.OK)
	require.NoError(t, json.Unmarshal(resp.Payload, &inv))
	assert.Equal(t, 10.0, inv.TotalInvested)
	assert.Equal(t, 100.0, inv.Ownership)
	require.Len(t, events, 1)
	assert.Equal(t, hooks.EventInvestmentMade, events[0].Event)

	assert.Equal(t, "invalid_amount", c.fail("ledger.invest", amountParams{AgentID: "price", Amount: -1}).Code)
	assert.Equal(t, "not_found", c.fail("ledger.invest", amountParams{AgentID: "ghost", Amount: 1}).Code)

	var portfolio struct {
		Positions []ledger.Position `json:"positions"`
	}
	c.ok("ledger.portfolio", nil, &portfolio)
	require.Len(t, portfolio.Positions, 1)
	assert.Equal(t, "price", portfolio.Positions[0].AgentID)

	var bot ledger.BotStats
	c.ok("ledger.botStats", amountParams{AgentID: "price"}, &bot)
	assert.Equal(t, 1, bot.InvestorCount)

	var opps map[string]any
	c.ok("ledger.opportunities", limitParams{Limit: 1}, &opps)
	assert.Len(t, opps["opportunities"], 1)

	var board map[string]any
	c.ok("ledger.leaderboard", nil, &board)
	assert.Equal(t, 10.0, board["totalValueLocked"])

	var w ledger.Withdrawal
	c.ok("ledger.withdraw", amountParams{AgentID: "price", Amount: 4}, &w)
	assert.Equal(t, 6.0, w.RemainingInvestment)

	c.ok("ledger.withdrawAll", amountParams{AgentID: "price"}, &w)
	assert.True(t, w.Closed)

	assert.Equal(t, "no_position", c.fail("ledger.withdrawAll", amountParams{AgentID: "price"}).Code)
}

func TestRPCRateLimited(t *testing.T) {
	_, ts := newTestServer(t, false, WithRateLimits(ratelimit.NewMemory(), map[string]int{config.ActionRun: 1}))
	c := connect(t, ts, "alice")

	c.ok("engine.execute", executeParams{AgentID: "echo"}, nil)
	e := c.fail("engine.execute", executeParams{AgentID: "echo"})
	assert.Equal(t, "rate_limited", e.Code)
	assert.True(t, e.Retryable)
	assert.Positive(t, e.RetryAfter)

	other := connect(t, ts, "bob")
	other.ok("engine.execute", executeParams{AgentID: "echo"}, nil)
}

func TestChannelsStatusWithoutChannels(t *testing.T) {
	_, ts := newTestServer(t, false)
	c := connect(t, ts, "alice")

	var out map[string]any
	c.ok("channels.status", nil, &out)
	assert.Empty(t, out["channels"])
}

func TestServerStartAndStop(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Port = 0
	hm := hooks.NewManager(testLog())
	reg := registry.New(testLog())
	srv := New(cfg, reg, engine.New(reg, engine.Config{}, testLog()), testLog(), WithHooks(hm))

	var stopped atomic.Bool
	hm.On(hooks.EventGatewayStop, "test", func(context.Context, hooks.Payload) error {
		stopped.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	assert.Eventually(t, func() bool { return hm.Count(hooks.EventInvestmentMade) == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, <-errCh)
	assert.True(t, stopped.Load())
	assert.Eventually(t, func() bool { return hm.Count(hooks.EventInvestmentMade) == 0 }, time.Second, 10*time.Millisecond)
}
