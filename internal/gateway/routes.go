package gateway

import (
	"net/http"
	"time"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/composer"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/engine"
	"github.com/arko05roy/swarm/internal/ratelimit"
	"github.com/arko05roy/swarm/internal/registry"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("channels.status", s.rpcChannelsStatus)

	s.Handle("agents.list", s.rpcAgentsList)
	s.Handle("agents.search", s.rpcAgentsSearch)
	s.Handle("agents.get", s.rpcAgentsGet)
	s.Handle("agents.best", s.rpcAgentsBest)
	s.Handle("agents.pause", s.rpcAgentsPause)
	s.Handle("agents.resume", s.rpcAgentsResume)
	s.Handle("agents.stats", s.rpcAgentsStats)
	s.Handle("registry.stats", s.rpcRegistryStats)

	s.Handle("engine.execute", s.rpcEngineExecute)
	s.Handle("engine.stats", s.rpcEngineStats)
	s.Handle("engine.history", s.rpcEngineHistory)
	s.Handle("engine.health", s.rpcEngineHealth)

	s.Handle("workflow.run", s.rpcWorkflowRun)
	s.Handle("workflow.validate", s.rpcWorkflowValidate)
	s.Handle("workflow.estimate", s.rpcWorkflowEstimate)

	if s.ledger == nil {
		return
	}
	s.Handle("ledger.invest", s.rpcLedgerInvest)
	s.Handle("ledger.withdraw", s.rpcLedgerWithdraw)
	s.Handle("ledger.withdrawAll", s.rpcLedgerWithdrawAll)
	s.Handle("ledger.portfolio", s.rpcLedgerPortfolio)
	s.Handle("ledger.botStats", s.rpcLedgerBotStats)
	s.Handle("ledger.opportunities", s.rpcLedgerOpportunities)
	s.Handle("ledger.leaderboard", s.rpcLedgerLeaderboard)
}

// params decodes the request params, answering invalid_params on failure.
func params[T any](rc *RequestContext) (T, bool) {
	var p T
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return p, false
	}
	return p, true
}

// limit applies the per-user rate limit for action.
func (s *Server) limit(rc *RequestContext, action string) bool {
	if err := ratelimit.Check(rc.Ctx, s.limiter, rc.Client.UserID(), action, s.limits[action]); err != nil {
		rc.Fail(err)
		return false
	}
	return true
}

func (s *Server) rpcHealth(rc *RequestContext) {
	h := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		Users:   s.clients.Users(),
		Agents:  s.registry.Count(),
	}
	if !s.startedAt.IsZero() {
		h.Uptime = time.Since(s.startedAt)
	}
	rc.Respond(h)
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels == nil {
		rc.Respond(map[string]any{"channels": []any{}})
		return
	}
	rc.Respond(map[string]any{"channels": s.channels.Status()})
}

// Agents

type idParams struct {
	ID string `json:"id"`
}

func (s *Server) lookup(rc *RequestContext) (*agent.Agent, bool) {
	p, ok := params[idParams](rc)
	if !ok {
		return nil, false
	}
	if p.ID == "" {
		rc.RespondError("invalid_params", "id is required")
		return nil, false
	}
	a, err := s.registry.Lookup(p.ID)
	if err != nil {
		rc.Fail(err)
		return nil, false
	}
	return a, true
}

func (s *Server) rpcAgentsList(rc *RequestContext) {
	opts, ok := params[registry.ListOptions](rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{"agents": s.registry.List(opts)})
}

func (s *Server) rpcAgentsSearch(rc *RequestContext) {
	p, ok := params[struct {
		Query string `json:"query"`
	}](rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{"agents": s.registry.Search(p.Query)})
}

// AgentDetail is the agents.get payload.
type AgentDetail struct {
	Manifest agent.Manifest `json:"manifest"`
	Owner    string         `json:"owner"`
	Health   agent.Health   `json:"health"`
}

func (s *Server) rpcAgentsGet(rc *RequestContext) {
	a, ok := s.lookup(rc)
	if !ok {
		return
	}
	owner, _ := s.registry.Owner(a.ID())
	rc.Respond(AgentDetail{Manifest: a.Manifest(), Owner: owner, Health: a.Ping()})
}

func (s *Server) rpcAgentsBest(rc *RequestContext) {
	p, ok := params[struct {
		Capabilities []string `json:"capabilities"`
	}](rc)
	if !ok {
		return
	}
	a := s.registry.FindBestAgent(p.Capabilities...)
	if a == nil {
		rc.Fail(domain.Errorf(domain.CodeNotFound, "no active agent offers %v", p.Capabilities))
		return
	}
	rc.Respond(a.Manifest())
}

func (s *Server) rpcAgentsPause(rc *RequestContext) {
	s.toggle(rc, "paused", (*agent.Agent).Pause)
}

func (s *Server) rpcAgentsResume(rc *RequestContext) {
	s.toggle(rc, "resumed", (*agent.Agent).Resume)
}

// toggle applies fn to an agent the caller owns. System agents may be
// toggled by anyone.
func (s *Server) toggle(rc *RequestContext, verb string, fn func(*agent.Agent)) {
	a, ok := s.lookup(rc)
	if !ok {
		return
	}
	user := rc.Client.UserID()
	if owner, _ := s.registry.Owner(a.ID()); owner != registry.SystemOwner && owner != user {
		rc.Fail(domain.Errorf(domain.CodePermissionDenied, "agent %s is owned by %s", a.ID(), owner))
		return
	}
	fn(a)
	s.log.Info().Str("agent", a.ID()).Str("user", user).Msg("agent " + verb)
	rc.Respond(map[string]any{"id": a.ID(), "active": a.IsActive()})
}

func (s *Server) rpcAgentsStats(rc *RequestContext) {
	a, ok := s.lookup(rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{
		"health":     a.Ping(),
		"executions": s.engine.AgentStats(a.ID()),
	})
}

func (s *Server) rpcRegistryStats(rc *RequestContext) {
	rc.Respond(s.registry.Stats())
}

// Engine

type executeParams struct {
	AgentID   string         `json:"agentId"`
	Input     map[string]any `json:"input"`
	TimeoutMs int            `json:"timeoutMs,omitempty"`
}

func (s *Server) rpcEngineExecute(rc *RequestContext) {
	p, ok := params[executeParams](rc)
	if !ok {
		return
	}
	if p.AgentID == "" {
		rc.RespondError("invalid_params", "agentId is required")
		return
	}
	if !s.limit(rc, config.ActionRun) {
		return
	}
	opts := engine.Options{Timeout: time.Duration(p.TimeoutMs) * time.Millisecond}
	rc.Respond(s.engine.Execute(rc.Ctx, p.AgentID, p.Input, rc.Client.Caller(), opts))
}

func (s *Server) rpcEngineStats(rc *RequestContext) {
	rc.Respond(s.engine.Stats())
}

func (s *Server) rpcEngineHistory(rc *RequestContext) {
	f, ok := params[engine.HistoryFilter](rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{"records": s.engine.History(f)})
}

func (s *Server) rpcEngineHealth(rc *RequestContext) {
	rc.Respond(s.engine.Health())
}

// Workflows

type workflowParams struct {
	Workflow composer.Definition `json:"workflow"`
	Input    map[string]any      `json:"input,omitempty"`
}

func (s *Server) workflow(rc *RequestContext) (*composer.Composer, map[string]any, bool) {
	p, ok := params[workflowParams](rc)
	if !ok {
		return nil, nil, false
	}
	c := composer.New(p.Workflow, s.registry, s.log, composer.WithRunner(s.engine))
	return c, p.Input, true
}

func (s *Server) rpcWorkflowRun(rc *RequestContext) {
	c, input, ok := s.workflow(rc)
	if !ok {
		return
	}
	if err := c.Validate().Err(); err != nil {
		rc.Fail(err)
		return
	}
	if !s.limit(rc, config.ActionRun) {
		return
	}
	rc.Respond(c.Execute(rc.Ctx, input, rc.Client.Caller()))
}

func (s *Server) rpcWorkflowValidate(rc *RequestContext) {
	c, _, ok := s.workflow(rc)
	if !ok {
		return
	}
	rc.Respond(c.Validate())
}

func (s *Server) rpcWorkflowEstimate(rc *RequestContext) {
	c, input, ok := s.workflow(rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{
		"estimatedCost": c.EstimateCost(input),
		"summary":       c.Summary(),
	})
}

// Ledger

type amountParams struct {
	AgentID string  `json:"agentId"`
	Amount  float64 `json:"amount"`
}

// investor returns the caller's user id; ledger methods refuse anonymous
// clients.
func investor(rc *RequestContext) (string, bool) {
	if id := rc.Client.UserID(); id != "" {
		return id, true
	}
	rc.Fail(domain.Errorf(domain.CodeInvalidArgument, "connect with client.user set to use the ledger"))
	return "", false
}

func (s *Server) rpcLedgerInvest(rc *RequestContext) {
	p, ok := params[amountParams](rc)
	if !ok {
		return
	}
	user, ok := investor(rc)
	if !ok || !s.limit(rc, config.ActionInvest) {
		return
	}
	inv, err := s.ledger.Invest(rc.Ctx, user, p.AgentID, p.Amount)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(inv)
}

func (s *Server) rpcLedgerWithdraw(rc *RequestContext) {
	p, ok := params[amountParams](rc)
	if !ok {
		return
	}
	user, ok := investor(rc)
	if !ok || !s.limit(rc, config.ActionWithdraw) {
		return
	}
	w, err := s.ledger.Withdraw(rc.Ctx, user, p.AgentID, p.Amount)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(w)
}

func (s *Server) rpcLedgerWithdrawAll(rc *RequestContext) {
	p, ok := params[amountParams](rc)
	if !ok {
		return
	}
	user, ok := investor(rc)
	if !ok || !s.limit(rc, config.ActionWithdraw) {
		return
	}
	w, err := s.ledger.WithdrawAll(rc.Ctx, user, p.AgentID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(w)
}

func (s *Server) rpcLedgerPortfolio(rc *RequestContext) {
	user, ok := investor(rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{"positions": s.ledger.InvestorPortfolio(user)})
}

func (s *Server) rpcLedgerBotStats(rc *RequestContext) {
	p, ok := params[amountParams](rc)
	if !ok {
		return
	}
	stats, err := s.ledger.BotStats(p.AgentID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(stats)
}

type limitParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) rpcLedgerOpportunities(rc *RequestContext) {
	p, ok := params[limitParams](rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{"opportunities": s.ledger.TopOpportunities(p.Limit)})
}

func (s *Server) rpcLedgerLeaderboard(rc *RequestContext) {
	p, ok := params[limitParams](rc)
	if !ok {
		return
	}
	rc.Respond(map[string]any{
		"investors":        s.ledger.Leaderboard(p.Limit),
		"totalValueLocked": s.ledger.TotalValueLocked(),
	})
}
