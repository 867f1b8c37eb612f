// Package engine invokes registered agents under a global concurrency
// ceiling and a per-call timeout, and keeps a bounded execution history.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/ring"
)

// Defaults used when Config fields are zero.
const (
	DefaultMaxConcurrent = 10
	DefaultTimeout       = 30 * time.Second
	DefaultHistorySize   = 100
)

// Config bounds the engine.
type Config struct {
	MaxConcurrent int
	Timeout       time.Duration
	HistorySize   int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Options tune a single execution.
type Options struct {
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Resolver looks agents up by id.
type Resolver interface {
	Lookup(id string) (*agent.Agent, error)
}

// Settler is told about every successful execution that has a price.
type Settler interface {
	Settle(ctx context.Context, a *agent.Agent, caller agent.Caller, res agent.Result) error
}

// Record is one history entry.
type Record struct {
	ExecutionID string        `json:"executionId"`
	AgentID     string        `json:"agentId"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	Cost        float64       `json:"cost,omitempty"`
	Error       string        `json:"error,omitempty"`
	Code        domain.Code   `json:"code,omitempty"`
	Caller      agent.Caller  `json:"caller"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Engine executes agents.
type Engine struct {
	resolver Resolver
	cfg      Config
	settler  Settler
	hooks    *hooks.Manager
	log      *logging.Logger

	mu       sync.Mutex
	inFlight int

	history *ring.Buffer[Record]
}

// Option configures an Engine.
type Option func(*Engine)

// WithHooks emits execution_completed and execution_rejected on hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(e *Engine) { e.hooks = hm }
}

// WithSettler settles paid executions through s.
func WithSettler(s Settler) Option {
	return func(e *Engine) { e.settler = s }
}

// New creates an engine resolving agents through r.
func New(r Resolver, cfg Config, log *logging.Logger, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		resolver: r,
		cfg:      cfg,
		log:      log.Sub("engine"),
		history:  ring.New[Record](cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight >= e.cfg.MaxConcurrent {
		return false
	}
	e.inFlight++
	return true
}

func (e *Engine) release() {
	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
}

// InFlight returns the number of executions currently running.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Execute runs one agent. It never returns an error: failures, including
// timeouts, come back as a failed Result and are recorded in history. Only
// an Overloaded rejection skips the history.
func (e *Engine) Execute(ctx context.Context, agentID string, input map[string]any, caller agent.Caller, opts Options) agent.Result {
	if !e.acquire() {
		e.log.Warn().Str("agent", agentID).Int("ceiling", e.cfg.MaxConcurrent).Msg("execution rejected: overloaded")
		e.hooks.Emit(ctx, hooks.EventExecutionRejected, map[string]any{"agentId": agentID})
		return agent.Failure(agentID, domain.Errorf(domain.CodeOverloaded,
			"too many concurrent executions, please try again later"))
	}
	defer e.release()

	execID := "exec_" + uuid.New().String()
	start := time.Now()

	a, res := e.run(ctx, agentID, input, caller, opts)
	res.ExecutionID = execID

	rec := Record{
		ExecutionID: execID,
		AgentID:     agentID,
		Success:     res.Success,
		Duration:    time.Since(start),
		Error:       res.Error,
		Code:        res.Code,
		Caller:      caller,
		Timestamp:   start,
	}
	if res.Success {
		rec.Cost = res.Cost
	}
	e.history.Push(rec)

	e.log.Debug().
		Str("agent", agentID).
		Str("execution", execID).
		Bool("success", res.Success).
		Dur("duration", rec.Duration).
		Msg("execution finished")

	if res.Success && res.Cost > 0 && e.settler != nil {
		if err := e.settler.Settle(ctx, a, caller, res); err != nil {
			e.log.Error().Err(err).Str("agent", agentID).Str("execution", execID).Msg("settlement failed")
		}
	}

	e.hooks.Emit(ctx, hooks.EventExecutionCompleted, map[string]any{
		"executionId": execID,
		"agentId":     agentID,
		"success":     res.Success,
		"durationMs":  rec.Duration.Milliseconds(),
		"cost":        rec.Cost,
		"error":       res.Error,
		"userId":      caller.UserID,
	})
	return res
}

func (e *Engine) run(ctx context.Context, agentID string, input map[string]any, caller agent.Caller, opts Options) (*agent.Agent, agent.Result) {
	a, err := e.resolver.Lookup(agentID)
	if err != nil {
		return nil, agent.Failure(agentID, err)
	}
	if !a.IsActive() {
		return a, agent.Failure(agentID, domain.Errorf(domain.CodeInactive, "agent %s is not active", agentID))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	// The call context is cancelled only once the engine has decided the
	// outcome, so a provider that honours ctx cannot race the timer.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan agent.Result, 1)
	go func() {
		done <- a.Execute(callCtx, input, caller)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return a, res
	case <-timer.C:
		e.log.Warn().Str("agent", agentID).Dur("timeout", timeout).Msg("execution timed out")
		return a, agent.Failure(agentID, domain.Errorf(domain.CodeTimeout,
			"agent %s execution timeout after %dms", agentID, timeout.Milliseconds()))
	case <-ctx.Done():
		return a, agent.Failure(agentID, domain.Wrap(domain.CodeTimeout, ctx.Err(),
			fmt.Sprintf("agent %s execution abandoned", agentID)))
	}
}

// Request is one entry of ExecuteParallel.
type Request struct {
	AgentID string         `json:"agentId"`
	Input   map[string]any `json:"input,omitempty"`
	Caller  agent.Caller   `json:"caller"`
	Options Options        `json:"options"`
}

// ExecuteParallel runs every request concurrently and returns the results
// in request order once all have settled. Requests above the ceiling fail
// with Overloaded like any other call.
func (e *Engine) ExecuteParallel(ctx context.Context, reqs []Request) []agent.Result {
	results := make([]agent.Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			results[i] = e.Execute(ctx, req.AgentID, req.Input, req.Caller, req.Options)
		}(i, req)
	}
	wg.Wait()
	return results
}
