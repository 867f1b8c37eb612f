// Package agent defines the capability-provider contract: a data-only
// manifest, a single-method Provider, and the Agent wrapper that validates
// input, tracks rolling metrics and can be paused.
package agent

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/ring"
)

// errorLogSize is how many recent failures an agent remembers.
const errorLogSize = 10

// Caller identifies who is invoking an agent.
type Caller struct {
	UserID string `json:"userId,omitempty"`
	Wallet string `json:"wallet,omitempty"`
	Source string `json:"source,omitempty"` // "cli" | "gateway" | "irc" | "workflow"
}

// Provider is the execution logic behind an agent.
type Provider interface {
	Execute(ctx context.Context, input map[string]any, caller Caller) (any, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, input map[string]any, caller Caller) (any, error)

// Execute calls f.
func (f ProviderFunc) Execute(ctx context.Context, input map[string]any, caller Caller) (any, error) {
	return f(ctx, input, caller)
}

// Result is the discriminated outcome of one execution.
type Result struct {
	Success     bool        `json:"success"`
	Data        any         `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`
	Code        domain.Code `json:"code,omitempty"`
	AgentID     string      `json:"agentId"`
	ExecutionID string      `json:"executionId,omitempty"`
	Cost        float64     `json:"cost,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Failure builds a failed Result from err.
func Failure(agentID string, err error) Result {
	code := domain.CodeOf(err)
	if code == domain.CodeUnknown {
		code = domain.CodeExecutionFailed
	}
	return Result{
		Success:   false,
		Error:     err.Error(),
		Code:      code,
		AgentID:   agentID,
		Timestamp: time.Now(),
	}
}

// Err converts a failed result back into a coded error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return domain.Errorf(r.Code, "%s", r.Error)
}

// ErrorEntry is one remembered execution failure.
type ErrorEntry struct {
	Message   string      `json:"message"`
	Code      domain.Code `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Health is the ping response of an agent.
type Health struct {
	Status      string        `json:"status"` // "healthy" | "inactive"
	AgentID     string        `json:"agentId"`
	Name        string        `json:"name"`
	Uptime      time.Duration `json:"uptime"`
	Calls       int64         `json:"calls"`
	SuccessRate float64       `json:"successRate"`
	LatencyMs   float64       `json:"avgLatencyMs"`
	Reputation  float64       `json:"reputation"`
}

// Snapshot is the persistable state of an agent. The provider is not part
// of it; restoring requires a provider from the catalog.
type Snapshot struct {
	Manifest Manifest     `json:"manifest"`
	Active   bool         `json:"active"`
	Errors   []ErrorEntry `json:"errors,omitempty"`
}

// Agent wraps a Provider with a manifest, metrics and an active flag.
type Agent struct {
	mu       sync.RWMutex
	manifest Manifest
	provider Provider
	active   bool
	errors   *ring.Buffer[ErrorEntry]
}

// New creates an active agent. An empty manifest id gets a generated one.
func New(m Manifest, p Provider) *Agent {
	if m.ID == "" {
		m.ID = "agent_" + uuid.New().String()
	}
	m = m.clone()
	m.applyDefaults(time.Now())
	if p == nil {
		p = ProviderFunc(func(context.Context, map[string]any, Caller) (any, error) {
			return nil, fmt.Errorf("agent execute function not implemented")
		})
	}
	return &Agent{
		manifest: m,
		provider: p,
		active:   true,
		errors:   ring.New[ErrorEntry](errorLogSize),
	}
}

// FromSnapshot rebuilds an agent from persisted state and a live provider.
func FromSnapshot(s Snapshot, p Provider) *Agent {
	a := New(s.Manifest, p)
	a.active = s.Active
	for _, e := range s.Errors {
		a.errors.Push(e)
	}
	return a
}

// ID returns the agent id.
func (a *Agent) ID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manifest.ID
}

// Manifest returns a copy of the manifest with current metrics.
func (a *Agent) Manifest() Manifest {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manifest.clone()
}

// Provider returns the underlying provider.
func (a *Agent) Provider() Provider {
	return a.provider
}

// Execute validates input, runs the provider and records metrics. Errors are
// captured into the Result, never returned.
func (a *Agent) Execute(ctx context.Context, input map[string]any, caller Caller) Result {
	start := time.Now()
	if input == nil {
		input = map[string]any{}
	}

	a.mu.RLock()
	id := a.manifest.ID
	active := a.active
	schema := a.manifest.Schema
	a.mu.RUnlock()

	data, err := a.run(ctx, input, caller, schema, active)
	a.recordCall(start, err == nil)
	if err != nil {
		a.logError(err)
		return Failure(id, err)
	}

	return Result{
		Success:   true,
		Data:      data,
		AgentID:   id,
		Cost:      a.EstimateCost(input),
		Timestamp: time.Now(),
	}
}

func (a *Agent) run(ctx context.Context, input map[string]any, caller Caller, schema IOSchema, active bool) (data any, err error) {
	if err := schema.Input.Validate(input, "input"); err != nil {
		return nil, err
	}
	if !active {
		return nil, domain.Errorf(domain.CodeInactive, "agent %s is not active", a.ID())
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()

	data, err = a.provider.Execute(ctx, input, caller)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := schema.Output.Validate(data, "output"); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// recordCall updates calls, running average latency, success rate and
// reputation. The success count is reconstructed from the previous rate
// rather than stored.
func (a *Agent) recordCall(start time.Time, success bool) {
	now := time.Now()
	latency := float64(now.Sub(start)) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	md := &a.manifest.Metadata
	md.Calls++
	md.UpdatedAt = now
	md.LastCalledAt = now

	n := float64(md.Calls)
	md.AvgLatencyMs = (md.AvgLatencyMs*(n-1) + latency) / n

	successes := math.Floor(md.SuccessRate / 100 * (n - 1))
	if success {
		successes++
	}
	md.SuccessRate = successes / n * 100
	md.Reputation = math.Min(100, math.Max(0, md.SuccessRate))
}

func (a *Agent) logError(err error) {
	a.errors.Push(ErrorEntry{
		Message:   err.Error(),
		Code:      domain.CodeOf(err),
		Timestamp: time.Now(),
	})
}

// EstimateCost is the price of one call: base price plus per-call price.
func (a *Agent) EstimateCost(map[string]any) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manifest.Pricing.BasePrice + a.manifest.Pricing.PricePerCall
}

// Pause marks the agent inactive. Metrics are kept.
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}

// Resume marks the agent active again.
func (a *Agent) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
}

// IsActive reports whether the agent accepts executions.
func (a *Agent) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Ping reports health and headline metrics.
func (a *Agent) Ping() Health {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := "healthy"
	if !a.active {
		status = "inactive"
	}
	md := a.manifest.Metadata
	return Health{
		Status:      status,
		AgentID:     a.manifest.ID,
		Name:        a.manifest.Name,
		Uptime:      time.Since(md.CreatedAt),
		Calls:       md.Calls,
		SuccessRate: md.SuccessRate,
		LatencyMs:   md.AvgLatencyMs,
		Reputation:  md.Reputation,
	}
}

// AddEarnings adds settled revenue to the agent's cumulative earnings.
// Investor distribution is the ledger's job.
func (a *Agent) AddEarnings(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manifest.Metadata.TotalEarnings += amount
	a.manifest.Metadata.UpdatedAt = time.Now()
}

// Errors returns the most recent failures, oldest first.
func (a *Agent) Errors() []ErrorEntry {
	return a.errors.Items()
}

// Snapshot captures the persistable state of the agent.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Manifest: a.manifest.clone(),
		Active:   a.active,
		Errors:   a.errors.Items(),
	}
}
