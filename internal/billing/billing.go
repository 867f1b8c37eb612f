// Package billing settles paid executions: the price is held in escrow,
// released to the agent owner, then credited to the agent and shared out
// to its investors.
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/ledger"
	"github.com/arko05roy/swarm/internal/logging"
)

// DefaultMaxRecords bounds the in-memory escrow log.
const DefaultMaxRecords = 1000

// Status is the lifecycle state of an escrow record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusLocked   Status = "locked"
	StatusReleased Status = "released"
	StatusFailed   Status = "failed"
)

// Record tracks one settlement.
type Record struct {
	TaskID     string    `json:"taskId"`
	AgentID    string    `json:"agentId"`
	Payer      string    `json:"payer,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Amount     float64   `json:"amount"`
	Status     Status    `json:"status"`
	LockTx     string    `json:"lockTx,omitempty"`
	ReleaseTx  string    `json:"releaseTx,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ReleasedAt time.Time `json:"releasedAt,omitzero"`
}

// Escrow holds funds for a task and releases them to the provider.
type Escrow interface {
	Lock(ctx context.Context, taskID, provider string, amount float64) (string, error)
	Release(ctx context.Context, taskID string) (string, error)
}

// Distributor shares agent revenue with investors. *ledger.Ledger
// satisfies it.
type Distributor interface {
	DistributeEarnings(ctx context.Context, agentID string, amount float64) ledger.Distribution
}

// Owners resolves the owner of an agent. *registry.Registry satisfies it.
type Owners interface {
	Owner(id string) (string, bool)
}

// AddressBook resolves a user's payout address.
type AddressBook interface {
	Address(user string) (string, bool)
}

// Settler implements engine.Settler.
type Settler struct {
	dist   Distributor
	escrow Escrow
	owners Owners
	book   AddressBook
	hooks  *hooks.Manager
	log    *logging.Logger
	max    int
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// Option configures a Settler.
type Option func(*Settler)

// WithEscrow routes payments through e to the payout address of the
// agent's owner. Without it settlement only credits earnings.
func WithEscrow(e Escrow, owners Owners, book AddressBook) Option {
	return func(s *Settler) {
		s.escrow = e
		s.owners = owners
		s.book = book
	}
}

// WithHooks emits earnings_settled on hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(s *Settler) { s.hooks = hm }
}

// WithMaxRecords caps the escrow log.
func WithMaxRecords(n int) Option {
	return func(s *Settler) {
		if n > 0 {
			s.max = n
		}
	}
}

// NewSettler creates a settler crediting revenue through dist.
func NewSettler(dist Distributor, log *logging.Logger, opts ...Option) *Settler {
	s := &Settler{
		dist:    dist,
		log:     log.Sub("billing"),
		max:     DefaultMaxRecords,
		now:     time.Now,
		records: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle runs escrow for a successful paid execution and credits the agent.
// A failed escrow leaves the record failed and credits nothing.
func (s *Settler) Settle(ctx context.Context, a *agent.Agent, caller agent.Caller, res agent.Result) error {
	amount := res.Cost
	if amount <= 0 {
		return nil
	}
	taskID := res.ExecutionID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	agentID := a.ID()

	rec := &Record{
		TaskID:    taskID,
		AgentID:   agentID,
		Payer:     caller.UserID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	s.track(rec)

	if s.escrow != nil {
		if provider, ok := s.providerAddress(agentID); ok {
			s.update(taskID, func(r *Record) { r.Provider = provider })
			if err := s.runEscrow(ctx, taskID, provider, amount); err != nil {
				return err
			}
		} else {
			s.log.Debug().Str("agent", agentID).Msg("no payout address for owner, escrow skipped")
		}
	}
	s.update(taskID, func(r *Record) {
		r.Status = StatusReleased
		r.ReleasedAt = s.now()
	})

	a.AddEarnings(amount)
	d := s.dist.DistributeEarnings(ctx, agentID, amount)

	s.log.Info().
		Str("task", taskID).
		Str("agent", agentID).
		Float64("amount", amount).
		Bool("distributed", d.Distributed).
		Msg("execution settled")
	s.hooks.Emit(ctx, hooks.EventEarningsSettled, map[string]any{
		"taskId":      taskID,
		"agentId":     agentID,
		"amount":      amount,
		"payer":       caller.UserID,
		"distributed": d.Distributed,
	})
	return nil
}

func (s *Settler) runEscrow(ctx context.Context, taskID, provider string, amount float64) error {
	lockTx, err := s.escrow.Lock(ctx, taskID, provider, amount)
	if err != nil {
		s.fail(taskID, err)
		return fmt.Errorf("lock escrow %s: %w", taskID, err)
	}
	s.update(taskID, func(r *Record) {
		r.Status = StatusLocked
		r.LockTx = lockTx
	})
	s.log.Debug().Str("task", taskID).Str("tx", lockTx).Msg("escrow locked")

	releaseTx, err := s.escrow.Release(ctx, taskID)
	if err != nil {
		s.fail(taskID, err)
		return fmt.Errorf("release escrow %s: %w", taskID, err)
	}
	s.update(taskID, func(r *Record) { r.ReleaseTx = releaseTx })
	s.log.Debug().Str("task", taskID).Str("tx", releaseTx).Msg("escrow released")
	return nil
}

func (s *Settler) providerAddress(agentID string) (string, bool) {
	if s.owners == nil || s.book == nil {
		return "", false
	}
	owner, ok := s.owners.Owner(agentID)
	if !ok {
		return "", false
	}
	return s.book.Address(owner)
}

func (s *Settler) fail(taskID string, err error) {
	s.update(taskID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = err.Error()
	})
	s.log.Error().Err(err).Str("task", taskID).Msg("escrow failed")
}

func (s *Settler) track(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.TaskID]; !ok {
		s.order = append(s.order, r.TaskID)
	}
	s.records[r.TaskID] = r
	for len(s.order) > s.max {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Settler) update(taskID string, fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[taskID]; ok {
		fn(r)
	}
}

// Get returns the escrow record for a task.
func (s *Settler) Get(taskID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[taskID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// List returns up to limit records, newest first. A limit of zero returns
// every record.
func (s *Settler) List(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *s.records[s.order[i]])
	}
	return out
}
