// Package ledger tracks investor principal per agent, distributes agent
// revenue pro rata and pays withdrawals out through a Transferer.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/registry"
)

// Dust thresholds. Earnings entries and principal balances below them are
// dropped.
const (
	EarningsDust  = 0.0001
	PrincipalDust = 0.001
)

// apyWindow is the trailing window projected APY annualises.
const apyWindow = 24 * time.Hour

// Directory resolves agents. *registry.Registry satisfies it.
type Directory interface {
	Lookup(id string) (*agent.Agent, error)
	List(opts registry.ListOptions) []registry.Listing
}

// Transferer pays an amount out to an address.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount float64) (string, error)
}

// AddressBook resolves an investor's payout address.
type AddressBook interface {
	Address(investorID string) (string, bool)
}

// EarningsEntry is one credited share of agent revenue.
type EarningsEntry struct {
	InvestorID string    `json:"investorId"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// Ledger holds all investment state. Reads and writes of the maps happen
// under mu; the withdraw sequence additionally holds a per (investor,
// agent) lock across the external transfer.
type Ledger struct {
	dir       Directory
	transfer  Transferer
	addresses AddressBook
	hooks     *hooks.Manager
	log       *logging.Logger
	now       func() time.Time

	mu          sync.RWMutex
	investments map[string]map[string]float64  // agent -> investor -> principal
	totals      map[string]float64             // agent -> total principal
	portfolios  map[string]map[string]struct{} // investor -> agents
	earnings    map[string][]EarningsEntry     // agent -> entries

	locksMu sync.Mutex
	locks   map[pairKey]*sync.Mutex
}

type pairKey struct {
	investor string
	agent    string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTransferer pays withdrawals out through t to addresses from book.
// Without it withdrawals only update the books.
func WithTransferer(t Transferer, book AddressBook) Option {
	return func(l *Ledger) {
		l.transfer = t
		l.addresses = book
	}
}

// WithHooks emits investment events on hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(l *Ledger) { l.hooks = hm }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(dir Directory, log *logging.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		dir:         dir,
		log:         log.Sub("ledger"),
		now:         time.Now,
		investments: make(map[string]map[string]float64),
		totals:      make(map[string]float64),
		portfolios:  make(map[string]map[string]struct{}),
		earnings:    make(map[string][]EarningsEntry),
		locks:       make(map[pairKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) pairLock(investorID, agentID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	k := pairKey{investor: investorID, agent: agentID}
	m, ok := l.locks[k]
	if !ok {
		m = &sync.Mutex{}
		l.locks[k] = m
	}
	return m
}

// Investment is the result of Invest.
type Investment struct {
	AgentID       string  `json:"agentId"`
	AgentName     string  `json:"agentName"`
	Amount        float64 `json:"amount"`
	TotalInvested float64 `json:"totalInvested"`
	Ownership     float64 `json:"ownership"`
}

// Invest adds amount to the investor's principal in agentID.
func (l *Ledger) Invest(ctx context.Context, investorID, agentID string, amount float64) (Investment, error) {
	if amount <= 0 {
		return Investment{}, domain.Errorf(domain.CodeInvalidAmount, "investment amount must be positive")
	}
	if investorID == "" {
		return Investment{}, domain.Errorf(domain.CodeInvalidArgument, "investor id is required")
	}
	a, err := l.dir.Lookup(agentID)
	if err != nil {
		return Investment{}, err
	}
	name := a.Manifest().Name

	pl := l.pairLock(investorID, agentID)
	pl.Lock()
	defer pl.Unlock()

	l.mu.Lock()
	investors, ok := l.investments[agentID]
	if !ok {
		investors = make(map[string]float64)
		l.investments[agentID] = investors
	}
	investors[investorID] += amount
	l.totals[agentID] += amount
	agents, ok := l.portfolios[investorID]
	if !ok {
		agents = make(map[string]struct{})
		l.portfolios[investorID] = agents
	}
	agents[agentID] = struct{}{}

	res := Investment{
		AgentID:       agentID,
		AgentName:     name,
		Amount:        amount,
		TotalInvested: investors[investorID],
		Ownership:     l.ownershipLocked(investorID, agentID),
	}
	l.mu.Unlock()

	l.log.Info().
		Str("investor", investorID).
		Str("agent", agentID).
		Float64("amount", amount).
		Float64("ownership", res.Ownership).
		Msg("investment made")
	l.hooks.Emit(ctx, hooks.EventInvestmentMade, map[string]any{
		"investorId": investorID,
		"agentId":    agentID,
		"amount":     amount,
		"ownership":  res.Ownership,
	})
	return res, nil
}

func (l *Ledger) ownershipLocked(investorID, agentID string) float64 {
	total := l.totals[agentID]
	if total == 0 {
		return 0
	}
	return l.investments[agentID][investorID] / total * 100
}

func (l *Ledger) earnedLocked(investorID, agentID string) float64 {
	var sum float64
	for _, e := range l.earnings[agentID] {
		if e.InvestorID == investorID {
			sum += e.Amount
		}
	}
	return sum
}

// Ownership is the investor's principal as a percentage of the agent's
// total principal.
func (l *Ledger) Ownership(investorID, agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ownershipLocked(investorID, agentID)
}

// Principal returns the investor's principal in agentID.
func (l *Ledger) Principal(investorID, agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.investments[agentID][investorID]
}

// Earned returns the investor's unclaimed earnings from agentID.
func (l *Ledger) Earned(investorID, agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.earnedLocked(investorID, agentID)
}

// TotalInvested returns the agent's total principal.
func (l *Ledger) TotalInvested(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals[agentID]
}

// TotalValueLocked sums principal across every agent.
func (l *Ledger) TotalValueLocked() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, t := range l.totals {
		sum += t
	}
	return sum
}

// Share is one investor's cut of a distribution.
type Share struct {
	InvestorID string  `json:"investorId"`
	Share      float64 `json:"share"`
	Percentage float64 `json:"percentage"`
}

// Distribution is the result of DistributeEarnings.
type Distribution struct {
	Distributed   bool    `json:"distributed"`
	Reason        string  `json:"reason,omitempty"`
	TotalEarnings float64 `json:"totalEarnings,omitempty"`
	Shares        []Share `json:"distributions,omitempty"`
}

// DistributeEarnings splits amount between the agent's current investors
// by their share of principal right now. It is a reported no-op when the
// agent has no investors.
func (l *Ledger) DistributeEarnings(ctx context.Context, agentID string, amount float64) Distribution {
	l.mu.Lock()
	investors := l.investments[agentID]
	if len(investors) == 0 {
		l.mu.Unlock()
		return Distribution{Reason: "no investors"}
	}
	total := l.totals[agentID]
	if total == 0 {
		l.mu.Unlock()
		return Distribution{Reason: "no total investment"}
	}

	ids := make([]string, 0, len(investors))
	for id := range investors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := l.now()
	shares := make([]Share, 0, len(ids))
	for _, id := range ids {
		principal := investors[id]
		s := Share{
			InvestorID: id,
			Share:      principal / total * amount,
			Percentage: principal / total * 100,
		}
		shares = append(shares, s)
		l.earnings[agentID] = append(l.earnings[agentID], EarningsEntry{
			InvestorID: id,
			Amount:     s.Share,
			Timestamp:  now,
		})
	}
	l.mu.Unlock()

	l.log.Info().Str("agent", agentID).Float64("amount", amount).Int("investors", len(shares)).Msg("earnings distributed")
	l.hooks.Emit(ctx, hooks.EventEarningsDistributed, map[string]any{
		"agentId":   agentID,
		"amount":    amount,
		"investors": len(shares),
	})
	return Distribution{Distributed: true, TotalEarnings: amount, Shares: shares}
}
