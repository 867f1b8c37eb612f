package ledger

import (
	"sort"

	"github.com/arko05roy/swarm/internal/registry"
)

const (
	topInvestorsSize     = 5
	defaultOpportunities = 10

	// opportunityFloor stands in for total principal when ranking agents
	// nobody has invested in yet.
	opportunityFloor = 0.001
)

// Position is one entry of an investor's portfolio.
type Position struct {
	AgentID            string  `json:"agentId"`
	AgentName          string  `json:"agentName"`
	Invested           float64 `json:"invested"`
	Earned             float64 `json:"earned"`
	CurrentValue       float64 `json:"currentValue"`
	ROI                float64 `json:"roi"`
	Ownership          float64 `json:"ownership"`
	AgentTotalEarnings float64 `json:"agentTotalEarnings"`
	AgentCalls         int64   `json:"agentCalls"`
	AvgEarningPerCall  float64 `json:"avgEarningPerCall"`
}

// Stake is one investor's stake in an agent.
type Stake struct {
	InvestorID string  `json:"investorId"`
	Invested   float64 `json:"invested"`
	Ownership  float64 `json:"ownership"`
	Earned     float64 `json:"earned"`
}

// BotStats summarises investment in one agent.
type BotStats struct {
	AgentID           string  `json:"agentId"`
	AgentName         string  `json:"agentName"`
	InvestorCount     int     `json:"investorCount"`
	TotalInvested     float64 `json:"totalInvested"`
	TotalEarnings     float64 `json:"totalEarnings"`
	Calls             int64   `json:"calls"`
	AvgEarningPerCall float64 `json:"avgEarningPerCall"`
	ProjectedAPY      float64 `json:"projectedApy"`
	TopInvestors      []Stake `json:"topInvestors"`
}

// Opportunity ranks an agent as an investment target.
type Opportunity struct {
	AgentID       string  `json:"agentId"`
	AgentName     string  `json:"agentName"`
	TotalInvested float64 `json:"totalInvested"`
	TotalEarnings float64 `json:"totalEarnings"`
	Calls         int64   `json:"calls"`
	ROI           float64 `json:"roi"`
	ProjectedAPY  float64 `json:"projectedApy"`
	InvestorCount int     `json:"investorCount"`
}

// LeaderboardEntry ranks an investor across all positions.
type LeaderboardEntry struct {
	InvestorID string  `json:"investorId"`
	Invested   float64 `json:"invested"`
	Earned     float64 `json:"earned"`
	TotalValue float64 `json:"totalValue"`
	Positions  int     `json:"positions"`
}

func perCall(earnings float64, calls int64) float64 {
	if calls == 0 {
		return 0
	}
	return earnings / float64(calls)
}

// recentLocked sums earnings credited to agentID inside the APY window.
func (l *Ledger) recentLocked(agentID string) float64 {
	cutoff := l.now().Add(-apyWindow)
	var sum float64
	for _, e := range l.earnings[agentID] {
		if e.Timestamp.After(cutoff) {
			sum += e.Amount
		}
	}
	return sum
}

func projectedAPY(recent, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return recent / total * 365 * 100
}

// InvestorPortfolio lists the investor's open positions, best ROI first.
// Positions in agents that are no longer registered are skipped.
func (l *Ledger) InvestorPortfolio(investorID string) []Position {
	l.mu.RLock()
	agentIDs := make([]string, 0, len(l.portfolios[investorID]))
	for id := range l.portfolios[investorID] {
		agentIDs = append(agentIDs, id)
	}
	type holding struct{ invested, earned, ownership float64 }
	holdings := make(map[string]holding, len(agentIDs))
	for _, id := range agentIDs {
		holdings[id] = holding{
			invested:  l.investments[id][investorID],
			earned:    l.earnedLocked(investorID, id),
			ownership: l.ownershipLocked(investorID, id),
		}
	}
	l.mu.RUnlock()

	out := make([]Position, 0, len(agentIDs))
	for _, id := range agentIDs {
		a, err := l.dir.Lookup(id)
		if err != nil {
			continue
		}
		m := a.Manifest()
		h := holdings[id]
		p := Position{
			AgentID:            id,
			AgentName:          m.Name,
			Invested:           h.invested,
			Earned:             h.earned,
			CurrentValue:       h.invested + h.earned,
			Ownership:          h.ownership,
			AgentTotalEarnings: m.Metadata.TotalEarnings,
			AgentCalls:         m.Metadata.Calls,
			AvgEarningPerCall:  perCall(m.Metadata.TotalEarnings, m.Metadata.Calls),
		}
		if h.invested > 0 {
			p.ROI = h.earned / h.invested * 100
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ROI != out[j].ROI {
			return out[i].ROI > out[j].ROI
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// BotStats summarises investment in agentID, including its five largest
// investors.
func (l *Ledger) BotStats(agentID string) (BotStats, error) {
	a, err := l.dir.Lookup(agentID)
	if err != nil {
		return BotStats{}, err
	}
	m := a.Manifest()

	l.mu.RLock()
	total := l.totals[agentID]
	recent := l.recentLocked(agentID)
	stakes := make([]Stake, 0, len(l.investments[agentID]))
	for investorID, invested := range l.investments[agentID] {
		stakes = append(stakes, Stake{
			InvestorID: investorID,
			Invested:   invested,
			Ownership:  l.ownershipLocked(investorID, agentID),
			Earned:     l.earnedLocked(investorID, agentID),
		})
	}
	l.mu.RUnlock()

	sort.Slice(stakes, func(i, j int) bool {
		if stakes[i].Invested != stakes[j].Invested {
			return stakes[i].Invested > stakes[j].Invested
		}
		return stakes[i].InvestorID < stakes[j].InvestorID
	})

	s := BotStats{
		AgentID:           agentID,
		AgentName:         m.Name,
		InvestorCount:     len(stakes),
		TotalInvested:     total,
		TotalEarnings:     m.Metadata.TotalEarnings,
		Calls:             m.Metadata.Calls,
		AvgEarningPerCall: perCall(m.Metadata.TotalEarnings, m.Metadata.Calls),
		ProjectedAPY:      projectedAPY(recent, total),
		TopInvestors:      stakes,
	}
	if len(s.TopInvestors) > topInvestorsSize {
		s.TopInvestors = s.TopInvestors[:topInvestorsSize]
	}
	return s, nil
}

// TopOpportunities ranks active agents by projected APY. An agent with no
// principal is ranked as if 0.001 were invested.
func (l *Ledger) TopOpportunities(limit int) []Opportunity {
	if limit <= 0 {
		limit = defaultOpportunities
	}
	listings := l.dir.List(registry.ListOptions{ActiveOnly: true})

	l.mu.RLock()
	out := make([]Opportunity, 0, len(listings))
	for _, m := range listings {
		total := l.totals[m.ID]
		denom := total
		if denom == 0 {
			denom = opportunityFloor
		}
		out = append(out, Opportunity{
			AgentID:       m.ID,
			AgentName:     m.Name,
			TotalInvested: total,
			TotalEarnings: m.Metadata.TotalEarnings,
			Calls:         m.Metadata.Calls,
			ROI:           m.Metadata.TotalEarnings / denom * 100,
			ProjectedAPY:  projectedAPY(l.recentLocked(m.ID), denom),
			InvestorCount: len(l.investments[m.ID]),
		})
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ProjectedAPY > out[j].ProjectedAPY })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Leaderboard ranks investors by total value across every position.
func (l *Ledger) Leaderboard(limit int) []LeaderboardEntry {
	l.mu.RLock()
	out := make([]LeaderboardEntry, 0, len(l.portfolios))
	for investorID, agents := range l.portfolios {
		e := LeaderboardEntry{InvestorID: investorID, Positions: len(agents)}
		for agentID := range agents {
			e.Invested += l.investments[agentID][investorID]
			e.Earned += l.earnedLocked(investorID, agentID)
		}
		e.TotalValue = e.Invested + e.Earned
		out = append(out, e)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalValue != out[j].TotalValue {
			return out[i].TotalValue > out[j].TotalValue
		}
		return out[i].InvestorID < out[j].InvestorID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
