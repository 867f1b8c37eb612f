package ledger

import (
	"maps"
	"slices"
	"sort"
)

// Snapshot is the persisted form of the ledger.
type Snapshot struct {
	Investments map[string]map[string]float64 `json:"investments"`
	Totals      map[string]float64            `json:"totals"`
	Portfolios  map[string][]string           `json:"portfolios"`
	Earnings    map[string][]EarningsEntry    `json:"earnings"`
}

// Snapshot copies the full ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		Investments: make(map[string]map[string]float64, len(l.investments)),
		Totals:      maps.Clone(l.totals),
		Portfolios:  make(map[string][]string, len(l.portfolios)),
		Earnings:    make(map[string][]EarningsEntry, len(l.earnings)),
	}
	for agentID, investors := range l.investments {
		s.Investments[agentID] = maps.Clone(investors)
	}
	for investorID, agents := range l.portfolios {
		ids := slices.Collect(maps.Keys(agents))
		sort.Strings(ids)
		s.Portfolios[investorID] = ids
	}
	for agentID, entries := range l.earnings {
		s.Earnings[agentID] = slices.Clone(entries)
	}
	return s
}

// Restore replaces the ledger state with s.
func (l *Ledger) Restore(s Snapshot) {
	investments := make(map[string]map[string]float64, len(s.Investments))
	for agentID, investors := range s.Investments {
		if len(investors) > 0 {
			investments[agentID] = maps.Clone(investors)
		}
	}
	totals := maps.Clone(s.Totals)
	if totals == nil {
		totals = make(map[string]float64)
	}
	portfolios := make(map[string]map[string]struct{}, len(s.Portfolios))
	for investorID, agents := range s.Portfolios {
		set := make(map[string]struct{}, len(agents))
		for _, a := range agents {
			set[a] = struct{}{}
		}
		if len(set) > 0 {
			portfolios[investorID] = set
		}
	}
	earnings := make(map[string][]EarningsEntry, len(s.Earnings))
	for agentID, entries := range s.Earnings {
		if len(entries) > 0 {
			earnings[agentID] = slices.Clone(entries)
		}
	}

	l.mu.Lock()
	l.investments = investments
	l.totals = totals
	l.portfolios = portfolios
	l.earnings = earnings
	l.mu.Unlock()

	l.log.Info().Int("agents", len(investments)).Int("investors", len(portfolios)).Msg("ledger restored")
}
