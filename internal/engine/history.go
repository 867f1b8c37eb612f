package engine

import "time"

// Stats aggregates the capped history.
type Stats struct {
	TotalExecutions   int           `json:"totalExecutions"`
	Successful        int           `json:"successful"`
	Failed            int           `json:"failed"`
	SuccessRate       float64       `json:"successRate"`
	AvgDuration       time.Duration `json:"avgDuration"`
	TotalCost         float64       `json:"totalCost"`
	CurrentExecutions int           `json:"currentExecutions"`
}

// AgentStats aggregates the capped history of one agent.
type AgentStats struct {
	AgentID         string        `json:"agentId"`
	TotalExecutions int           `json:"totalExecutions"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	SuccessRate     float64       `json:"successRate"`
	AvgDuration     time.Duration `json:"avgDuration"`
}

// Health describes current utilisation.
type Health struct {
	Status             string  `json:"status"` // "healthy" | "busy"
	CurrentExecutions  int     `json:"currentExecutions"`
	MaxConcurrent      int     `json:"maxConcurrentExecutions"`
	UtilizationPercent float64 `json:"utilizationPercent"`
	HistorySize        int     `json:"historySize"`
	Stats              Stats   `json:"stats"`
}

// HistoryFilter selects records. A nil Success matches both outcomes.
type HistoryFilter struct {
	AgentID string `json:"agentId,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// History returns matching records, newest first.
func (e *Engine) History(f HistoryFilter) []Record {
	items := e.history.Items()
	out := make([]Record, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		r := items[i]
		if f.AgentID != "" && r.AgentID != f.AgentID {
			continue
		}
		if f.Success != nil && r.Success != *f.Success {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Stats derives totals from the history only.
func (e *Engine) Stats() Stats {
	records := e.history.Items()
	s := Stats{TotalExecutions: len(records), CurrentExecutions: e.InFlight()}
	var total time.Duration
	for _, r := range records {
		if r.Success {
			s.Successful++
		}
		total += r.Duration
		s.TotalCost += r.Cost
	}
	s.Failed = s.TotalExecutions - s.Successful
	if s.TotalExecutions > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalExecutions) * 100
		s.AvgDuration = total / time.Duration(s.TotalExecutions)
	}
	return s
}

// AgentStats derives per-agent totals from the history only.
func (e *Engine) AgentStats(agentID string) AgentStats {
	s := AgentStats{AgentID: agentID}
	var total time.Duration
	for _, r := range e.history.Items() {
		if r.AgentID != agentID {
			continue
		}
		s.TotalExecutions++
		if r.Success {
			s.Successful++
		}
		total += r.Duration
	}
	s.Failed = s.TotalExecutions - s.Successful
	if s.TotalExecutions > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalExecutions) * 100
		s.AvgDuration = total / time.Duration(s.TotalExecutions)
	}
	return s
}

// Health reports utilisation against the ceiling.
func (e *Engine) Health() Health {
	stats := e.Stats()
	h := Health{
		Status:             "healthy",
		CurrentExecutions:  stats.CurrentExecutions,
		MaxConcurrent:      e.cfg.MaxConcurrent,
		UtilizationPercent: float64(stats.CurrentExecutions) / float64(e.cfg.MaxConcurrent) * 100,
		HistorySize:        stats.TotalExecutions,
		Stats:              stats,
	}
	if h.CurrentExecutions >= h.MaxConcurrent {
		h.Status = "busy"
	}
	return h
}

// ClearHistory drops every record.
func (e *Engine) ClearHistory() {
	e.history.Reset()
	e.log.Info().Msg("execution history cleared")
}
