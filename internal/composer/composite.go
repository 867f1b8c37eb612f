package composer

import (
	"context"
	"strings"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
)

// AsAgent wraps the workflow as a single agent. Its capabilities are the
// union of the step agents' capabilities and its per-call price is the
// workflow's estimated cost at the time of wrapping.
func (c *Composer) AsAgent(id, author string) *agent.Agent {
	summary := c.Summary()

	var caps []string
	seen := map[string]bool{}
	for _, name := range summary.Agents {
		a, err := c.resolver.Lookup(name)
		if err != nil {
			continue
		}
		for _, capability := range a.Manifest().Capabilities {
			if !seen[capability] {
				seen[capability] = true
				caps = append(caps, capability)
			}
		}
	}

	m := agent.Manifest{
		ID:           id,
		Name:         summary.Name,
		Description:  "Composite workflow: " + strings.Join(summary.Agents, " -> "),
		Author:       author,
		Capabilities: caps,
		Pricing:      agent.Pricing{PricePerCall: summary.EstimatedCost},
	}

	return agent.New(m, agent.ProviderFunc(func(ctx context.Context, input map[string]any, caller agent.Caller) (any, error) {
		res := c.Execute(ctx, input, caller)
		if !res.Success {
			return nil, domain.Errorf(domain.CodeExecutionFailed, "%s", res.Error)
		}
		return res.Final, nil
	}))
}
