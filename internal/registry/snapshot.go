package registry

import (
	"github.com/arko05roy/swarm/internal/agent"
)

// EntrySnapshot is the persisted form of one registration.
type EntrySnapshot struct {
	Owner string         `json:"owner"`
	Agent agent.Snapshot `json:"agent"`
}

// Snapshot is the persisted form of the whole registry.
type Snapshot struct {
	Agents []EntrySnapshot `json:"agents"`
}

// ProviderResolver returns the live provider for a persisted agent, or nil
// when the agent can no longer be served.
type ProviderResolver func(s agent.Snapshot) agent.Provider

// Snapshot captures every registration in registration order.
func (r *Registry) Snapshot() Snapshot {
	entries := r.entries()
	snap := Snapshot{Agents: make([]EntrySnapshot, 0, len(entries))}
	for _, e := range entries {
		snap.Agents = append(snap.Agents, EntrySnapshot{Owner: e.owner, Agent: e.agent.Snapshot()})
	}
	return snap
}

// Restore re-registers persisted agents without emitting events. Agents
// already registered keep their live state and are skipped, as are agents
// the resolver has no provider for. It returns the restored count and the
// skipped ids.
func (r *Registry) Restore(snap Snapshot, resolve ProviderResolver) (int, []string) {
	var skipped []string
	restored := 0
	for _, es := range snap.Agents {
		id := es.Agent.Manifest.ID
		p := resolve(es.Agent)
		if p == nil || r.Has(id) {
			skipped = append(skipped, id)
			continue
		}
		owner := es.Owner
		if owner == "" {
			owner = SystemOwner
		}
		if err := r.add(agent.FromSnapshot(es.Agent, p), owner); err != nil {
			skipped = append(skipped, id)
			continue
		}
		restored++
	}
	r.log.Info().Int("restored", restored).Int("skipped", len(skipped)).Msg("registry restored")
	return restored, skipped
}
