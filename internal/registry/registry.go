// Package registry is the agent marketplace: it owns registered agents and
// keeps capability and owner indexes for discovery.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
)

// SystemOwner owns the built-in agents.
const SystemOwner = "system"

// defaultLeaderboardSize is used by the leaderboard queries when limit <= 0.
const defaultLeaderboardSize = 10

// SortKey orders List results.
type SortKey string

const (
	SortByCalls      SortKey = "calls"
	SortByEarnings   SortKey = "earnings"
	SortByReputation SortKey = "reputation"
	SortByNewest     SortKey = "newest"
)

// ListOptions filters and orders List. Filters apply before sorting and the
// limit applies last.
type ListOptions struct {
	Owner      string  `json:"owner,omitempty"`
	Capability string  `json:"capability,omitempty"`
	ActiveOnly bool    `json:"activeOnly,omitempty"`
	SortBy     SortKey `json:"sortBy,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// Listing is a manifest together with its owner and active state.
type Listing struct {
	agent.Manifest
	Owner  string `json:"owner"`
	Active bool   `json:"active"`
}

// Stats summarises the marketplace.
type Stats struct {
	TotalAgents       int     `json:"totalAgents"`
	ActiveAgents      int     `json:"activeAgents"`
	TotalCalls        int64   `json:"totalCalls"`
	TotalEarnings     float64 `json:"totalEarnings"`
	Capabilities      int     `json:"capabilities"`
	AverageReputation float64 `json:"averageReputation"`
}

type entry struct {
	agent *agent.Agent
	owner string
}

// Registry holds agents keyed by id.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*entry
	order        []string
	capabilities map[string]map[string]struct{}
	owners       map[string]map[string]struct{}
	hooks        *hooks.Manager
	log          *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithHooks publishes register/unregister events on hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(r *Registry) { r.hooks = hm }
}

// New creates an empty registry.
func New(log *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		agents:       make(map[string]*entry),
		capabilities: make(map[string]map[string]struct{}),
		owners:       make(map[string]map[string]struct{}),
		log:          log.Sub("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent under owner. Duplicate ids are rejected.
func (r *Registry) Register(a *agent.Agent, owner string) error {
	if a == nil {
		return domain.Errorf(domain.CodeInvalidArgument, "agent is required")
	}
	if owner == "" {
		owner = SystemOwner
	}
	m := a.Manifest()
	if err := r.add(a, owner); err != nil {
		return err
	}

	r.log.Info().Str("agent", m.ID).Str("name", m.Name).Str("owner", owner).Msg("agent registered")
	r.hooks.Emit(context.Background(), hooks.EventAgentRegistered, map[string]any{
		"agentId":      m.ID,
		"name":         m.Name,
		"owner":        owner,
		"capabilities": m.Capabilities,
	})
	return nil
}

func (r *Registry) add(a *agent.Agent, owner string) error {
	m := a.Manifest()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[m.ID]; exists {
		return domain.Errorf(domain.CodeDuplicateID, "agent %s already registered", m.ID)
	}
	r.agents[m.ID] = &entry{agent: a, owner: owner}
	r.order = append(r.order, m.ID)
	for _, c := range m.Capabilities {
		addToIndex(r.capabilities, c, m.ID)
	}
	addToIndex(r.owners, owner, m.ID)
	return nil
}

// Unregister removes an agent and prunes emptied index buckets. It reports
// whether the agent existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for _, c := range e.agent.Manifest().Capabilities {
		removeFromIndex(r.capabilities, c, id)
	}
	removeFromIndex(r.owners, e.owner, id)
	r.mu.Unlock()

	r.log.Info().Str("agent", id).Msg("agent unregistered")
	r.hooks.Emit(context.Background(), hooks.EventAgentUnregistered, map[string]any{
		"agentId": id,
		"owner":   e.owner,
	})
	return true
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Lookup is Get with a coded NotFound error.
func (r *Registry) Lookup(id string) (*agent.Agent, error) {
	a, ok := r.Get(id)
	if !ok {
		return nil, domain.Errorf(domain.CodeNotFound, "agent %s not found", id)
	}
	return a, nil
}

// Has reports whether an agent with id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Owner returns the owner an agent was registered under.
func (r *Registry) Owner(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return "", false
	}
	return e.owner, true
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Capabilities returns every indexed capability, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]string, 0, len(r.capabilities))
	for c := range r.capabilities {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// entries returns registered entries in registration order.
func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

func listingOf(e *entry) Listing {
	return Listing{Manifest: e.agent.Manifest(), Owner: e.owner, Active: e.agent.IsActive()}
}

// List returns listings matching opts. Ties keep registration order.
func (r *Registry) List(opts ListOptions) []Listing {
	var out []Listing
	for _, e := range r.entries() {
		l := listingOf(e)
		if opts.Owner != "" && l.Owner != opts.Owner {
			continue
		}
		if opts.Capability != "" && !l.HasCapability(opts.Capability) {
			continue
		}
		if opts.ActiveOnly && !l.Active {
			continue
		}
		out = append(out, l)
	}

	if less := lessFor(opts.SortBy); less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func lessFor(key SortKey) func(a, b Listing) bool {
	switch key {
	case SortByCalls:
		return func(a, b Listing) bool { return a.Metadata.Calls > b.Metadata.Calls }
	case SortByEarnings:
		return func(a, b Listing) bool { return a.Metadata.TotalEarnings > b.Metadata.TotalEarnings }
	case SortByReputation:
		return func(a, b Listing) bool { return a.Metadata.Reputation > b.Metadata.Reputation }
	case SortByNewest:
		return func(a, b Listing) bool { return a.Metadata.CreatedAt.After(b.Metadata.CreatedAt) }
	}
	return nil
}

// Search does a case-insensitive substring match over name, description and
// capabilities.
func (r *Registry) Search(query string) []Listing {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Listing
	for _, e := range r.entries() {
		l := listingOf(e)
		haystack := strings.ToLower(l.Name + " " + l.Description + " " + strings.Join(l.Capabilities, " "))
		if strings.Contains(haystack, q) {
			out = append(out, l)
		}
	}
	return out
}

// FindByCapability returns active agents declaring capability c.
func (r *Registry) FindByCapability(c string) []Listing {
	r.mu.RLock()
	ids := r.capabilities[c]
	var matched []*entry
	for _, id := range r.order {
		if _, ok := ids[id]; ok {
			matched = append(matched, r.agents[id])
		}
	}
	r.mu.RUnlock()

	var out []Listing
	for _, e := range matched {
		if e.agent.IsActive() {
			out = append(out, listingOf(e))
		}
	}
	return out
}

// FindBestAgent returns the active agent that declares every capability in
// caps with the highest reputation*successRate score, or nil.
func (r *Registry) FindBestAgent(caps ...string) *agent.Agent {
	if len(caps) == 0 {
		return nil
	}

	r.mu.RLock()
	var candidates []*entry
	for _, id := range r.order {
		all := true
		for _, c := range caps {
			if _, ok := r.capabilities[c][id]; !ok {
				all = false
				break
			}
		}
		if all {
			candidates = append(candidates, r.agents[id])
		}
	}
	r.mu.RUnlock()

	var best *agent.Agent
	bestScore := -1.0
	for _, e := range candidates {
		if !e.agent.IsActive() {
			continue
		}
		md := e.agent.Manifest().Metadata
		if score := md.Reputation * md.SuccessRate; score > bestScore {
			best, bestScore = e.agent, score
		}
	}
	return best
}

// Stats aggregates counts and metrics across all agents.
func (r *Registry) Stats() Stats {
	entries := r.entries()
	s := Stats{TotalAgents: len(entries), Capabilities: len(r.Capabilities())}
	var repSum float64
	for _, e := range entries {
		md := e.agent.Manifest().Metadata
		if e.agent.IsActive() {
			s.ActiveAgents++
		}
		s.TotalCalls += md.Calls
		s.TotalEarnings += md.TotalEarnings
		repSum += md.Reputation
	}
	if len(entries) > 0 {
		s.AverageReputation = repSum / float64(len(entries))
	}
	return s
}

func leaderboardLimit(limit int) int {
	if limit <= 0 {
		return defaultLeaderboardSize
	}
	return limit
}

// Trending returns the most called active agents.
func (r *Registry) Trending(limit int) []Listing {
	return r.List(ListOptions{ActiveOnly: true, SortBy: SortByCalls, Limit: leaderboardLimit(limit)})
}

// TopRated returns the highest reputation active agents.
func (r *Registry) TopRated(limit int) []Listing {
	return r.List(ListOptions{ActiveOnly: true, SortBy: SortByReputation, Limit: leaderboardLimit(limit)})
}

// TopEarning returns the highest earning active agents.
func (r *Registry) TopEarning(limit int) []Listing {
	return r.List(ListOptions{ActiveOnly: true, SortBy: SortByEarnings, Limit: leaderboardLimit(limit)})
}

// Newest returns the most recently created active agents.
func (r *Registry) Newest(limit int) []Listing {
	return r.List(ListOptions{ActiveOnly: true, SortBy: SortByNewest, Limit: leaderboardLimit(limit)})
}

// UserAgents returns every agent owned by owner, in registration order.
func (r *Registry) UserAgents(owner string) []Listing {
	r.mu.RLock()
	ids := r.owners[owner]
	var matched []*entry
	for _, id := range r.order {
		if _, ok := ids[id]; ok {
			matched = append(matched, r.agents[id])
		}
	}
	r.mu.RUnlock()

	out := make([]Listing, 0, len(matched))
	for _, e := range matched {
		out = append(out, listingOf(e))
	}
	return out
}

// Clear removes every agent and index entry. No events are emitted.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*entry)
	r.order = nil
	r.capabilities = make(map[string]map[string]struct{})
	r.owners = make(map[string]map[string]struct{})
	r.log.Info().Msg("registry cleared")
}

func addToIndex(idx map[string]map[string]struct{}, key, id string) {
	bucket, ok := idx[key]
	if !ok {
		bucket = make(map[string]struct{})
		idx[key] = bucket
	}
	bucket[id] = struct{}{}
}

func removeFromIndex(idx map[string]map[string]struct{}, key, id string) {
	bucket, ok := idx[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(idx, key)
	}
}
