package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/providers"
	"github.com/arko05roy/swarm/internal/registry"
)

// Info summarises a plugin for status output.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Initialized bool   `json:"initialized"`
}

// Registry runs plugins in registration order and closes them in reverse.
type Registry struct {
	mu      sync.Mutex
	plugins []Plugin
	live    int // plugins[:live] have been initialized
	api     API
	log     *logging.Logger
}

// NewRegistry creates a registry whose plugins register agents into agents,
// building them from catalog.
func NewRegistry(agents *registry.Registry, catalog *providers.Catalog, hm *hooks.Manager, log *logging.Logger) *Registry {
	log = log.Sub("plugins")
	return &Registry{
		api: API{Hooks: hm, Log: log, Registry: agents, Catalog: catalog},
		log: log,
	}
}

// Register queues p for InitAll.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.plugins {
		if q.ID() == p.ID() {
			return domain.Errorf(domain.CodeDuplicateID, "plugin already registered: %s", p.ID())
		}
	}
	r.plugins = append(r.plugins, p)
	r.log.Debug().Str("id", p.ID()).Str("version", p.Version()).Msg("plugin registered")
	return nil
}

// InitAll initializes every plugin not yet initialized. If one fails, the
// plugins this call initialized are closed again before returning.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.live
	for r.live < len(r.plugins) {
		p := r.plugins[r.live]
		api := r.api
		api.Log = r.log.Sub(p.ID())
		if err := p.Init(ctx, api); err != nil {
			r.closeRange(start, r.live)
			r.live = start
			return fmt.Errorf("init plugin %s: %w", p.ID(), err)
		}
		r.log.Info().Str("id", p.ID()).Str("name", p.Name()).Msg("plugin initialized")
		r.live++
	}
	return nil
}

// CloseAll closes initialized plugins, newest first.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeRange(0, r.live)
	r.live = 0
}

func (r *Registry) closeRange(from, to int) {
	for i := to - 1; i >= from; i-- {
		p := r.plugins[i]
		if err := p.Close(); err != nil {
			r.log.Error().Err(err).Str("id", p.ID()).Msg("plugin close error")
		}
	}
}

// Info lists registered plugins in registration order.
func (r *Registry) Info() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, len(r.plugins))
	for i, p := range r.plugins {
		out[i] = Info{ID: p.ID(), Name: p.Name(), Version: p.Version(), Initialized: i < r.live}
	}
	return out
}
