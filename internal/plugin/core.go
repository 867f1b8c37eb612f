package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/registry"
	"github.com/arko05roy/swarm/internal/version"
)

// Extra is an additional agent built from a catalog template.
type Extra struct {
	Template string
	Owner    string
	Manifest agent.Manifest // non-zero fields override the template
}

// Core registers one agent per catalog template under the system owner,
// then any configured extras. Agents already present, for example from a
// restored snapshot, are left alone.
type Core struct {
	extras []Extra
	added  []string
}

// NewCore creates the core plugin.
func NewCore(extras ...Extra) *Core {
	return &Core{extras: extras}
}

func (c *Core) ID() string      { return "core" }
func (c *Core) Name() string    { return "Swarm Core Agents" }
func (c *Core) Version() string { return version.Version }

// Added lists the agent ids registered by the last Init.
func (c *Core) Added() []string { return c.added }

func (c *Core) Init(_ context.Context, api API) error {
	if api.Registry == nil || api.Catalog == nil {
		return domain.Errorf(domain.CodeInvalidArgument, "core plugin needs a registry and a catalog")
	}
	c.added = nil

	for _, a := range api.Catalog.Core() {
		if err := c.register(api, a, registry.SystemOwner); err != nil {
			return err
		}
	}

	for i, x := range c.extras {
		a, err := api.Catalog.Build(x.Template, x.Manifest)
		if err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
		if err := c.register(api, a, x.Owner); err != nil {
			return err
		}
	}

	api.Log.Info().Int("registered", len(c.added)).Int("total", api.Registry.Count()).Msg("core agents loaded")
	return nil
}

func (c *Core) register(api API, a *agent.Agent, owner string) error {
	err := api.Registry.Register(a, owner)
	switch {
	case err == nil:
		c.added = append(c.added, a.ID())
		return nil
	case errors.Is(err, domain.ErrDuplicateID):
		api.Log.Debug().Str("agent", a.ID()).Msg("agent already registered, skipping")
		return nil
	default:
		return err
	}
}

func (c *Core) Close() error { return nil }
