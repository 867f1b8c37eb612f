// Package plugin loads bundles of agents into the registry and manages
// their lifecycle.
package plugin

import (
	"context"

	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/providers"
	"github.com/arko05roy/swarm/internal/registry"
)

// Plugin is the interface that all swarm plugins must implement.
type Plugin interface {
	// ID returns a unique identifier for the plugin (e.g., "core").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Version returns the plugin version string.
	Version() string

	// Init registers the plugin's agents and hooks.
	Init(ctx context.Context, api API) error

	// Close shuts down the plugin and releases resources.
	Close() error
}

// API is what a plugin may touch during Init.
type API struct {
	Hooks    *hooks.Manager
	Log      *logging.Logger
	Registry *registry.Registry
	Catalog  *providers.Catalog
}
