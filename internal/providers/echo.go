package providers

import (
	"context"
	"maps"

	"github.com/arko05roy/swarm/internal/agent"
)

// Echo returns its input along with the caller. Used to check wiring.
type Echo struct{}

// Execute implements agent.Provider.
func (Echo) Execute(_ context.Context, input map[string]any, caller agent.Caller) (any, error) {
	return map[string]any{
		"input":  maps.Clone(input),
		"caller": caller,
	}, nil
}
