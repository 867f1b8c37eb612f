package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/plugin"
	"github.com/arko05roy/swarm/internal/registry"
)

const leaderboardSize = 5

type marketStats struct {
	Registry         registry.Stats     `json:"registry"`
	TotalValueLocked float64            `json:"totalValueLocked"`
	TopEarning       []registry.Listing `json:"topEarning"`
	Trending         []registry.Listing `json:"trending"`
	Plugins          []plugin.Info      `json:"plugins"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show marketplace totals and leaderboards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				st := marketStats{
					Registry:         rt.registry.Stats(),
					TotalValueLocked: rt.ledger.TotalValueLocked(),
					TopEarning:       rt.registry.TopEarning(leaderboardSize),
					Trending:         rt.registry.Trending(leaderboardSize),
					Plugins:          rt.plugins.Info(),
				}
				return emit(cmd.OutOrStdout(), st, func(w io.Writer) { printStats(w, rt.cfg.Ledger.PayoutAsset, st) })
			})
		},
	}
}

func printStats(w io.Writer, asset string, st marketStats) {
	r := st.Registry
	fmt.Fprintf(w, "Agents:       %d (%d active, %d capabilities)\n", r.TotalAgents, r.ActiveAgents, r.Capabilities)
	fmt.Fprintf(w, "Calls:        %s\n", humanize.Comma(r.TotalCalls))
	fmt.Fprintf(w, "Earnings:     %s %s\n", money(r.TotalEarnings), asset)
	fmt.Fprintf(w, "Reputation:   %.1f avg\n", r.AverageReputation)
	fmt.Fprintf(w, "Value locked: %s %s\n", money(st.TotalValueLocked), asset)
	for _, p := range st.Plugins {
		fmt.Fprintf(w, "Plugin:       %s %s (%s)\n", p.ID, p.Version, p.Name)
	}

	fmt.Fprintln(w, "\nTop earning:")
	for i, l := range st.TopEarning {
		fmt.Fprintf(w, "  %d. %-20s %s\n", i+1, l.ID, money(l.Metadata.TotalEarnings))
	}
	fmt.Fprintln(w, "\nTrending:")
	for i, l := range st.Trending {
		fmt.Fprintf(w, "  %d. %-20s %s calls\n", i+1, l.ID, humanize.Comma(l.Metadata.Calls))
	}
}
