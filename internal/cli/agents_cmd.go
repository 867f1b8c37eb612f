package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/registry"
	"github.com/arko05roy/swarm/internal/store"
)

const recentExecutions = 5

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Browse and manage marketplace agents",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsSearchCmd())
	cmd.AddCommand(newAgentsShowCmd())
	cmd.AddCommand(newAgentsBestCmd())
	cmd.AddCommand(newAgentsToggleCmd("pause", "Stop an agent from accepting calls", (*agent.Agent).Pause))
	cmd.AddCommand(newAgentsToggleCmd("resume", "Let a paused agent accept calls again", (*agent.Agent).Resume))

	return cmd
}

func newAgentsListCmd() *cobra.Command {
	var opts registry.ListOptions
	var sortBy string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.SortBy = registry.SortKey(sortBy)
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				ls := rt.registry.List(opts)
				return emit(cmd.OutOrStdout(), ls, func(w io.Writer) { printListings(w, ls) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only agents owned by this user")
	cmd.Flags().StringVar(&opts.Capability, "capability", "", "only agents with this capability")
	cmd.Flags().BoolVar(&opts.ActiveOnly, "active", false, "hide paused agents")
	cmd.Flags().StringVar(&sortBy, "sort", "", "order by calls, earnings, reputation or newest")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of agents")

	return cmd
}

func newAgentsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search agents by name, description or capability",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				ls := rt.registry.Search(strings.Join(args, " "))
				return emit(cmd.OutOrStdout(), ls, func(w io.Writer) { printListings(w, ls) })
			})
		},
	}
}

// agentDetail is the JSON shape of agents show.
type agentDetail struct {
	Manifest   agent.Manifest          `json:"manifest"`
	Owner      string                  `json:"owner"`
	Health     agent.Health            `json:"health"`
	Errors     []agent.ErrorEntry      `json:"errors,omitempty"`
	Executions []store.LoggedExecution `json:"executions,omitempty"`
}

func newAgentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent's manifest, health and recent executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				a, err := rt.registry.Lookup(args[0])
				if err != nil {
					return err
				}
				owner, _ := rt.registry.Owner(a.ID())
				execs, err := rt.db.Executions(ctx, a.ID(), recentExecutions)
				if err != nil {
					return err
				}
				d := agentDetail{Manifest: a.Manifest(), Owner: owner, Health: a.Ping(), Errors: a.Errors(), Executions: execs}
				return emit(cmd.OutOrStdout(), d, func(w io.Writer) { printAgent(w, d) })
			})
		},
	}
}

func printAgent(w io.Writer, d agentDetail) {
	m := d.Manifest
	fmt.Fprintf(w, "%s (%s) v%s\n", m.Name, m.ID, m.Version)
	if m.Description != "" {
		fmt.Fprintf(w, "  %s\n", m.Description)
	}
	fmt.Fprintf(w, "Owner:        %s\n", d.Owner)
	fmt.Fprintf(w, "Status:       %s\n", d.Health.Status)
	fmt.Fprintf(w, "Capabilities: %s\n", strings.Join(m.Capabilities, ", "))
	fmt.Fprintf(w, "Price:        %s base + %s per call\n", money(m.Pricing.BasePrice), money(m.Pricing.PricePerCall))
	fmt.Fprintf(w, "Calls:        %s (%s success, %.0fms avg)\n",
		humanize.Comma(m.Metadata.Calls), percent(m.Metadata.SuccessRate), m.Metadata.AvgLatencyMs)
	fmt.Fprintf(w, "Earnings:     %s\n", money(m.Metadata.TotalEarnings))
	if !m.Metadata.LastCalledAt.IsZero() {
		fmt.Fprintf(w, "Last called:  %s\n", humanize.Time(m.Metadata.LastCalledAt))
	}
	for _, e := range d.Errors {
		fmt.Fprintf(w, "  error %s: %s\n", humanize.Time(e.Timestamp), e.Message)
	}
	if len(d.Executions) == 0 {
		return
	}
	fmt.Fprintln(w, "Recent executions:")
	for _, e := range d.Executions {
		status := "ok"
		if !e.Success {
			status = "failed: " + e.Error
		}
		fmt.Fprintf(w, "  %s  %-8s %4dms  %s  %s\n", e.ExecutionID, e.UserID, e.DurationMs, money(e.Cost), status)
	}
}

func newAgentsBestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best <capability>...",
		Short: "Pick the best active agent offering every capability",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				a := rt.registry.FindBestAgent(args...)
				if a == nil {
					return domain.Errorf(domain.CodeNotFound, "no active agent offers %s", strings.Join(args, ", "))
				}
				m := a.Manifest()
				return emit(cmd.OutOrStdout(), m, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s) reputation %.0f, %s per call\n",
						m.Name, m.ID, m.Metadata.Reputation, money(m.Pricing.BasePrice+m.Pricing.PricePerCall))
				})
			})
		},
	}
}

func newAgentsToggleCmd(use, short string, apply func(*agent.Agent)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				a, err := rt.registry.Lookup(args[0])
				if err != nil {
					return err
				}
				owner, _ := rt.registry.Owner(a.ID())
				if user := currentUser(); owner != registry.SystemOwner && owner != user {
					return domain.Errorf(domain.CodePermissionDenied, "agent %s is owned by %s", a.ID(), owner)
				}
				apply(a)
				state := "active"
				if !a.IsActive() {
					state = "paused"
				}
				out := map[string]any{"id": a.ID(), "active": a.IsActive()}
				return emit(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "%s is now %s\n", a.ID(), state)
				})
			})
		},
	}
}
