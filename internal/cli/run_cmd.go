package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/engine"
)

func newRunCmd() *cobra.Command {
	var (
		input   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <agent>",
		Short: "Execute an agent and pay for the call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInput(input)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				caller := rt.caller()
				if err := rt.limit(ctx, caller.UserID, config.ActionRun); err != nil {
					return err
				}
				res := rt.engine.Execute(ctx, args[0], in, caller, engine.Options{Timeout: timeout})
				if err := emit(cmd.OutOrStdout(), res, func(w io.Writer) { printResult(w, res) }); err != nil {
					return err
				}
				return res.Err()
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON object passed to the agent")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the engine timeout")

	return cmd
}

// caller identifies the CLI user, with their payout address when known.
func (rt *runtime) caller() agent.Caller {
	user := currentUser()
	addr, _ := rt.book.Address(user)
	return agent.Caller{UserID: user, Wallet: addr, Source: "cli"}
}

// parseInput decodes a JSON object flag. Empty means no input.
func parseInput(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var in map[string]any
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return nil, domain.Wrap(domain.CodeInvalidArgument, err, "input must be a JSON object")
	}
	if in == nil {
		in = map[string]any{}
	}
	return in, nil
}

func printResult(w io.Writer, res agent.Result) {
	if !res.Success {
		fmt.Fprintf(w, "%s failed [%s]: %s\n", res.AgentID, res.Code, res.Error)
		return
	}
	data, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		data = fmt.Appendf(nil, "%v", res.Data)
	}
	fmt.Fprintln(w, string(data))
	if res.Cost > 0 {
		fmt.Fprintf(w, "cost: %s (execution %s)\n", money(res.Cost), res.ExecutionID)
	}
}
