package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/ledger"
)

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, domain.Errorf(domain.CodeInvalidAmount, "%q is not a number", s)
	}
	return v, nil
}

func newInvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invest <agent> <amount>",
		Short: "Buy a share of an agent's future earnings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				user := currentUser()
				if err := rt.limit(ctx, user, config.ActionInvest); err != nil {
					return err
				}
				inv, err := rt.ledger.Invest(ctx, user, args[0], amount)
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), inv, func(w io.Writer) {
					fmt.Fprintf(w, "Invested %s %s in %s. You own %s of %s %s invested.\n",
						money(inv.Amount), rt.cfg.Ledger.PayoutAsset, inv.AgentName,
						percent(inv.Ownership), money(inv.TotalInvested), rt.cfg.Ledger.PayoutAsset)
				})
			})
		},
	}
}

func newWithdrawCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "withdraw <agent> [amount]",
		Short: "Withdraw earnings first, then principal, from a position",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount float64
			switch {
			case all && len(args) == 2:
				return fmt.Errorf("pass an amount or --all, not both")
			case !all && len(args) == 1:
				return fmt.Errorf("amount is required unless --all is set")
			case !all:
				var err error
				if amount, err = parseAmount(args[1]); err != nil {
					return err
				}
			}

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				user := currentUser()
				if err := rt.limit(ctx, user, config.ActionWithdraw); err != nil {
					return err
				}
				var (
					wd  ledger.Withdrawal
					err error
				)
				if all {
					wd, err = rt.ledger.WithdrawAll(ctx, user, args[0])
				} else {
					wd, err = rt.ledger.Withdraw(ctx, user, args[0], amount)
				}
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), wd, func(w io.Writer) { printWithdrawal(w, rt.cfg.Ledger.PayoutAsset, wd) })
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "close the whole position")

	return cmd
}

func printWithdrawal(w io.Writer, asset string, wd ledger.Withdrawal) {
	fmt.Fprintf(w, "Withdrew %s %s from %s (%s earnings, %s principal).\n",
		money(wd.TotalWithdrawn), asset, wd.AgentID, money(wd.EarningsWithdrawn), money(wd.PrincipalWithdrawn))
	if wd.TxID != "" {
		fmt.Fprintf(w, "Transaction: %s\n", wd.TxID)
	}
	if wd.Closed {
		fmt.Fprintln(w, "Position closed.")
		return
	}
	fmt.Fprintf(w, "Remaining: %s %s (%s ownership)\n", money(wd.RemainingInvestment), asset, percent(wd.RemainingOwnership))
}

func newPortfolioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show your investment positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				ps := rt.ledger.InvestorPortfolio(currentUser())
				return emit(cmd.OutOrStdout(), ps, func(w io.Writer) {
					if len(ps) == 0 {
						fmt.Fprintln(w, "no positions")
						return
					}
					t := newTable(w, "AGENT", "INVESTED", "EARNED", "VALUE", "ROI", "OWNERSHIP", "PER CALL")
					for _, p := range ps {
						t.Append([]string{p.AgentID, money(p.Invested), money(p.Earned), money(p.CurrentValue),
							percent(p.ROI), percent(p.Ownership), money(p.AvgEarningPerCall)})
					}
					t.Render()
				})
			})
		},
	}
}

func newBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot <agent>",
		Short: "Show investment statistics for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				bs, err := rt.ledger.BotStats(args[0])
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), bs, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s)\n", bs.AgentName, bs.AgentID)
					fmt.Fprintf(w, "Investors:     %d\n", bs.InvestorCount)
					fmt.Fprintf(w, "Invested:      %s\n", money(bs.TotalInvested))
					fmt.Fprintf(w, "Earnings:      %s over %d calls (%s per call)\n",
						money(bs.TotalEarnings), bs.Calls, money(bs.AvgEarningPerCall))
					fmt.Fprintf(w, "Projected APY: %s\n", percent(bs.ProjectedAPY))
					for _, s := range bs.TopInvestors {
						fmt.Fprintf(w, "  %-16s %s (%s)\n", s.InvestorID, money(s.Invested), percent(s.Ownership))
					}
				})
			})
		},
	}
}

func newOpportunitiesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "opportunities",
		Short: "Rank agents by projected return",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				ops := rt.ledger.TopOpportunities(limit)
				return emit(cmd.OutOrStdout(), ops, func(w io.Writer) {
					if len(ops) == 0 {
						fmt.Fprintln(w, "no opportunities")
						return
					}
					t := newTable(w, "AGENT", "INVESTED", "EARNINGS", "CALLS", "ROI", "APY", "INVESTORS")
					for _, o := range ops {
						t.Append([]string{o.AgentID, money(o.TotalInvested), money(o.TotalEarnings),
							strconv.FormatInt(o.Calls, 10), percent(o.ROI), percent(o.ProjectedAPY), strconv.Itoa(o.InvestorCount)})
					}
					t.Render()
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of agents")

	return cmd
}

func newLeaderboardCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank investors by total position value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				out := struct {
					Investors        []ledger.LeaderboardEntry `json:"investors"`
					TotalValueLocked float64                   `json:"totalValueLocked"`
				}{rt.ledger.Leaderboard(limit), rt.ledger.TotalValueLocked()}

				return emit(cmd.OutOrStdout(), out, func(w io.Writer) {
					t := newTable(w, "#", "INVESTOR", "INVESTED", "EARNED", "VALUE", "POSITIONS")
					for i, e := range out.Investors {
						t.Append([]string{strconv.Itoa(i + 1), e.InvestorID, money(e.Invested), money(e.Earned),
							money(e.TotalValue), strconv.Itoa(e.Positions)})
					}
					t.Render()
					fmt.Fprintf(w, "Total value locked: %s %s\n", money(out.TotalValueLocked), rt.cfg.Ledger.PayoutAsset)
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of investors")

	return cmd
}

func newWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet [address]",
		Short: "Show or set your payout address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				user := currentUser()
				if len(args) == 1 {
					if err := rt.book.SetAddress(user, args[0]); err != nil {
						return err
					}
				}
				addr, ok := rt.book.Address(user)
				out := map[string]string{"user": user, "address": addr}
				return emit(cmd.OutOrStdout(), out, func(w io.Writer) {
					if !ok {
						fmt.Fprintln(w, "no payout address set")
						return
					}
					fmt.Fprintf(w, "%s pays out to %s\n", user, addr)
				})
			})
		},
	}
}
