package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show swarm status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Swarm %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(w, "Config:  %s\n", paths.Config)
			fmt.Fprintf(w, "Data:    %s\n", paths.Data)
			fmt.Fprintf(w, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(w)

			if _, err := os.Stat(paths.Config); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(w, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(w, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(w, "Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			storeTarget := paths.StoreDSN(cfg.Store)
			if cfg.Store.Driver == "mysql" {
				storeTarget = "(dsn)"
			}
			fmt.Fprintf(w, "Store:   %s %s autosave=%ds archive=%v\n",
				cfg.Store.Driver, storeTarget, cfg.Store.AutosaveSeconds, cfg.Store.ArchiveExecutions)

			fmt.Fprintf(w, "Engine:  maxConcurrent=%d timeout=%dms history=%d\n",
				cfg.Engine.MaxConcurrent, cfg.Engine.TimeoutMs, cfg.Engine.HistorySize)
			fmt.Fprintf(w, "Wallet:  %s asset=%s addresses=%d\n",
				cfg.Wallet.Driver, cfg.Ledger.PayoutAsset, len(cfg.Wallet.Addresses))
			fmt.Fprintf(w, "Limits:  %s run=%d invest=%d withdraw=%d per hour\n", cfg.RateLimit.Driver,
				cfg.RateLimit.Limits[config.ActionRun], cfg.RateLimit.Limits[config.ActionInvest], cfg.RateLimit.Limits[config.ActionWithdraw])

			if cfg.Events.AMQPURL != "" {
				fmt.Fprintf(w, "Events:  amqp exchange=%s\n", cfg.Events.Exchange)
			} else {
				fmt.Fprintln(w, "Events:  (not forwarded)")
			}

			for _, a := range cfg.Agents {
				fmt.Fprintf(w, "Agent:   template=%s id=%s owner=%s\n", a.Template, a.ID, a.Owner)
			}

			if cfg.Channels.IRC != nil {
				irc := cfg.Channels.IRC
				fmt.Fprintf(w, "IRC:     server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(w, "IRC:     (not configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(w, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(w, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
