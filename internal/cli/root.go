package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	userFlag string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Swarm: an agent marketplace with pay-per-call execution",
		Long:  "Swarm registers agents, executes them for a fee, chains them into workflows and lets users invest in the agents they use.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.swarm/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id to act as (default $USER)")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newInvestCmd())
	cmd.AddCommand(newWithdrawCmd())
	cmd.AddCommand(newPortfolioCmd())
	cmd.AddCommand(newBotCmd())
	cmd.AddCommand(newOpportunitiesCmd())
	cmd.AddCommand(newLeaderboardCmd())
	cmd.AddCommand(newWalletCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// currentUser is the identity one-shot commands act as.
func currentUser() string {
	if userFlag != "" {
		return userFlag
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// loadConfig loads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// withRuntime opens the marketplace, runs fn and saves state. Failed
// executions still update agent metrics, so state is saved either way.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fl, err := lockState(ctx, lockWait)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn().Err(err).Msg("closing runtime")
		}
	}()

	runErr := fn(ctx, rt)
	if err := rt.save(ctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("saving state: %w", err))
	}
	return runErr
}
