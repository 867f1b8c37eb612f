package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arko05roy/swarm/internal/channel"
	"github.com/arko05roy/swarm/internal/channel/irc"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/gateway"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/routing"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the gateway server and chat channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			if logLevel == "" {
				l, closer := serverLogger(cfg.Logging)
				defer closer.Close()
				log = l
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}
			fl, err := lockState(context.Background(), 0)
			if err != nil {
				return err
			}
			defer fl.Unlock()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					log.Warn().Err(err).Msg("closing runtime")
				}
			}()

			channels := channel.NewRegistry(log)
			if cfg.Channels.IRC != nil {
				if err := channels.Register(irc.New(*cfg.Channels.IRC, log)); err != nil {
					return err
				}
			}

			m := rt.metrics()
			defer m.Detach(rt.hooks)

			srv := gateway.New(cfg, rt.registry, rt.engine, log,
				gateway.WithLedger(rt.ledger),
				gateway.WithRateLimits(rt.limiter, cfg.RateLimit.Limits),
				gateway.WithChannels(channels),
				gateway.WithHooks(rt.hooks),
				gateway.WithMetrics(m),
			)

			if channels.Count() > 0 {
				router := routing.NewRouter(rt.registry, rt.engine, rt.ledger, log,
					routing.WithRateLimits(rt.limiter, cfg.RateLimit.Limits),
					routing.WithAddressBook(rt.book),
					routing.WithAsset(cfg.Ledger.PayoutAsset),
				)
				router.Wire(ctx, channels)
				channels.StartAll(ctx)
				defer channels.StopAll(context.Background())
				log.Info().Int("channels", channels.Count()).Strs("commands", router.Commands()).Msg("chat routing active")
			}

			// Autosave returns after its final save once ctx is done.
			saved := make(chan struct{})
			go func() {
				defer close(saved)
				rt.db.Autosave(ctx, time.Duration(cfg.Store.AutosaveSeconds)*time.Second, rt.sources()...)
			}()

			err = srv.Start(ctx)
			stop()
			<-saved
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// serverLogger builds the long-running logger from config, teeing JSON
// lines into a file under the logs directory when one is configured.
func serverLogger(cfg config.LoggingConfig) (*logging.Logger, io.Closer) {
	if cfg.File == "" {
		return logging.NewStyled(cfg.ConsoleStyle, cfg.Level), io.NopCloser(nil)
	}
	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(paths.Logs, path)
	}
	l, f := logging.NewFile(cfg.ConsoleStyle, cfg.Level, path, logging.Rotation{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
	return l, f
}
