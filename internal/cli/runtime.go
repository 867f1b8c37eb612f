package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/billing"
	"github.com/arko05roy/swarm/internal/broker"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/engine"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/ledger"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/metrics"
	"github.com/arko05roy/swarm/internal/plugin"
	"github.com/arko05roy/swarm/internal/providers"
	"github.com/arko05roy/swarm/internal/ratelimit"
	"github.com/arko05roy/swarm/internal/registry"
	"github.com/arko05roy/swarm/internal/store"
	"github.com/arko05roy/swarm/internal/wallet"
)

// Snapshot names in the store.
const (
	snapshotRegistry  = "registry"
	snapshotLedger    = "ledger"
	snapshotAddresses = "addresses"
)

const (
	providerTimeout = 15 * time.Second
	providerRetries = 2
)

// runtime is the assembled marketplace shared by every command.
type runtime struct {
	cfg config.Config
	log *logging.Logger

	db       *store.DB
	hooks    *hooks.Manager
	catalog  *providers.Catalog
	plugins  *plugin.Registry
	registry *registry.Registry
	engine   *engine.Engine
	ledger   *ledger.Ledger
	settler  *billing.Settler
	book     *wallet.AddressBook
	limiter  ratelimit.Limiter

	closers []func() error
}

func openRuntime(ctx context.Context, cfg config.Config, log *logging.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, log: log, hooks: hooks.NewManager(log)}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.db, err = store.Open(ctx, cfg.Store.Driver, paths.StoreDSN(cfg.Store), log)
	if err != nil {
		return rt, fmt.Errorf("opening store: %w", err)
	}
	rt.closers = append(rt.closers, rt.db.Close)
	if cfg.Store.ArchiveExecutions {
		rt.hooks.On(hooks.EventExecutionCompleted, "store", rt.db.ArchiveHook())
	}

	rt.catalog = providers.NewCatalog(providers.NewRetryingClient(providerTimeout, providerRetries))
	rt.registry = registry.New(log, registry.WithHooks(rt.hooks))

	var regSnap registry.Snapshot
	found, err := rt.db.LoadSnapshot(ctx, snapshotRegistry, &regSnap)
	if err != nil {
		return rt, err
	}
	if found {
		n, skipped := rt.registry.Restore(regSnap, rt.catalog.Resolve)
		if len(skipped) > 0 {
			log.Warn().Strs("agents", skipped).Msg("agents without a known template were not restored")
		}
		log.Debug().Int("agents", n).Msg("registry restored")
	}

	rt.plugins = plugin.NewRegistry(rt.registry, rt.catalog, rt.hooks, log)
	if err := rt.plugins.Register(plugin.NewCore(extras(cfg.Agents)...)); err != nil {
		return rt, err
	}
	if err := rt.plugins.InitAll(ctx); err != nil {
		return rt, fmt.Errorf("initializing plugins: %w", err)
	}
	rt.closers = append(rt.closers, func() error { rt.plugins.CloseAll(); return nil })

	if err := rt.openAddressBook(ctx); err != nil {
		return rt, err
	}

	transferer, err := rt.openWallet(ctx)
	if err != nil {
		return rt, err
	}

	ledgerOpts := []ledger.Option{ledger.WithHooks(rt.hooks)}
	settlerOpts := []billing.Option{billing.WithHooks(rt.hooks)}
	if transferer != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithTransferer(transferer, rt.book))
		settlerOpts = append(settlerOpts, billing.WithEscrow(billing.NewTransferEscrow(transferer), rt.registry, rt.book))
	}
	rt.ledger = ledger.New(rt.registry, log, ledgerOpts...)

	var ledgerSnap ledger.Snapshot
	found, err = rt.db.LoadSnapshot(ctx, snapshotLedger, &ledgerSnap)
	if err != nil {
		return rt, err
	}
	if found {
		rt.ledger.Restore(ledgerSnap)
	}

	rt.settler = billing.NewSettler(rt.ledger, log, settlerOpts...)
	rt.engine = engine.New(rt.registry, engine.Config{
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		Timeout:       time.Duration(cfg.Engine.TimeoutMs) * time.Millisecond,
		HistorySize:   cfg.Engine.HistorySize,
	}, log, engine.WithHooks(rt.hooks), engine.WithSettler(rt.settler))

	if rt.limiter, err = rt.openLimiter(ctx); err != nil {
		return rt, err
	}

	if cfg.Events.AMQPURL != "" {
		pub, err := broker.Dial(broker.Config{URL: cfg.Events.AMQPURL, Exchange: cfg.Events.Exchange}, log)
		if err != nil {
			return rt, fmt.Errorf("connecting to event broker: %w", err)
		}
		pub.Attach(rt.hooks)
		rt.closers = append(rt.closers, func() error {
			pub.Detach(rt.hooks)
			return pub.Close()
		})
	}

	return rt, nil
}

func extras(entries []config.AgentEntry) []plugin.Extra {
	out := make([]plugin.Extra, 0, len(entries))
	for _, e := range entries {
		out = append(out, plugin.Extra{
			Template: e.Template,
			Owner:    e.Owner,
			Manifest: agent.Manifest{
				ID:           e.ID,
				Name:         e.Name,
				Capabilities: e.Capabilities,
				Pricing:      agent.Pricing{BasePrice: e.BasePrice, PricePerCall: e.PricePerCall},
			},
		})
	}
	return out
}

// openAddressBook merges saved addresses with configured ones. Config wins.
func (rt *runtime) openAddressBook(ctx context.Context) error {
	saved := map[string]string{}
	if _, err := rt.db.LoadSnapshot(ctx, snapshotAddresses, &saved); err != nil {
		return err
	}
	merged := maps.Clone(saved)
	maps.Copy(merged, rt.cfg.Wallet.Addresses)

	book, err := wallet.NewAddressBook(merged)
	if err != nil {
		rt.log.Warn().Err(err).Msg("ignoring invalid payout addresses")
	}
	rt.book = book
	return nil
}

func (rt *runtime) openWallet(ctx context.Context) (wallet.Transferer, error) {
	switch rt.cfg.Wallet.Driver {
	case "memory":
		return wallet.NewMemory(), nil
	case "ethereum":
		eth, err := wallet.DialEthereum(ctx, rt.cfg.Wallet.RPCURL, rt.cfg.Wallet.PrivateKey, rt.log)
		if err != nil {
			return nil, fmt.Errorf("connecting wallet: %w", err)
		}
		rt.closers = append(rt.closers, func() error { eth.Close(); return nil })
		return eth, nil
	default:
		return nil, nil
	}
}

func (rt *runtime) openLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if rt.cfg.RateLimit.Driver != "redis" {
		return ratelimit.NewMemory(), nil
	}
	r, err := ratelimit.NewRedis(ctx, ratelimit.RedisConfig{
		Addr:     rt.cfg.RateLimit.Addr,
		Password: rt.cfg.RateLimit.Password,
		DB:       rt.cfg.RateLimit.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting rate limiter: %w", err)
	}
	rt.closers = append(rt.closers, r.Close)
	return r, nil
}

func (rt *runtime) sources() []store.Source {
	return []store.Source{
		{Name: snapshotRegistry, Capture: func() any { return rt.registry.Snapshot() }},
		{Name: snapshotLedger, Capture: func() any { return rt.ledger.Snapshot() }},
		{Name: snapshotAddresses, Capture: func() any { return rt.book.All() }},
	}
}

// metrics builds the Prometheus collectors for a long-running server and
// subscribes them to the hook bus.
func (rt *runtime) metrics() *metrics.Metrics {
	m := metrics.New()
	m.Attach(rt.hooks)
	m.GaugeFunc("agents", "Registered agents.", func() float64 {
		return float64(rt.registry.Count())
	})
	m.GaugeFunc("executions_in_flight", "Executions currently running.", func() float64 {
		return float64(rt.engine.InFlight())
	})
	m.GaugeFunc("total_value_locked", "Principal invested across all agents.", rt.ledger.TotalValueLocked)
	return m
}

// save persists the registry, ledger and address book.
func (rt *runtime) save(ctx context.Context) error {
	return rt.db.SaveAll(ctx, rt.sources()...)
}

// limit applies the configured hourly cap for action to user.
func (rt *runtime) limit(ctx context.Context, user, action string) error {
	return ratelimit.Check(ctx, rt.limiter, user, action, rt.cfg.RateLimit.Limits[action])
}

// Close releases everything in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
