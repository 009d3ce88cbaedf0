// Package daemon composes the engine and its collaborators into an fx
// application with explicit lifecycle.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/config"
	"chatsync/internal/delivery"
	"chatsync/internal/engine"
	"chatsync/internal/gateway"
	"chatsync/internal/lock"
	"chatsync/internal/logging"
	"chatsync/internal/netmon"
	"chatsync/internal/store"
	"chatsync/internal/summary"
	intsync "chatsync/internal/sync"
	"chatsync/internal/transport"
	"chatsync/internal/transport/memstore"
	"chatsync/internal/transport/rtdbws"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ConfigPath string
	DBPath     string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMonitor,
			provideLock,
			provideStore,
			provideTransport,
			provideReconciler,
			provideCoordinator,
			provideTracker,
			provideEngine,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// First run: no config yet, start with defaults.
		cfg = &config.Config{}
		cfg.Defaults()
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(config.LogPath(), cfg.UserID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMonitor(b *bus.Bus) *netmon.Monitor {
	return netmon.NewMonitor(b)
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("dir", config.BaseDir()))
	l, err := lock.Acquire(config.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.DBPath
	if dbPath == "" {
		dbPath = config.DBPath()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(cfg *config.Config, mon *netmon.Monitor, logger *zap.Logger) transport.Transport {
	if cfg.TransportURL == "" {
		logger.Warn("no transport_url configured, using in-process store")
		return memstore.New()
	}
	c := rtdbws.Dial(context.Background(), cfg.TransportURL, logger)
	c.SetStateHandler(func(connected bool) {
		_ = mon.Set(connected)
	})
	return c
}

func provideReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, b, logger)
}

func provideCoordinator(db *store.DB, rec *intsync.Reconciler, t transport.Transport, mon *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *delivery.Coordinator {
	return delivery.NewCoordinator(db, rec, t, mon, b, logger)
}

func provideTracker(db *store.DB, rec *intsync.Reconciler, t transport.Transport, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *summary.Tracker {
	return summary.NewTracker(db, rec, t, b, logger, cfg.UserID)
}

func provideEngine(t transport.Transport, mon *netmon.Monitor, b *bus.Bus, rec *intsync.Reconciler,
	coord *delivery.Coordinator, tracker *summary.Tracker, cfg *config.Config, logger *zap.Logger) *engine.Engine {
	e := engine.New(t, mon, b, rec, coord, tracker, logger)
	e.SetPollInterval(cfg.PollInterval())
	return e
}

func provideServer(cfg *config.Config, e *engine.Engine, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	return gateway.NewServer(cfg.GatewayAddr, e, b, logger)
}

// probeFor resolves the startup connectivity probe for the configured
// transport.
func probeFor(t transport.Transport) func() bool {
	switch c := t.(type) {
	case *rtdbws.Client:
		return c.Connected
	case *memstore.Store:
		return c.Online
	default:
		return func() bool { return true }
	}
}

func registerLifecycle(lc fx.Lifecycle, srv *gateway.Server, lk *lock.Lock, e *engine.Engine,
	t transport.Transport, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			e.Start(context.Background(), probeFor(t))

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gateway server error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			e.Stop()
			if c, ok := t.(*rtdbws.Client); ok {
				_ = c.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
