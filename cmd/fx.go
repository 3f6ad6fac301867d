package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	stdhttp "net/http"
	"time"

	"go.uber.org/fx"

	"github.com/cytoscape/jupyter-bridge/config"
	"github.com/cytoscape/jupyter-bridge/internal/bridge"
	"github.com/cytoscape/jupyter-bridge/internal/bridge/memstore"
	"github.com/cytoscape/jupyter-bridge/internal/bridge/redisstore"
	bridgehttp "github.com/cytoscape/jupyter-bridge/internal/handler/http"
	"github.com/cytoscape/jupyter-bridge/internal/observability"

	"github.com/redis/go-redis/v9"
)

// NewApp wires the relay's dependency graph with fx, mirroring the teacher's
// module-composition style (config -> logger -> store -> engine -> http).
// watcher may be nil, in which case hot-reload is not wired; a Watcher from
// config.Load is never nil, and without a config file it never fires.
func NewApp(cfg *config.Config, watcher *config.Watcher) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			func() *config.Watcher { return watcher },
			ProvideLogger,
			ProvideStore,
			ProvideEngine,
			ProvideRecentChannels,
			ProvideHandler,
			ProvideStatusHandler,
			ProvideAdminHandler,
			ProvideRouter,
			ProvideHTTPServer,
		),
		fx.Invoke(registerLifecycle, wireHotReload),
		fx.NopLogger,
	)
}

// ProvideLogger builds the root structured logger per §4.4 / BRIDGE_LOG_*.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(observability.Options{
		Path:        cfg.LogPath,
		Level:       observability.ParseLevel(cfg.LogLevel),
		OTelEnabled: cfg.OTelEnabled,
	})
}

// ProvideStore selects the bridge.Store backend named by BRIDGE_STORE_BACKEND,
// registering whatever shutdown hook that backend needs.
func ProvideStore(cfg *config.Config, logger *slog.Logger, lc fx.Lifecycle) (bridge.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store := memstore.New(memstore.WithLogger(logger))
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			store.Close()
			return nil
		}})
		return store, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis store: unreachable at %s: %w", cfg.RedisAddr, err)
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			return client.Close()
		}})
		return redisstore.New(client), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// ProvideEngine builds the rendezvous engine over the selected store.
func ProvideEngine(store bridge.Store, cfg *config.Config, logger *slog.Logger) *bridge.Engine {
	policy := bridge.PolicyRelaxed
	if cfg.CrossSlotPolicy == "strict" {
		policy = bridge.PolicyStrict
	}

	timing := bridge.Timing{
		DequeueTimeout:    cfg.DequeueTimeout,
		FastPoll:          cfg.FastPollInterval,
		SlowPoll:          cfg.SlowPollInterval,
		FastPollAllowance: cfg.FastPollAllowance,
	}

	return bridge.New(store,
		bridge.WithPolicy(policy),
		bridge.WithTiming(timing),
		bridge.WithLogger(logger),
	)
}

// ProvideRecentChannels builds the bounded tracker behind /status.
func ProvideRecentChannels() *bridgehttp.RecentChannels {
	return bridgehttp.NewRecentChannels()
}

// ProvideHandler builds the mailbox/liveness HTTP handler.
func ProvideHandler(engine *bridge.Engine, logger *slog.Logger, recent *bridgehttp.RecentChannels) *bridgehttp.Handler {
	return bridgehttp.New(engine, logger, recent)
}

// ProvideStatusHandler builds the /status introspection handler.
func ProvideStatusHandler(store bridge.Store, recent *bridgehttp.RecentChannels, logger *slog.Logger) *bridgehttp.StatusHandler {
	return bridgehttp.NewStatusHandler(store, recent, logger)
}

// ProvideAdminHandler builds the test-channel cleanup handler if enabled by
// config, and nil otherwise so NewRouter skips registering the route.
func ProvideAdminHandler(cfg *config.Config, store bridge.Store, recent *bridgehttp.RecentChannels, logger *slog.Logger) *bridgehttp.AdminHandler {
	if !cfg.AdminTestCleanupEnabled {
		return nil
	}
	return bridgehttp.NewAdminHandler(store, recent, logger)
}

// ProvideRouter assembles the chi router from the handlers.
func ProvideRouter(h *bridgehttp.Handler, status *bridgehttp.StatusHandler, admin *bridgehttp.AdminHandler) stdhttp.Handler {
	return bridgehttp.NewRouter(h, status, admin)
}

// ProvideHTTPServer wraps the router in a *http.Server bound to cfg.Addr.
func ProvideHTTPServer(cfg *config.Config, router stdhttp.Handler) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
}

// wireHotReload subscribes the live engine's cross-slot policy to config file
// reloads, so BRIDGE_CROSS_SLOT_POLICY set in a watched config file can be
// flipped without a restart. The policy is read only by Enqueue(Request) in
// guardCrossSlot, so the change applies to every request enqueue that reaches
// that check afterwards; long-polls (Dequeue) never read it.
func wireHotReload(watcher *config.Watcher, engine *bridge.Engine, logger *slog.Logger) {
	if watcher == nil {
		return
	}
	watcher.Subscribe(func(cfg *config.Config) {
		policy := bridge.PolicyRelaxed
		if cfg.CrossSlotPolicy == "strict" {
			policy = bridge.PolicyStrict
		}
		engine.SetPolicy(policy)
		logger.Info("config: reloaded", "cross_slot_policy", cfg.CrossSlotPolicy)
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *stdhttp.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("relay: listening", "addr", srv.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != stdhttp.ErrServerClosed {
					logger.Error("relay: serve failed", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("relay: shutting down")
			return srv.Shutdown(ctx)
		},
	})
}
