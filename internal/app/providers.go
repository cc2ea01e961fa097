package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/aggregator"
	"mcphub/internal/infra/approval"
	"mcphub/internal/infra/config"
	"mcphub/internal/infra/monitor"
	"mcphub/internal/infra/probe"
	"mcphub/internal/infra/router"
	"mcphub/internal/infra/server"
	"mcphub/internal/infra/telemetry"
	"mcphub/internal/infra/toolcache"
	"mcphub/internal/infra/upstream"
)

// NewLogger returns the application logger.
func NewLogger(cfg LoggingConfig) *zap.Logger {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named("app")
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewConfigLoader(logger *zap.Logger) *config.Loader {
	return config.NewLoader(logger)
}

// NewConfigStore loads the first configuration generation. An invalid file
// aborts startup.
func NewConfigStore(ctx context.Context, loader *config.Loader, cfg ServeConfig, logger *zap.Logger) (*config.Store, error) {
	return config.NewStore(ctx, loader, config.ResolvePath(cfg.ConfigPath), logger)
}

// NewRuntimeConfig applies command-line overrides on top of the loaded settings.
func NewRuntimeConfig(store *config.Store, cfg ServeConfig) domain.RuntimeConfig {
	runtime := store.Runtime()
	if cfg.ListenAddress != "" {
		runtime.ListenAddress = cfg.ListenAddress
	}
	if cfg.RefreshInterval > 0 {
		runtime.RefreshIntervalSeconds = int(cfg.RefreshInterval.Seconds())
	}
	return runtime
}

// NewToolCache opens the on-disk tool cache when a path is configured.
func NewToolCache(runtime domain.RuntimeConfig, logger *zap.Logger) (*toolcache.Store, func(), error) {
	if runtime.ToolCachePath == "" {
		return nil, func() {}, nil
	}
	store, err := toolcache.Open(runtime.ToolCachePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("tool cache opened", zap.String("path", store.Path()))
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("tool cache close failed", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

func NewUpstreamPool(logger *zap.Logger) (*upstream.Pool, func()) {
	pool := upstream.NewPool(logger, upstream.WithLogger(logger))
	return pool, pool.CloseAll
}

func NewProber(pool *upstream.Pool) *probe.HTTPProbe {
	return &probe.HTTPProbe{Pool: pool}
}

func NewCatalog(pool *upstream.Pool, cache *toolcache.Store, metrics domain.Metrics, logger *zap.Logger) *aggregator.Catalog {
	opts := []aggregator.Option{aggregator.WithMetrics(metrics)}
	if cache != nil {
		opts = append(opts, aggregator.WithToolCache(cache))
	}
	return aggregator.NewCatalog(pool, logger, opts...)
}

func NewApprovalRegistry(runtime domain.RuntimeConfig, metrics domain.Metrics, logger *zap.Logger) *approval.Registry {
	return approval.NewRegistry(runtime.ApprovalTTL(),
		approval.WithLogger(logger),
		approval.WithMetrics(metrics),
	)
}

func NewMonitor(
	store *config.Store,
	pool *upstream.Pool,
	prober *probe.HTTPProbe,
	catalog *aggregator.Catalog,
	runtime domain.RuntimeConfig,
	metrics domain.Metrics,
	logger *zap.Logger,
) *monitor.Monitor {
	return monitor.New(store, pool, prober, catalog,
		monitor.WithLogger(logger),
		monitor.WithMetrics(metrics),
		monitor.WithRefreshInterval(runtime.RefreshInterval()),
	)
}

func NewDispatcher(
	catalog *aggregator.Catalog,
	health *monitor.Monitor,
	pool *upstream.Pool,
	approvals *approval.Registry,
	runtime domain.RuntimeConfig,
	metrics domain.Metrics,
	logger *zap.Logger,
) *router.Dispatcher {
	return router.NewDispatcher(catalog, health, pool, approvals, router.Options{
		ValidateArguments: runtime.ValidateArguments,
		StreamBufferSize:  runtime.StreamBufferSize,
		Logger:            logger,
		Metrics:           metrics,
	})
}

func NewAPIServer(
	dispatcher *router.Dispatcher,
	health *monitor.Monitor,
	catalog *aggregator.Catalog,
	approvals *approval.Registry,
	logger *zap.Logger,
) *server.Server {
	return server.New(server.Options{
		Dispatcher: dispatcher,
		Backends:   health,
		Tools:      catalog,
		Approvals:  approvals,
		Logger:     logger,
	})
}

// NewConfigWatcher triggers a coalesced refresh whenever the config file changes.
func NewConfigWatcher(store *config.Store, health *monitor.Monitor, logger *zap.Logger) *config.Watcher {
	return config.NewWatcher(store.Path(), func(ctx context.Context) {
		report := health.Refresh(ctx)
		if report.ConfigError != nil {
			logger.Warn("config reload rejected; keeping previous backends", zap.Error(report.ConfigError))
		}
	}, logger)
}
