package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcphub/internal/domain"
	"mcphub/internal/infra/approval"
	"mcphub/internal/infra/config"
	"mcphub/internal/infra/monitor"
	"mcphub/internal/infra/server"
	"mcphub/internal/infra/telemetry"
)

const maxApprovalSweepInterval = time.Minute

// Application owns the running gateway.
type Application struct {
	ctx      context.Context
	logger   *zap.Logger
	registry *prometheus.Registry
	store    *config.Store
	runtime  domain.RuntimeConfig

	monitor   *monitor.Monitor
	approvals *approval.Registry
	watcher   *config.Watcher
	api       *server.Server
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	Context   context.Context
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Store     *config.Store
	Runtime   domain.RuntimeConfig
	Monitor   *monitor.Monitor
	Approvals *approval.Registry
	Watcher   *config.Watcher
	API       *server.Server
}

func NewApplication(opts ApplicationOptions) *Application {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		ctx:       ctx,
		logger:    logger,
		registry:  opts.Registry,
		store:     opts.Store,
		runtime:   opts.Runtime,
		monitor:   opts.Monitor,
		approvals: opts.Approvals,
		watcher:   opts.Watcher,
		api:       opts.API,
	}
}

// Run starts the monitor loops, the config watcher, the API server and the
// observability server, and blocks until the context is cancelled or one of
// them fails.
func (a *Application) Run() error {
	cfg := a.store.Current()
	a.logger.Info("configuration loaded",
		zap.String("config", cfg.Path),
		zap.Int("backends", len(cfg.Backends)),
		zap.Int("enabled", len(cfg.EnabledBackends())),
		zap.Bool("defaulted", cfg.Defaulted),
	)

	group, ctx := errgroup.WithContext(a.ctx)
	group.Go(func() error {
		return a.monitor.Run(ctx)
	})
	group.Go(func() error {
		a.approvals.Run(ctx, approvalSweepInterval(a.runtime.ApprovalTTL()))
		return nil
	})
	group.Go(func() error {
		if err := a.watcher.Run(ctx); err != nil {
			// Serving continues without live reload.
			a.logger.Warn("config watcher stopped", zap.Error(err))
		}
		return nil
	})
	group.Go(func() error {
		return a.api.Serve(ctx, a.runtime.ListenAddress)
	})
	if a.runtime.MetricsEnabled {
		group.Go(func() error {
			return telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
				Addr:          a.runtime.MetricsListenAddress,
				EnableMetrics: true,
				EnableHealthz: true,
				Health:        a.monitor,
				Registry:      a.registry,
			}, a.logger)
		})
	}

	err := group.Wait()
	a.logger.Info("gateway stopped")
	return err
}

func approvalSweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if ttl < maxApprovalSweepInterval {
		return ttl
	}
	return maxApprovalSweepInterval
}
