//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	NewLogger,
	NewMetricsRegistry,
	NewMetrics,
	NewConfigLoader,
	NewConfigStore,
	NewRuntimeConfig,
	NewToolCache,
	NewUpstreamPool,
	NewProber,
)

var GatewaySet = wire.NewSet(
	NewCatalog,
	NewApprovalRegistry,
	NewMonitor,
	NewDispatcher,
	NewAPIServer,
	NewConfigWatcher,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	GatewaySet,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)
