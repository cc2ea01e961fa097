package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/config"
)

// ServeConfig carries command-line overrides for a serve run.
type ServeConfig struct {
	ConfigPath      string
	ListenAddress   string
	RefreshInterval time.Duration
}

// LoggingConfig configures logging wiring.
type LoggingConfig struct {
	Logger *zap.Logger
}

// CheckResult is the outcome of loading a config file without serving.
type CheckResult struct {
	Path   string
	Config domain.Config
}

// CheckConfig resolves and loads the config file the way serve would.
func CheckConfig(ctx context.Context, path string, logger *zap.Logger) (CheckResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := config.ResolvePath(path)
	cfg, err := config.NewLoader(logger).Load(ctx, resolved)
	if err != nil {
		return CheckResult{Path: resolved}, err
	}
	return CheckResult{Path: resolved, Config: cfg}, nil
}
