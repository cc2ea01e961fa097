package config

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mcphub/internal/domain"
)

// Store holds the current configuration generation. Readers see an immutable
// snapshot; a failed reload leaves the previous generation installed.
type Store struct {
	logger *zap.Logger
	loader *Loader
	path   string

	state    atomic.Value
	reloadMu sync.Mutex
}

// NewStore loads path once and fails if the first generation is invalid.
func NewStore(ctx context.Context, loader *Loader, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = NewLoader(logger)
	}
	cfg, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	store := &Store{
		logger: logger.Named("config_store"),
		loader: loader,
		path:   path,
	}
	store.state.Store(cfg)
	return store, nil
}

// Path returns the watched file, or "" when running on defaults.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Current() domain.Config {
	return s.state.Load().(domain.Config)
}

func (s *Store) Runtime() domain.RuntimeConfig {
	return s.Current().Runtime
}

// Reload re-reads the file and installs the new generation, returning what
// changed relative to the previous one.
func (s *Store) Reload(ctx context.Context) (domain.BackendDiff, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	prev := s.Current()
	next, err := s.loader.Load(ctx, s.path)
	if err != nil {
		return domain.BackendDiff{}, err
	}

	diff := domain.DiffBackends(prev.Backends, next.Backends)
	if prev.Runtime != next.Runtime {
		s.logger.Warn("runtime settings changed; restart required to apply", zap.String("path", s.path))
		next.Runtime = prev.Runtime
	}
	s.state.Store(next)
	if !diff.IsEmpty() {
		s.logger.Info("backend configuration changed",
			zap.Strings("added", diff.Added),
			zap.Strings("removed", diff.Removed),
			zap.Strings("changed", diff.Changed),
		)
	}
	return diff, nil
}
