package monitor

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mcphub/internal/domain"
	"mcphub/internal/infra/backoff"
	"mcphub/internal/infra/probe"
	"mcphub/internal/infra/telemetry"
	"mcphub/internal/infra/upstream"
)

// ConfigSource supplies configuration generations.
type ConfigSource interface {
	Current() domain.Config
	Reload(ctx context.Context) (domain.BackendDiff, error)
}

// Connections owns the upstream client of each backend.
type Connections interface {
	Ensure(entry domain.BackendEntry) *upstream.Client
	Remove(name string)
}

type Prober interface {
	Probe(ctx context.Context, entry domain.BackendEntry, healthy bool) (probe.Result, error)
}

// Catalog receives discovery requests and tool removals.
type Catalog interface {
	Discover(ctx context.Context, entry domain.BackendEntry, initTools []json.RawMessage, current func() bool) (int, error)
	Remove(backend string)
	Forget(backend string)
}

// Monitor owns BackendHealth for every enabled backend. Health is only
// changed by probe outcomes; readers see immutable snapshots.
type Monitor struct {
	config  ConfigSource
	conns   Connections
	prober  Prober
	catalog Catalog
	policy  *backoff.Policy
	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time

	interval    time.Duration
	retryTick   time.Duration
	concurrency int

	mu       sync.Mutex
	entries  map[string]domain.BackendEntry
	order    []string
	health   map[string]domain.BackendHealth
	inflight map[string]struct{}
	state    atomic.Value

	group singleflight.Group
}

type healthState struct {
	list   []domain.BackendHealth
	byName map[string]domain.BackendHealth
}

type Option func(*Monitor)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger.Named("monitor")
		}
	}
}

func WithMetrics(metrics domain.Metrics) Option {
	return func(m *Monitor) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRefreshInterval overrides the configured interval between refresh cycles.
func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// New builds a monitor using the runtime settings of config's current
// generation. Nothing is probed until Refresh or Run is called.
func New(config ConfigSource, conns Connections, prober Prober, catalog Catalog, opts ...Option) *Monitor {
	runtime := config.Current().Runtime
	m := &Monitor{
		config:      config,
		conns:       conns,
		prober:      prober,
		catalog:     catalog,
		policy:      backoff.NewPolicy(runtime.Backoff),
		logger:      zap.NewNop(),
		metrics:     telemetry.NewNoopMetrics(),
		now:         time.Now,
		interval:    runtime.RefreshInterval(),
		retryTick:   runtime.RetryTick(),
		concurrency: runtime.RefreshConcurrency,
		entries:     make(map[string]domain.BackendEntry),
		health:      make(map[string]domain.BackendHealth),
		inflight:    make(map[string]struct{}),
	}
	if m.interval <= 0 {
		m.interval = time.Duration(domain.DefaultRefreshIntervalSeconds) * time.Second
	}
	if m.retryTick <= 0 {
		m.retryTick = time.Duration(domain.DefaultRetryTickMillis) * time.Millisecond
	}
	if m.concurrency <= 0 {
		m.concurrency = domain.DefaultRefreshConcurrency
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(healthState{byName: map[string]domain.BackendHealth{}})
	return m
}

// Run performs an initial refresh, then refreshes every interval and sweeps
// due retries every retry tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Refresh(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.Refresh(ctx)
			}
		}
	})
	group.Go(func() error {
		ticker := time.NewTicker(m.retryTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	})
	return group.Wait()
}

// Health returns the current health of one backend.
func (m *Monitor) Health(name string) (domain.BackendHealth, bool) {
	health, ok := m.state.Load().(healthState).byName[name]
	return health, ok
}

func (m *Monitor) IsHealthy(name string) bool {
	health, ok := m.Health(name)
	return ok && health.Healthy()
}

// Snapshot lists the health of every enabled backend in configuration order.
func (m *Monitor) Snapshot() []domain.BackendHealth {
	return m.state.Load().(healthState).list
}

// Entries returns every configured backend, enabled or not, in configuration order.
func (m *Monitor) Entries() []domain.BackendEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BackendEntry, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.entries[name])
	}
	return out
}

// Report summarizes health for the observability endpoint. The gateway is
// unavailable only when backends are tracked and none of them is healthy.
func (m *Monitor) Report() telemetry.HealthReport {
	list := m.Snapshot()
	report := telemetry.HealthReport{Status: telemetry.HealthOK, Backends: make(map[string]string, len(list))}
	healthy := 0
	for _, health := range list {
		report.Backends[health.Name] = string(health.State)
		if health.Healthy() {
			healthy++
		}
	}
	switch {
	case len(list) > 0 && healthy == 0:
		report.Status = telemetry.HealthUnavailable
	case healthy < len(list):
		report.Status = telemetry.HealthDegraded
	}
	return report
}

// MarkSuspect asks for an early re-probe of a healthy backend after a call
// failed in transit. The state is left alone until that probe runs.
func (m *Monitor) MarkSuspect(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	health, ok := m.health[name]
	if !ok || health.State != domain.HealthHealthy {
		return
	}
	health.NextRetryTime = m.now()
	m.health[name] = health
	m.publishLocked()
	m.logger.Debug("backend marked suspect", telemetry.BackendField(name))
}

func (m *Monitor) publishLocked() {
	list := make([]domain.BackendHealth, 0, len(m.health))
	byName := make(map[string]domain.BackendHealth, len(m.health))
	for _, name := range m.order {
		health, ok := m.health[name]
		if !ok {
			continue
		}
		list = append(list, health)
		byName[name] = health
	}
	m.state.Store(healthState{list: list, byName: byName})
}

// apply reconciles the tracked backends with cfg. Removed, disabled and
// changed backends lose their tools and connection; changed ones restart
// from Unknown. This is the only place tools are dropped: a backend that
// fails probes keeps its last list so calls report it unavailable.
func (m *Monitor) apply(cfg domain.Config) {
	m.mu.Lock()
	prev := make([]domain.BackendEntry, 0, len(m.order))
	for _, name := range m.order {
		prev = append(prev, m.entries[name])
	}
	diff := domain.DiffBackends(prev, cfg.Backends)

	removed := append([]string(nil), diff.Removed...)
	released := append([]string(nil), diff.Changed...)

	m.entries = domain.IndexBackends(cfg.Backends)
	m.order = m.order[:0]
	for _, entry := range cfg.Backends {
		m.order = append(m.order, entry.Name)
	}
	for _, name := range diff.Removed {
		delete(m.health, name)
	}
	for _, name := range diff.Changed {
		delete(m.health, name)
	}
	var enabled []domain.BackendEntry
	for _, entry := range cfg.Backends {
		if !entry.Enabled {
			if _, tracked := m.health[entry.Name]; tracked {
				delete(m.health, entry.Name)
				released = append(released, entry.Name)
			}
			continue
		}
		enabled = append(enabled, entry)
		if _, tracked := m.health[entry.Name]; !tracked {
			m.health[entry.Name] = domain.BackendHealth{Name: entry.Name, State: domain.HealthUnknown}
		}
	}
	m.publishLocked()
	m.mu.Unlock()

	for _, name := range removed {
		m.release(name)
		m.catalog.Forget(name)
		m.logger.Info("backend removed",
			telemetry.EventField(telemetry.EventBackendRemoved),
			telemetry.BackendField(name),
		)
	}
	for _, name := range released {
		m.release(name)
		m.catalog.Remove(name)
	}
	for _, entry := range enabled {
		m.conns.Ensure(entry)
		health, _ := m.Health(entry.Name)
		m.metrics.SetBackendState(entry.Name, health.State)
	}
}

func (m *Monitor) release(name string) {
	m.conns.Remove(name)
	m.metrics.DeleteBackend(name)
}

// current reports whether entry is still the configured, enabled version of
// its backend.
func (m *Monitor) currentLocked(entry domain.BackendEntry) bool {
	configured, ok := m.entries[entry.Name]
	if !ok || !configured.Enabled {
		return false
	}
	if _, tracked := m.health[entry.Name]; !tracked {
		return false
	}
	return reflect.DeepEqual(configured, entry)
}
