package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
	"mcphub/internal/infra/probe"
	"mcphub/internal/infra/upstream"
)

type fakeConfig struct {
	mu        sync.Mutex
	cfg       domain.Config
	reloadErr error
	reloads   int
}

func (f *fakeConfig) Current() domain.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeConfig) Reload(_ context.Context) (domain.BackendDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return domain.BackendDiff{}, f.reloadErr
}

func (f *fakeConfig) set(backends ...domain.BackendEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Backends = backends
}

type probeCall struct {
	name    string
	healthy bool
}

type fakeProber struct {
	mu      sync.Mutex
	fail    map[string]error
	tools   map[string][]json.RawMessage
	calls   []probeCall
	block   chan struct{}
	started chan struct{}
}

func (f *fakeProber) Probe(_ context.Context, entry domain.BackendEntry, healthy bool) (probe.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, probeCall{name: entry.Name, healthy: healthy})
	err := f.fail[entry.Name]
	tools := f.tools[entry.Name]
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return probe.Result{}, err
	}
	return probe.Result{Kind: probe.KindInitialize, Tools: tools}, nil
}

func (f *fakeProber) setFail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	if err == nil {
		delete(f.fail, name)
		return
	}
	f.fail[name] = err
}

func (f *fakeProber) probed() []probeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]probeCall(nil), f.calls...)
}

type fakeCatalog struct {
	mu         sync.Mutex
	discovered []string
	initTools  map[string]int
	removed    []string
	forgotten  []string
}

func (f *fakeCatalog) Discover(_ context.Context, entry domain.BackendEntry, initTools []json.RawMessage, current func() bool) (int, error) {
	if current != nil && !current() {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovered = append(f.discovered, entry.Name)
	if f.initTools == nil {
		f.initTools = map[string]int{}
	}
	f.initTools[entry.Name] = len(initTools)
	return len(initTools), nil
}

func (f *fakeCatalog) Remove(backend string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, backend)
}

func (f *fakeCatalog) Forget(backend string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, backend)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func backend(name string, enabled bool) domain.BackendEntry {
	return domain.BackendEntry{Name: name, Endpoint: "http://" + name + "/mcp", Enabled: enabled, TimeoutSeconds: 5}
}

type harness struct {
	config  *fakeConfig
	prober  *fakeProber
	catalog *fakeCatalog
	pool    *upstream.Pool
	clock   *clock
	monitor *Monitor
}

func newHarness(t *testing.T, backends ...domain.BackendEntry) *harness {
	t.Helper()
	runtime := domain.DefaultRuntimeConfig()
	runtime.Backoff.Jitter = 0
	h := &harness{
		config:  &fakeConfig{cfg: domain.Config{Backends: backends, Runtime: runtime}},
		prober:  &fakeProber{},
		catalog: &fakeCatalog{},
		pool:    upstream.NewPool(nil),
		clock:   &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	h.monitor = New(h.config, h.pool, h.prober, h.catalog, WithClock(h.clock.Now))
	t.Cleanup(h.pool.CloseAll)
	return h
}

func TestRefresh_ProbesEnabledBackendsOnly(t *testing.T) {
	h := newHarness(t, backend("a", true), backend("off", false))
	h.prober.tools = map[string][]json.RawMessage{"a": {json.RawMessage(`{"name":"search"}`)}}

	report := h.monitor.Refresh(context.Background())
	require.True(t, report.Ran)
	require.False(t, report.Shared)
	require.Equal(t, 1, report.Probed)
	require.Equal(t, 1, report.Healthy)

	require.Equal(t, []probeCall{{name: "a", healthy: false}}, h.prober.probed())
	require.True(t, h.monitor.IsHealthy("a"))
	_, tracked := h.monitor.Health("off")
	require.False(t, tracked)
	require.Equal(t, []string{"a"}, h.catalog.discovered)
	require.Equal(t, 1, h.catalog.initTools["a"])
	require.Equal(t, []string{"a"}, h.pool.Names())
	require.Len(t, h.monitor.Entries(), 2)
}

func TestRefresh_FailureSchedulesBackoff(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.prober.setFail("a", errors.New("connection refused"))

	h.monitor.Refresh(context.Background())

	health, ok := h.monitor.Health("a")
	require.True(t, ok)
	require.Equal(t, domain.HealthBackingOff, health.State)
	require.Equal(t, 1, health.ConsecutiveFailures)
	require.Equal(t, time.Second, health.BackoffDelay)
	require.Equal(t, h.clock.Now().Add(time.Second), health.NextRetryTime)
	require.Equal(t, "connection refused", health.LastError)
	require.Empty(t, h.catalog.removed)
	require.Empty(t, h.catalog.discovered)
}

func TestSweep_BackoffGrowsAndResets(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.prober.setFail("a", errors.New("down"))
	h.monitor.Refresh(context.Background())

	var delays []time.Duration
	for i := 0; i < 8; i++ {
		health, _ := h.monitor.Health("a")
		delays = append(delays, health.BackoffDelay)

		require.Zero(t, h.monitor.Sweep(context.Background()), "retry is not due yet")
		h.clock.Advance(health.NextRetryTime.Sub(h.clock.Now()))
		require.Equal(t, 1, h.monitor.Sweep(context.Background()))
	}
	for i := 1; i < len(delays); i++ {
		require.GreaterOrEqual(t, delays[i], delays[i-1])
	}
	require.Equal(t, 60*time.Second, delays[len(delays)-1])

	health, _ := h.monitor.Health("a")
	require.Equal(t, 9, health.ConsecutiveFailures)

	h.prober.setFail("a", nil)
	h.clock.Advance(time.Minute)
	require.Equal(t, 1, h.monitor.Sweep(context.Background()))
	health, _ = h.monitor.Health("a")
	require.Equal(t, domain.HealthHealthy, health.State)
	require.Zero(t, health.ConsecutiveFailures)
	require.True(t, health.NextRetryTime.IsZero())
	require.Equal(t, []string{"a"}, h.catalog.discovered)

	h.prober.setFail("a", errors.New("down again"))
	h.monitor.Refresh(context.Background())
	health, _ = h.monitor.Health("a")
	require.Equal(t, 1, health.ConsecutiveFailures)
	require.Equal(t, time.Second, health.BackoffDelay)
}

func TestRefresh_SkipsBackoffNotDue(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.prober.setFail("a", errors.New("down"))
	h.monitor.Refresh(context.Background())

	report := h.monitor.Refresh(context.Background())
	require.Zero(t, report.Probed)
	require.Len(t, h.prober.probed(), 1)
}

func TestRefresh_HealthyBackendRediscovered(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.monitor.Refresh(context.Background())
	h.monitor.Refresh(context.Background())

	require.Equal(t, []probeCall{{name: "a", healthy: false}, {name: "a", healthy: true}}, h.prober.probed())
	require.Equal(t, []string{"a", "a"}, h.catalog.discovered)
}

func TestRefresh_Coalesces(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.prober.block = make(chan struct{})
	h.prober.started = make(chan struct{}, 1)

	first := make(chan RefreshReport, 1)
	go func() {
		first <- h.monitor.Refresh(context.Background())
	}()
	<-h.prober.started

	second := make(chan RefreshReport, 1)
	go func() {
		second <- h.monitor.Refresh(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	close(h.prober.block)

	r1, r2 := <-first, <-second
	require.True(t, r1.Ran)
	require.True(t, r2.Ran)
	require.False(t, r1.Shared)
	require.True(t, r2.Shared)
	require.Len(t, h.prober.probed(), 1)
	require.Equal(t, 1, h.config.reloads)
}

func TestRefresh_CallerCancelDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.prober.block = make(chan struct{})
	h.prober.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan RefreshReport, 1)
	go func() {
		done <- h.monitor.Refresh(ctx)
	}()
	<-h.prober.started
	cancel()
	report := <-done
	require.False(t, report.Ran)

	close(h.prober.block)
	require.Eventually(t, func() bool {
		return h.monitor.IsHealthy("a")
	}, time.Second, 10*time.Millisecond)
}

func TestRefresh_AppliesConfigChanges(t *testing.T) {
	h := newHarness(t, backend("a", true), backend("b", true))
	h.monitor.Refresh(context.Background())
	require.ElementsMatch(t, []string{"a", "b"}, h.pool.Names())

	changed := backend("b", true)
	changed.TimeoutSeconds = 9
	h.config.set(changed, backend("c", false))
	h.monitor.Refresh(context.Background())

	_, tracked := h.monitor.Health("a")
	require.False(t, tracked)
	require.Equal(t, []string{"a"}, h.catalog.forgotten)
	require.Contains(t, h.catalog.removed, "b")
	require.True(t, h.monitor.IsHealthy("b"))
	require.Equal(t, []string{"b"}, h.pool.Names())

	client, ok := h.pool.Get("b")
	require.True(t, ok)
	require.Equal(t, 9, client.Entry().TimeoutSeconds)

	h.config.set(backend("b", false))
	h.monitor.Refresh(context.Background())
	_, tracked = h.monitor.Health("b")
	require.False(t, tracked)
	require.Empty(t, h.pool.Names())
	require.Empty(t, h.monitor.Snapshot())
}

func TestRefresh_ConfigErrorKeepsBackends(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.config.reloadErr = errors.New("bad yaml")

	report := h.monitor.Refresh(context.Background())
	require.ErrorContains(t, report.ConfigError, "bad yaml")
	require.True(t, h.monitor.IsHealthy("a"))
}

func TestMarkSuspect_ReprobesWithoutStateChange(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.monitor.Refresh(context.Background())

	h.monitor.MarkSuspect("a")
	h.monitor.MarkSuspect("unknown")
	health, _ := h.monitor.Health("a")
	require.Equal(t, domain.HealthHealthy, health.State)
	require.False(t, health.NextRetryTime.IsZero())

	require.Equal(t, 1, h.monitor.Sweep(context.Background()))
	calls := h.prober.probed()
	require.Equal(t, probeCall{name: "a", healthy: true}, calls[len(calls)-1])
	health, _ = h.monitor.Health("a")
	require.True(t, health.NextRetryTime.IsZero())
	require.Equal(t, []string{"a"}, h.catalog.discovered)
}

func TestMarkSuspect_FailedReprobeBacksOff(t *testing.T) {
	h := newHarness(t, backend("a", true))
	h.monitor.Refresh(context.Background())

	h.monitor.MarkSuspect("a")
	h.prober.setFail("a", errors.New("timeout"))
	h.monitor.Sweep(context.Background())

	health, _ := h.monitor.Health("a")
	require.Equal(t, domain.HealthBackingOff, health.State)
	require.Equal(t, 1, health.ConsecutiveFailures)
}

func TestReport(t *testing.T) {
	h := newHarness(t, backend("a", true), backend("b", true))
	h.prober.setFail("b", errors.New("down"))
	h.monitor.Refresh(context.Background())

	report := h.monitor.Report()
	require.Equal(t, "degraded", report.Status)
	require.Equal(t, map[string]string{"a": "healthy", "b": "backing_off"}, report.Backends)

	snapshot := h.monitor.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "a", snapshot[0].Name)

	h.prober.setFail("a", errors.New("down"))
	h.clock.Advance(2 * time.Minute)
	h.monitor.Refresh(context.Background())
	require.Equal(t, "unavailable", h.monitor.Report().Status)
}

func TestNew_RuntimeSettings(t *testing.T) {
	runtime := domain.DefaultRuntimeConfig()
	runtime.RefreshIntervalSeconds = 0
	cfg := &fakeConfig{cfg: domain.Config{Runtime: runtime}}

	m := New(cfg, upstream.NewPool(nil), &fakeProber{}, &fakeCatalog{})
	require.Equal(t, time.Duration(domain.DefaultRefreshIntervalSeconds)*time.Second, m.interval)

	m = New(cfg, upstream.NewPool(nil), &fakeProber{}, &fakeCatalog{}, WithRefreshInterval(5*time.Second))
	require.Equal(t, 5*time.Second, m.interval)
}
