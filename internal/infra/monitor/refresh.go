package monitor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

const refreshKey = "refresh"

// RefreshReport describes one refresh as seen by its caller.
type RefreshReport struct {
	Ran         bool
	Shared      bool
	Probed      int
	Healthy     int
	Duration    time.Duration
	ConfigError error
}

// Refresh runs a refresh cycle now, or waits for the one already running.
// The cycle is not cancelled when ctx is; a caller that gives up early gets
// Ran=false.
func (m *Monitor) Refresh(ctx context.Context) RefreshReport {
	start := time.Now()
	leader := false
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		leader = true
		return m.runCycle(context.WithoutCancel(ctx)), nil
	})
	select {
	case <-ctx.Done():
		return RefreshReport{}
	case res := <-ch:
		report := res.Val.(RefreshReport)
		report.Shared = !leader
		if report.Shared {
			report.Duration = time.Since(start)
		}
		m.metrics.ObserveRefresh(report.Shared, report.Duration)
		return report
	}
}

func (m *Monitor) runCycle(ctx context.Context) RefreshReport {
	start := time.Now()
	report := RefreshReport{Ran: true}

	if _, err := m.config.Reload(ctx); err != nil {
		report.ConfigError = err
		m.logger.Warn("config reload failed; keeping previous backends", zap.Error(err))
	}
	m.apply(m.config.Current())

	now := m.now()
	m.mu.Lock()
	targets := make([]domain.BackendEntry, 0, len(m.order))
	for _, name := range m.order {
		entry := m.entries[name]
		health, tracked := m.health[name]
		if !entry.Enabled || !tracked {
			continue
		}
		if health.State == domain.HealthBackingOff && now.Before(health.NextRetryTime) {
			continue
		}
		targets = append(targets, entry)
	}
	m.mu.Unlock()

	report.Probed, report.Healthy = m.probeAll(ctx, targets, true)
	report.Duration = time.Since(start)
	m.logger.Info("refresh cycle finished",
		telemetry.EventField(telemetry.EventRefreshCycle),
		zap.Int("probed", report.Probed),
		zap.Int("healthy", report.Healthy),
		telemetry.DurationField(report.Duration),
	)
	return report
}

// Sweep probes backends whose retry time has passed: backing-off backends
// and healthy ones marked suspect.
func (m *Monitor) Sweep(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	var due []domain.BackendEntry
	for _, name := range m.order {
		health, tracked := m.health[name]
		if !tracked || health.NextRetryTime.IsZero() || now.Before(health.NextRetryTime) {
			continue
		}
		due = append(due, m.entries[name])
	}
	m.mu.Unlock()
	if len(due) == 0 {
		return 0
	}
	probed, _ := m.probeAll(ctx, due, false)
	return probed
}

func (m *Monitor) probeAll(ctx context.Context, targets []domain.BackendEntry, cycle bool) (int, int) {
	var (
		group   errgroup.Group
		probed  atomic.Int32
		healthy atomic.Int32
	)
	group.SetLimit(m.concurrency)
	for _, entry := range targets {
		group.Go(func() error {
			ran, ok := m.probeOne(ctx, entry, cycle)
			if ran {
				probed.Add(1)
			}
			if ok {
				healthy.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()
	return int(probed.Load()), int(healthy.Load())
}

// probeOne probes entry unless another probe of the same backend is running.
func (m *Monitor) probeOne(ctx context.Context, entry domain.BackendEntry, cycle bool) (ran, healthy bool) {
	m.mu.Lock()
	if _, busy := m.inflight[entry.Name]; busy || !m.currentLocked(entry) {
		m.mu.Unlock()
		return false, false
	}
	m.inflight[entry.Name] = struct{}{}
	wasHealthy := m.health[entry.Name].Healthy()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, entry.Name)
		m.mu.Unlock()
	}()

	probeCtx, cancel := context.WithTimeout(ctx, entry.Timeout())
	start := time.Now()
	result, err := m.prober.Probe(probeCtx, entry, wasHealthy)
	elapsed := time.Since(start)
	cancel()

	if err != nil {
		m.metrics.ObserveProbe(entry.Name, domain.ProbeOutcomeFailure, elapsed)
		m.recordFailure(entry, err)
		return true, false
	}
	m.metrics.ObserveProbe(entry.Name, domain.ProbeOutcomeSuccess, elapsed)
	prev, ok := m.recordSuccess(entry)
	if !ok {
		return true, false
	}
	if !prev.Healthy() || cycle {
		m.discover(ctx, entry, result.Tools)
	}
	return true, true
}

func (m *Monitor) discover(ctx context.Context, entry domain.BackendEntry, initTools []json.RawMessage) {
	_, _ = m.catalog.Discover(ctx, entry, initTools, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.currentLocked(entry)
	})
}
