package monitor

import (
	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

// recordSuccess moves the backend to Healthy and clears its retry schedule.
// ok is false when entry is no longer the configured version.
func (m *Monitor) recordSuccess(entry domain.BackendEntry) (prev domain.BackendHealth, ok bool) {
	m.mu.Lock()
	if !m.currentLocked(entry) {
		m.mu.Unlock()
		return domain.BackendHealth{}, false
	}
	prev = m.health[entry.Name]
	next := domain.BackendHealth{
		Name:          entry.Name,
		State:         domain.HealthHealthy,
		LastProbeTime: m.now(),
	}
	m.health[entry.Name] = next
	m.publishLocked()
	m.mu.Unlock()

	m.metrics.SetBackendState(entry.Name, next.State)
	if prev.State != next.State {
		m.logger.Info("backend healthy",
			telemetry.EventField(telemetry.EventStateTransition),
			telemetry.BackendField(entry.Name),
			zap.String("from", string(prev.State)),
			telemetry.StateField(string(next.State)),
		)
	} else {
		m.logger.Debug("probe succeeded",
			telemetry.EventField(telemetry.EventProbeSuccess),
			telemetry.BackendField(entry.Name),
		)
	}
	return prev, true
}

// recordFailure passes through Unhealthy straight into BackingOff. The stored
// BackoffDelay is the unjittered delay; NextRetryTime includes jitter. The
// backend's tools stay in the catalog.
func (m *Monitor) recordFailure(entry domain.BackendEntry, err error) {
	m.mu.Lock()
	if !m.currentLocked(entry) {
		m.mu.Unlock()
		return
	}
	prev := m.health[entry.Name]
	now := m.now()
	failures := prev.ConsecutiveFailures + 1
	delay := m.policy.Delay(failures - 1)
	next := domain.BackendHealth{
		Name:                entry.Name,
		State:               domain.HealthBackingOff,
		LastProbeTime:       now,
		ConsecutiveFailures: failures,
		BackoffDelay:        delay,
		NextRetryTime:       now.Add(m.policy.Jittered(delay)),
		LastError:           err.Error(),
	}
	m.health[entry.Name] = next
	m.publishLocked()
	m.mu.Unlock()

	m.metrics.SetBackendState(entry.Name, next.State)

	fields := []zap.Field{
		telemetry.BackendField(entry.Name),
		telemetry.FailuresField(failures),
		telemetry.RetryAtField(next.NextRetryTime),
		zap.Error(err),
	}
	if prev.State != domain.HealthBackingOff {
		m.logger.Warn("backend unhealthy",
			append([]zap.Field{
				telemetry.EventField(telemetry.EventStateTransition),
				zap.String("from", string(prev.State)),
				telemetry.StateField(string(domain.HealthUnhealthy)),
			}, fields...)...,
		)
	} else {
		m.logger.Info("retry probe failed",
			append([]zap.Field{telemetry.EventField(telemetry.EventProbeFailure)}, fields...)...,
		)
	}
}
