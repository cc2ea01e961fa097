package telemetry

import (
	"time"

	"mcphub/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveCall(_ domain.CallMetric) {}

func (n *NoopMetrics) ObserveProbe(_ string, _ domain.ProbeOutcome, _ time.Duration) {}

func (n *NoopMetrics) SetBackendState(_ string, _ domain.HealthState) {}

func (n *NoopMetrics) DeleteBackend(_ string) {}

func (n *NoopMetrics) SetCatalogTools(_ string, _ int) {}

func (n *NoopMetrics) SetPendingApprovals(_ int) {}

func (n *NoopMetrics) ObserveRefresh(_ bool, _ time.Duration) {}

func (n *NoopMetrics) ObserveStreamEvent(_ string, _ domain.EventKind) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
