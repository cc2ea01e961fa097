package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
)

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveCall(domain.CallMetric{
		Backend:  "search",
		Mode:     domain.CallModeSync,
		Status:   domain.CallStatusSuccess,
		Duration: 10 * time.Millisecond,
	})
	m.ObserveProbe("search", domain.ProbeOutcomeSuccess, time.Millisecond)
	m.SetBackendState("search", domain.HealthHealthy)
	m.SetCatalogTools("search", 3)
	m.SetPendingApprovals(1)
	m.ObserveRefresh(false, time.Second)
	m.ObserveStreamEvent("search", domain.EventResult)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}

	assert.Contains(t, names, "mcphub_call_duration_seconds")
	assert.Contains(t, names, "mcphub_probes_total")
	assert.Contains(t, names, "mcphub_probe_duration_seconds")
	assert.Contains(t, names, "mcphub_backend_state")
	assert.Contains(t, names, "mcphub_catalog_tools")
	assert.Contains(t, names, "mcphub_pending_approvals")
	assert.Contains(t, names, "mcphub_refresh_total")
	assert.Contains(t, names, "mcphub_refresh_duration_seconds")
	assert.Contains(t, names, "mcphub_stream_events_total")
}

func TestPrometheusMetrics_BackendStateIsOneHot(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.SetBackendState("a", domain.HealthHealthy)
	m.SetBackendState("a", domain.HealthBackingOff)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.backendState.WithLabelValues("a", string(domain.HealthHealthy))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendState.WithLabelValues("a", string(domain.HealthBackingOff))))
}

func TestPrometheusMetrics_DeleteBackend(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.SetBackendState("a", domain.HealthHealthy)
	m.SetCatalogTools("a", 4)

	m.DeleteBackend("a")

	assert.Equal(t, 0, testutil.CollectAndCount(m.backendState))
	assert.Equal(t, 0, testutil.CollectAndCount(m.catalogTools))
}

func TestPrometheusMetrics_RefreshSharedLabel(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.ObserveRefresh(false, time.Second)
	m.ObserveRefresh(true, 0)
	m.ObserveRefresh(true, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues("true")))
}

func TestNoopMetrics_ImplementsInterface(t *testing.T) {
	var m domain.Metrics = NewNoopMetrics()
	assert.NotPanics(t, func() {
		m.ObserveCall(domain.CallMetric{})
		m.SetPendingApprovals(3)
	})
}
