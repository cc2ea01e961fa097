package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcphub/internal/domain"
)

var healthStates = []domain.HealthState{
	domain.HealthUnknown,
	domain.HealthHealthy,
	domain.HealthUnhealthy,
	domain.HealthBackingOff,
}

type PrometheusMetrics struct {
	callDuration     *prometheus.HistogramVec
	probes           *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	backendState     *prometheus.GaugeVec
	catalogTools     *prometheus.GaugeVec
	pendingApprovals prometheus.Gauge
	refreshes        *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	streamEvents     *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcphub_call_duration_seconds",
				Help:    "Duration of dispatched tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend", "mode", "status", "reason"},
		),
		probes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_probes_total",
				Help: "Total number of backend probes by outcome",
			},
			[]string{"backend", "outcome"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcphub_probe_duration_seconds",
				Help:    "Duration of backend probes in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		backendState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcphub_backend_state",
				Help: "Current health state per backend (1 for the active state)",
			},
			[]string{"backend", "state"},
		),
		catalogTools: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcphub_catalog_tools",
				Help: "Number of catalog tools contributed by each backend",
			},
			[]string{"backend"},
		),
		pendingApprovals: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcphub_pending_approvals",
				Help: "Number of unresolved pending approvals",
			},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_refresh_total",
				Help: "Total number of refresh requests, split by whether they joined an in-flight cycle",
			},
			[]string{"shared"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcphub_refresh_duration_seconds",
				Help:    "Duration of refresh cycles in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		streamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_stream_events_total",
				Help: "Total number of relayed stream events by kind",
			},
			[]string{"backend", "kind"},
		),
	}
}

func (p *PrometheusMetrics) ObserveCall(metric domain.CallMetric) {
	p.callDuration.WithLabelValues(metric.Backend, string(metric.Mode), string(metric.Status), metric.Reason).
		Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveProbe(backend string, outcome domain.ProbeOutcome, duration time.Duration) {
	p.probes.WithLabelValues(backend, string(outcome)).Inc()
	p.probeDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) SetBackendState(backend string, state domain.HealthState) {
	for _, candidate := range healthStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		p.backendState.WithLabelValues(backend, string(candidate)).Set(value)
	}
}

func (p *PrometheusMetrics) DeleteBackend(backend string) {
	p.backendState.DeletePartialMatch(prometheus.Labels{"backend": backend})
	p.catalogTools.DeleteLabelValues(backend)
}

func (p *PrometheusMetrics) SetCatalogTools(backend string, count int) {
	p.catalogTools.WithLabelValues(backend).Set(float64(count))
}

func (p *PrometheusMetrics) SetPendingApprovals(count int) {
	p.pendingApprovals.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveRefresh(shared bool, duration time.Duration) {
	label := "false"
	if shared {
		label = "true"
	}
	p.refreshes.WithLabelValues(label).Inc()
	if !shared {
		p.refreshDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusMetrics) ObserveStreamEvent(backend string, kind domain.EventKind) {
	p.streamEvents.WithLabelValues(backend, string(kind)).Inc()
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
