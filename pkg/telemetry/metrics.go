package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics on negotiation and execution. A
// disabled instance is a safe no-op.
type Metrics struct {
	config MetricsConfig

	eventsEmitted *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	pollCycles *prometheus.CounterVec

	proposalsObserved   *prometheus.CounterVec
	agreementsConfirmed prometheus.Counter
	agreementsRejected  prometheus.Counter

	batchesExecuted *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec

	resourcesLive *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. With cfg.Enabled false the
// returned instance records nothing.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		eventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Total number of bus events emitted",
			},
			[]string{"event"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped on full subscriber queues",
			},
			[]string{"queue"},
		),
		pollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_cycles_total",
				Help:      "Total number of collector poll cycles",
			},
			[]string{"endpoint", "status"},
		),
		proposalsObserved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proposals_observed_total",
				Help:      "Total number of proposals observed by negotiation state",
			},
			[]string{"state"},
		),
		agreementsConfirmed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agreements_confirmed_total",
				Help:      "Total number of agreements approved by providers",
			},
		),
		agreementsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agreements_rejected_total",
				Help:      "Total number of agreements denied or abandoned by providers",
			},
		),
		batchesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_executed_total",
				Help:      "Total number of command batches executed",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of command batch execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		resourcesLive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_live",
				Help:      "Current number of live resources by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.eventsEmitted,
		m.eventsDropped,
		m.pollCycles,
		m.proposalsObserved,
		m.agreementsConfirmed,
		m.agreementsRejected,
		m.batchesExecuted,
		m.batchDuration,
		m.resourcesLive,
	)
	return m
}

// RecordEventEmitted counts one emitted bus event.
func (m *Metrics) RecordEventEmitted(event string) {
	if m.eventsEmitted != nil {
		m.eventsEmitted.WithLabelValues(event).Inc()
	}
}

// RecordEventDropped counts one event dropped on a full queue.
func (m *Metrics) RecordEventDropped(queue string) {
	if m.eventsDropped != nil {
		m.eventsDropped.WithLabelValues(queue).Inc()
	}
}

// RecordPollCycle counts one collector poll cycle.
func (m *Metrics) RecordPollCycle(endpoint, status string) {
	if m.pollCycles != nil {
		m.pollCycles.WithLabelValues(endpoint, status).Inc()
	}
}

// RecordProposal counts one observed proposal by negotiation state.
func (m *Metrics) RecordProposal(state string) {
	if m.proposalsObserved != nil {
		m.proposalsObserved.WithLabelValues(state).Inc()
	}
}

// RecordAgreementConfirmed counts one provider approval.
func (m *Metrics) RecordAgreementConfirmed() {
	if m.agreementsConfirmed != nil {
		m.agreementsConfirmed.Inc()
	}
}

// RecordAgreementRejected counts one provider rejection.
func (m *Metrics) RecordAgreementRejected() {
	if m.agreementsRejected != nil {
		m.agreementsRejected.Inc()
	}
}

// RecordBatch counts one executed command batch and its duration.
func (m *Metrics) RecordBatch(status string, duration time.Duration) {
	if m.batchesExecuted != nil {
		m.batchesExecuted.WithLabelValues(status).Inc()
		m.batchDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// SetResourcesLive sets the live resource gauge for one kind.
func (m *Metrics) SetResourcesLive(kind string, count float64) {
	if m.resourcesLive != nil {
		m.resourcesLive.WithLabelValues(kind).Set(count)
	}
}

// Handler returns the /metrics HTTP handler, or nil when disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint in the background. A no-op when
// disabled.
func (m *Metrics) Serve() {
	handler := m.Handler()
	if handler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	go http.ListenAndServe(m.config.ListenAddress, mux)
}
