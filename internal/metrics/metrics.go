package metrics

import (
	"net/http"
	"time"

	"alerteval/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alerteval"

// Cycle results reported by the scheduler.
const (
	ResultOK       = "ok"
	ResultNoResult = "no_result"
	ResultError    = "error"
	ResultTimeout  = "timeout"
	ResultPanic    = "panic"
)

// Metrics holds evaluation metrics on an explicit registry.
// Params: registry owned by the service.
// Returns: recorder used by scheduler and HTTP server.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	events        *prometheus.CounterVec
	tagSets       *prometheus.CounterVec
	tagSetErrors  *prometheus.CounterVec
	suppressed    *prometheus.CounterVec
	purged        *prometheus.CounterVec
	statusErrors  prometheus.Counter
	publishErrors prometheus.Counter
	storeSize     prometheus.Gauge
}

// New registers evaluation metrics on registry.
// Params: registry; a fresh one is created when nil.
// Returns: metrics recorder.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Evaluation cycles by alert and result.",
		}, []string{"alert", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one evaluation cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"alert"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Raised alert events by signal.",
		}, []string{"alert", "signal", "nag"}),
		tagSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_sets_evaluated_total",
			Help:      "Tag-sets seen in query results.",
		}, []string{"alert"}),
		tagSetErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_set_errors_total",
			Help:      "Tag-sets skipped because of malformed input.",
		}, []string{"alert"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_sets_suppressed_total",
			Help:      "Tag-sets silenced by the heartbeat metric.",
		}, []string{"alert"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_purged_total",
			Help:      "State records evicted by retention.",
		}, []string{"alert"}),
		statusErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_write_errors_total",
			Help:      "Failed status write batches.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed event publish batches.",
		}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_records",
			Help:      "Records held by the state store.",
		}),
	}
	registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.events,
		m.tagSets,
		m.tagSetErrors,
		m.suppressed,
		m.purged,
		m.statusErrors,
		m.publishErrors,
		m.storeSize,
	)
	return m
}

// Registry returns the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records one finished cycle.
// Params: alert name, result label, and duration.
// Returns: none.
func (m *Metrics) ObserveCycle(alert, result string, duration time.Duration) {
	m.cycles.WithLabelValues(alert, result).Inc()
	m.cycleDuration.WithLabelValues(alert).Observe(duration.Seconds())
}

// ObserveEvaluation records per-cycle evaluator counters.
func (m *Metrics) ObserveEvaluation(alert string, tagSets, errors, suppressed int, events []domain.AlertEvent) {
	m.tagSets.WithLabelValues(alert).Add(float64(tagSets))
	m.tagSetErrors.WithLabelValues(alert).Add(float64(errors))
	m.suppressed.WithLabelValues(alert).Add(float64(suppressed))
	for _, event := range events {
		nag := "false"
		if event.IsNag {
			nag = "true"
		}
		m.events.WithLabelValues(alert, string(event.Signal), nag).Inc()
	}
}

// ObservePurge records evicted records.
func (m *Metrics) ObservePurge(alert string, purged int) {
	m.purged.WithLabelValues(alert).Add(float64(purged))
}

// StatusWriteFailed counts failed status batches.
func (m *Metrics) StatusWriteFailed() {
	m.statusErrors.Inc()
}

// PublishFailed counts failed publish batches.
func (m *Metrics) PublishFailed() {
	m.publishErrors.Inc()
}

// SetStoreSize reports state store size.
func (m *Metrics) SetStoreSize(n int) {
	m.storeSize.Set(float64(n))
}
