package billing

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "lms"
	metricsSubsystem = "billing"
)

// Metrics groups the billing collectors. Each instance owns its registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	actions         *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	sweepDuration   prometheus.Histogram
}

// NewMetrics registers the billing collectors, plus the Go runtime and
// process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "webhook_events_total",
			Help:      "Stripe webhook deliveries by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		webhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "webhook_duration_seconds",
			Help:      "Stripe webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "actions_total",
			Help:      "User and admin billing actions by action and result kind.",
		}, []string{"action", "result"}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sweep_runs_total",
			Help:      "Expiry sweep runs by result.",
		}, []string{"result"}),
		sweepExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sweep_expired_total",
			Help:      "Subscriptions canceled by the expiry sweep.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sweep_duration_seconds",
			Help:      "Expiry sweep duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 600},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeWebhook(eventType, outcome string, took time.Duration) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
	m.webhookDuration.WithLabelValues(eventType).Observe(took.Seconds())
}

func (m *Metrics) observeAction(action, result string) {
	m.actions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) observeSweep(expired int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepExpired.Add(float64(expired))
	m.sweepDuration.Observe(took.Seconds())
}
