package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Form engine metrics
	FormSessionsStarted *prometheus.CounterVec
	FormStepsAdvanced   *prometheus.CounterVec
	FormStepsRejected   *prometheus.CounterVec
	FormSubmissions     *prometheus.CounterVec
	FormSessionsActive  prometheus.Gauge

	// Session metrics
	Logins        *prometheus.CounterVec
	SessionsEnded *prometheus.CounterVec

	// Backend metrics
	BackendOperations *prometheus.CounterVec
	BackendLatency    *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates all application metrics on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		FormSessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "sessions_started_total",
			Help:      "Total number of form sessions started",
		}, []string{"form"}),
		FormStepsAdvanced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "steps_advanced_total",
			Help:      "Total number of accepted step advances",
		}, []string{"form", "step"}),
		FormStepsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "steps_rejected_total",
			Help:      "Total number of advances rejected for missing fields",
		}, []string{"form", "step"}),
		FormSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "submissions_total",
			Help:      "Total number of terminal submissions by outcome",
		}, []string{"form", "status"}),
		FormSessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "sessions_active",
			Help:      "Current number of live form sessions",
		}),

		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Total number of login attempts by session kind and outcome",
		}, []string{"kind", "outcome"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions ended by reason",
		}, []string{"kind", "reason"}),

		BackendOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "operations_total",
			Help:      "Total number of backend operations",
		}, []string{"operation", "status"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "operation_duration_seconds",
			Help:      "Duration of backend operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),

		registry: reg,
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Register adds extra collectors, such as the router's request metrics.
func (m *Metrics) Register(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}
