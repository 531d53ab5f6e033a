// Package metrics provides Prometheus instrumentation for goadmit components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for goadmit components.
type Registry struct {
	// Admission pipeline metrics
	AdmissionChecks  *prometheus.CounterVec
	AdmissionAllowed *prometheus.CounterVec
	AdmissionDenied  *prometheus.CounterVec
	AdmissionLatency *prometheus.HistogramVec

	// Quota metrics
	QuotaConsumed *prometheus.CounterVec
	QuotaExceeded *prometheus.CounterVec

	// Violation metrics
	ViolationsRecorded *prometheus.CounterVec
	BansActive         prometheus.Gauge

	// Throttle metrics
	ThrottleLoad       prometheus.Gauge
	ThrottleRejections *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by goadmit components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		AdmissionChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "admission",
				Name:      "checks_total",
				Help:      "Total number of admission checks",
			},
			[]string{"algorithm"},
		),

		AdmissionAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "admission",
				Name:      "allowed_total",
				Help:      "Total number of allowed checks",
			},
			[]string{"algorithm"},
		),

		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "admission",
				Name:      "denied_total",
				Help:      "Total number of denied checks by reason",
			},
			[]string{"algorithm", "reason"},
		),

		AdmissionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "goadmit",
				Subsystem: "admission",
				Name:      "check_duration_seconds",
				Help:      "Time spent inside the admission pipeline",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"algorithm"},
		),

		QuotaConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "quota",
				Name:      "consumed_total",
				Help:      "Total quota units consumed",
			},
			[]string{"resource"},
		),

		QuotaExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "quota",
				Name:      "exceeded_total",
				Help:      "Total quota-exceeded rejections",
			},
			[]string{"resource"},
		),

		ViolationsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "violation",
				Name:      "recorded_total",
				Help:      "Total violations recorded by type",
			},
			[]string{"type"},
		),

		BansActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "goadmit",
				Subsystem: "violation",
				Name:      "bans_active",
				Help:      "Number of currently active bans",
			},
		),

		ThrottleLoad: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "goadmit",
				Subsystem: "throttle",
				Name:      "load",
				Help:      "Current normalized load factor",
			},
		),

		ThrottleRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goadmit",
				Subsystem: "throttle",
				Name:      "rejections_total",
				Help:      "Total throttle-stage rejections by reason",
			},
			[]string{"reason"},
		),
	}
}
