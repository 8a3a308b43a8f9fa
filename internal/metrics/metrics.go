package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GuardDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealgate_guard_decision_total",
			Help: "Count of route guard outcomes (allow/login/home/forbidden)",
		},
		[]string{"outcome"},
	)
	GuardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mealgate_guard_duration_seconds",
			Help:    "Latency of route guard evaluation, remote lookups included",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
	CSRFTokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mealgate_csrf_tokens_issued_total",
			Help: "CSRF tokens generated",
		},
	)
	CSRFFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealgate_csrf_failures_total",
			Help: "CSRF verifications that failed",
		},
		[]string{"reason"},
	)
	ValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealgate_validation_failures_total",
			Help: "Rejected form inputs by declared kind",
		},
		[]string{"kind"},
	)
	PlatformRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealgate_platform_request_duration_seconds",
			Help:    "Latency of outbound calls to the remote platform",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "status"},
	)
	PlatformCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mealgate_platform_circuit_state",
			Help: "Platform circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)
	PlatformCircuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealgate_platform_circuit_transitions_total",
			Help: "Platform circuit breaker state changes",
		},
		[]string{"backend", "from", "to"},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "mealgate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.3.0"},
		},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default registry. Safe to call twice.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(GuardDecision, GuardDuration, CSRFTokensIssued, CSRFFailures,
			ValidationFailures, PlatformRequestDuration, PlatformCircuitState, PlatformCircuitTransitions, BuildInfo)
		BuildInfo.Set(1)
	})
}
