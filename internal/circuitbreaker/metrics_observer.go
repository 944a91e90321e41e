package circuitbreaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports breaker events as Prometheus metrics.
type PrometheusObserver struct {
	outcomes     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	currentState *prometheus.GaugeVec
	duration     *prometheus.HistogramVec
}

// NewPrometheusObserver creates the breaker metric vectors and registers
// them with reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_outcomes_total",
				Help:      "Total number of wrapped call outcomes",
			},
			[]string{"name", "result"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Total number of requests rejected while open",
			},
			[]string{"name"},
		),
		stateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state_changes_total",
				Help:      "Total number of state changes",
			},
			[]string{"name", "from", "to"},
		),
		currentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_call_duration_seconds",
				Help:      "Wrapped call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name", "result"},
		),
	}

	reg.MustRegister(o.outcomes, o.rejections, o.stateChanges, o.currentState, o.duration)
	return o
}

func (o *PrometheusObserver) OnStateChange(name string, from, to State) {
	o.stateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
	o.currentState.WithLabelValues(name).Set(float64(to))
}

func (o *PrometheusObserver) OnOutcome(name string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	o.outcomes.WithLabelValues(name, result).Inc()
	o.duration.WithLabelValues(name, result).Observe(duration.Seconds())
}

func (o *PrometheusObserver) OnRejection(name string) {
	o.rejections.WithLabelValues(name).Inc()
}
