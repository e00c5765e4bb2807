// Package obsmetrics exposes the process's Prometheus metrics: cycle
// duration and outcome, insight volume, and circuit-breaker state, so an
// operator can graph fleet health over time without querying the sqlite
// store directly.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this process registers. Construct one
// with NewMetrics and pass it down to the monitoring cycle and circuit
// registry.
type Metrics struct {
	CycleDuration          prometheus.Histogram
	CyclesTotal            *prometheus.CounterVec
	InsightsCreatedTotal   prometheus.Counter
	CircuitBreakerSkips    prometheus.Counter
	PreFilterCircuitSkips  prometheus.Counter
	ContainerFetchFailures prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
	ContainersTracked      *prometheus.GaugeVec
}

// NewMetrics constructs every collector without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a single monitoring cycle, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "cycles_total",
			Help:      "Total monitoring cycles, partitioned by outcome.",
		}, []string{"outcome"}),
		InsightsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "insights_created_total",
			Help:      "Total insight rows successfully committed across all cycles.",
		}),
		CircuitBreakerSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "circuit_breaker_skips_total",
			Help:      "Total per-endpoint container fetches abandoned mid-cycle because the circuit breaker tripped open during the call.",
		}),
		PreFilterCircuitSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "pre_filter_circuit_skips_total",
			Help:      "Total endpoints filtered out before the per-endpoint fan-out because their circuit breaker was already open.",
		}),
		ContainerFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "container_fetch_failures_total",
			Help:      "Total per-endpoint container fetch failures across all cycles.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsentinel",
			Subsystem: "circuit",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state per endpoint (0=closed, 1=half-open, 2=open).",
		}, []string{"endpoint_id"}),
		ContainersTracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsentinel",
			Subsystem: "monitoring",
			Name:      "containers_tracked",
			Help:      "Containers observed in the most recent snapshot, partitioned by state.",
		}, []string{"state"}),
	}
}

// Collectors returns every collector in registration order, for
// prometheus.Registry.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CycleDuration,
		m.CyclesTotal,
		m.InsightsCreatedTotal,
		m.CircuitBreakerSkips,
		m.PreFilterCircuitSkips,
		m.ContainerFetchFailures,
		m.CircuitBreakerState,
		m.ContainersTracked,
	}
}

// BreakerStateValue maps a circuit breaker's textual state to the numeric
// value CircuitBreakerState expects.
func BreakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
