// Package metrics provides Prometheus instrumentation for tupleflow components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for tupleflow components.
type Registry struct {
	// Stage Metrics
	TuplesConsumed *prometheus.GaugeVec
	TuplesProduced *prometheus.GaugeVec
	StageState     *prometheus.GaugeVec
	StageFailures  *prometheus.CounterVec

	// Controller Metrics
	BreakpointsTriggered *prometheus.CounterVec
	PauseBarrierDuration prometheus.Histogram
	WorkflowsCompleted   prometheus.Counter

	// Bridge Metrics
	BatchesSubmitted *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
}

// DefaultRegistry is the default metrics registry used by tupleflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistryWithConfig(DefaultConfig())
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a metrics registry honoring config: a custom
// registerer, a namespace override, and constant labels stamped on every
// metric. With Enabled false the metrics are created but registered nowhere,
// so updating them is a no-op for scrapes.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if !config.Enabled {
		reg = nil
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = "tupleflow"
	}
	factory := promauto.With(reg)

	return &Registry{
		// Stage Metrics
		TuplesConsumed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "stage",
				Name:        "tuples_consumed",
				Help:        "Tuples consumed by a stage, summed across instances",
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),

		TuplesProduced: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "stage",
				Name:        "tuples_produced",
				Help:        "Tuples produced by a stage, summed across instances",
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),

		StageState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "stage",
				Name:        "state",
				Help:        "Most severe run state across a stage's instances",
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),

		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "stage",
				Name:        "failures_total",
				Help:        "Total number of fatal stage instance failures",
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),

		// Controller Metrics
		BreakpointsTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "controller",
				Name:        "breakpoints_triggered_total",
				Help:        "Total number of breakpoint matches",
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),

		PauseBarrierDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "controller",
				Name:        "pause_barrier_duration_seconds",
				Help:        "Time from pause broadcast to the last acknowledgement",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: config.Labels,
			},
		),

		WorkflowsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "controller",
				Name:        "workflows_completed_total",
				Help:        "Total number of workflows run to completion",
				ConstLabels: config.Labels,
			},
		),

		// Bridge Metrics
		BatchesSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "bridge",
				Name:        "batches_submitted_total",
				Help:        "Total number of batches submitted to external compute",
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),

		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "bridge",
				Name:        "batch_duration_seconds",
				Help:        "Time spent computing one submitted batch",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: config.Labels,
			},
			[]string{"stage"},
		),
	}
}
