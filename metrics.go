package jstimer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records registry activity as Prometheus metrics. It implements
// [prometheus.Collector], and must be registered by the caller.
//
// A nil *Metrics is valid, and records nothing.
type Metrics struct {
	scheduledTotal  *prometheus.CounterVec
	firedTotal      *prometheus.CounterVec
	clearedTotal    *prometheus.CounterVec
	panicsTotal     *prometheus.CounterVec
	guardedTotal    *prometheus.CounterVec
	active          *prometheus.GaugeVec
	guardedDuration prometheus.Histogram
}

var _ prometheus.Collector = (*Metrics)(nil)

// NewMetrics initializes a new [Metrics], with metric names prefixed by
// namespace (which may be empty).
//
// Example:
//
//	metrics := jstimer.NewMetrics("myapp")
//	prometheus.MustRegister(metrics)
//	r, err := jstimer.New(jstimer.WithMetrics(metrics))
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		scheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routines_scheduled_total",
				Help:      "Total number of routines registered, by kind.",
			},
			[]string{"kind"},
		),
		firedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routines_fired_total",
				Help:      "Total number of routine invocations started, by kind.",
			},
			[]string{"kind"},
		),
		clearedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routines_cleared_total",
				Help:      "Total number of timeouts and intervals cleared before completion, by kind.",
			},
			[]string{"kind"},
		),
		panicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routine_panics_total",
				Help:      "Total number of panics recovered from routines, by kind.",
			},
			[]string{"kind"},
		),
		guardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guarded_runs_total",
				Help:      "Total number of finished guarded runs, by outcome.",
			},
			[]string{"outcome"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routines_active",
				Help:      "Number of live registry entries, by kind.",
			},
			[]string{"kind"},
		),
		guardedDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "guarded_run_seconds",
				Help:      "Time spent waiting on guarded runs, in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	// pre-initialize label combinations, so they are exported from startup
	for _, kind := range [...]Kind{KindTimeout, KindInterval, KindGuarded} {
		m.scheduledTotal.WithLabelValues(kind.String())
		m.firedTotal.WithLabelValues(kind.String())
		m.panicsTotal.WithLabelValues(kind.String())
		m.active.WithLabelValues(kind.String())
	}
	m.clearedTotal.WithLabelValues(KindTimeout.String())
	m.clearedTotal.WithLabelValues(KindInterval.String())
	m.guardedTotal.WithLabelValues(RunCompleted.String())
	m.guardedTotal.WithLabelValues(RunTimedOut.String())

	return m
}

// Describe implements [prometheus.Collector].
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil {
		return
	}
	m.scheduledTotal.Describe(ch)
	m.firedTotal.Describe(ch)
	m.clearedTotal.Describe(ch)
	m.panicsTotal.Describe(ch)
	m.guardedTotal.Describe(ch)
	m.active.Describe(ch)
	m.guardedDuration.Describe(ch)
}

// Collect implements [prometheus.Collector].
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil {
		return
	}
	m.scheduledTotal.Collect(ch)
	m.firedTotal.Collect(ch)
	m.clearedTotal.Collect(ch)
	m.panicsTotal.Collect(ch)
	m.guardedTotal.Collect(ch)
	m.active.Collect(ch)
	m.guardedDuration.Collect(ch)
}

func (m *Metrics) scheduled(kind Kind) {
	if m == nil {
		return
	}
	m.scheduledTotal.WithLabelValues(kind.String()).Inc()
	m.active.WithLabelValues(kind.String()).Inc()
}

// removed decrements the active gauge, for an entry that was removed other
// than by clearing, e.g. a timeout that fired.
func (m *Metrics) removed(kind Kind) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(kind.String()).Dec()
}

func (m *Metrics) fired(kind Kind) {
	if m == nil {
		return
	}
	m.firedTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) cleared(kind Kind) {
	if m == nil {
		return
	}
	m.clearedTotal.WithLabelValues(kind.String()).Inc()
	m.active.WithLabelValues(kind.String()).Dec()
}

func (m *Metrics) panicked(kind Kind) {
	if m == nil {
		return
	}
	m.panicsTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) guardedOutcome(state RunState, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.guardedTotal.WithLabelValues(state.String()).Inc()
	m.guardedDuration.Observe(elapsed.Seconds())
}
