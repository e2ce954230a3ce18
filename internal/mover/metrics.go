package mover

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics records move and cycle counters on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	moves       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	bytes       *prometheus.CounterVec
	planEntries prometheus.Gauge
	cycles      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierctl_moves_total",
			Help: "Moves attempted, by source tier, destination tier and outcome.",
		}, []string{"from", "to", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tierctl_move_duration_seconds",
			Help:    "Wall time of each move.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"from", "to"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierctl_bytes_moved_total",
			Help: "Bytes relocated by successful moves.",
		}, []string{"from", "to"}),
		planEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tierctl_plan_entries",
			Help: "Entries in the most recent plan.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierctl_cycles_total",
			Help: "Tiering cycles run, by mode.",
		}, []string{"mode"}),
	}
	m.Registry.MustRegister(
		m.moves, m.duration, m.bytes, m.planEntries, m.cycles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveMove records one executor result. A nil Metrics ignores it.
func (m *Metrics) ObserveMove(r Result, size int64) {
	if m == nil {
		return
	}
	from, to := r.Entry.From.String(), r.Entry.To.String()
	m.moves.WithLabelValues(from, to, r.Outcome.String()).Inc()
	m.duration.WithLabelValues(from, to).Observe(r.Duration.Seconds())
	if r.Outcome != Failed && r.Outcome != Skipped && size > 0 {
		m.bytes.WithLabelValues(from, to).Add(float64(size))
	}
}

// ObserveCycle records a completed cycle and its plan size.
func (m *Metrics) ObserveCycle(mode string, planned int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(mode).Inc()
	m.planEntries.Set(float64(planned))
}
