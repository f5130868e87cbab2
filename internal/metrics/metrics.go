// Package metrics exposes Prometheus collectors for the migration engine on
// a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Apply outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	MigrationsApplied prometheus.Counter
	ApplyRuns         *prometheus.CounterVec
	ApplyDuration     prometheus.Histogram
	LazyTriggers      prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "txmigrate"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MigrationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_applied_total",
			Help:      "Migrations committed by this process",
		}),
		ApplyRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_runs_total",
			Help:      "Apply passes by outcome",
		}, []string{"outcome"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Duration of apply passes in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		LazyTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lazy_migrations_total",
			Help:      "Apply passes triggered by a stale-schema signal",
		}),
	}
	reg.MustRegister(m.MigrationsApplied, m.ApplyRuns, m.ApplyDuration, m.LazyTriggers)
	return m
}

// ObserveApply is nil-safe so callers can leave metrics unset.
func (m *Metrics) ObserveApply(outcome string, applied int, took time.Duration) {
	if m == nil {
		return
	}
	m.ApplyRuns.WithLabelValues(outcome).Inc()
	m.ApplyDuration.Observe(took.Seconds())
	if applied > 0 {
		m.MigrationsApplied.Add(float64(applied))
	}
}

func (m *Metrics) ObserveLazyTrigger() {
	if m == nil {
		return
	}
	m.LazyTriggers.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
