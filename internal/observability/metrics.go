package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report resolver activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	tactics     *prometheus.CounterVec
	excluded    *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns collectors registered once with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the resolver collectors with reg and panics on
// duplicate registration, like the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pinpoint",
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Resolve-and-act calls by outcome and the strategy that produced the acted candidate.",
			},
			[]string{"outcome", "strategy"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pinpoint",
				Subsystem: "resolver",
				Name:      "resolution_duration_seconds",
				Help:      "Wall time of resolve-and-act calls.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		tactics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pinpoint",
				Subsystem: "executor",
				Name:      "tactic_attempts_total",
				Help:      "Action tactics attempted, by tactic and result.",
			},
			[]string{"tactic", "result"},
		),
		excluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pinpoint",
				Subsystem: "exclusion",
				Name:      "candidates_excluded_total",
				Help:      "Candidates dropped by exclusion zones before scoring.",
			},
			[]string{"zone"},
		),
	}
	reg.MustRegister(m.resolutions, m.duration, m.tactics, m.excluded)
	return m
}

// ObserveResolution records a finished call. An empty outcome means success.
func (m *Metrics) ObserveResolution(outcome, strategy string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "success"
	}
	if strategy == "" {
		strategy = "none"
	}
	m.resolutions.WithLabelValues(outcome, strategy).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveTactic records one tactic attempt; result is "ok", "error" or "skipped".
func (m *Metrics) ObserveTactic(tactic, result string) {
	if m == nil {
		return
	}
	m.tactics.WithLabelValues(tactic, result).Inc()
}

// ObserveExcluded records a candidate dropped by the named zone.
func (m *Metrics) ObserveExcluded(zone string) {
	if m == nil {
		return
	}
	m.excluded.WithLabelValues(zone).Inc()
}
