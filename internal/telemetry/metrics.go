package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the refinery service.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	CostUSDTotal         *prometheus.CounterVec
	CacheEventTotal      *prometheus.CounterVec
	AdmissionDeniedTotal *prometheus.CounterVec
	FallbackTotal        *prometheus.CounterVec
	BudgetExceededTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics against reg. Passing a fresh
// registry keeps tests isolated; main uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_request_total",
			Help: "Total refinement attempts per backend and outcome.",
		}, []string{"backend", "outcome"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refinery_request_duration_ms",
			Help:    "Backend invocation duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"backend"}),

		CostUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_cost_usd_total",
			Help: "Estimated total cost in USD per backend.",
		}, []string{"backend"}),

		CacheEventTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_cache_events_total",
			Help: "Cache lookups by result (hit, miss).",
		}, []string{"event"}),

		AdmissionDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_admission_denied_total",
			Help: "Requests denied by the per-backend rate limiter.",
		}, []string{"backend"}),

		FallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refinery_fallback_total",
			Help: "Fallback invocations after a primary backend failure.",
		}, []string{"backend"}),

		BudgetExceededTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "refinery_budget_exceeded_total",
			Help: "Requests served while the daily budget was exceeded.",
		}),
	}
}

// ObserveAttempt records one backend invocation outcome.
func (m *Metrics) ObserveAttempt(backend string, success bool, durationMs float64, costUSD float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.RequestTotal.WithLabelValues(backend, outcome).Inc()
	m.RequestDurationMs.WithLabelValues(backend).Observe(durationMs)
	if costUSD > 0 {
		m.CostUSDTotal.WithLabelValues(backend).Add(costUSD)
	}
}

// ObserveCache records a cache lookup result.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.CacheEventTotal.WithLabelValues("hit").Inc()
	} else {
		m.CacheEventTotal.WithLabelValues("miss").Inc()
	}
}
