// Package metrics exposes Prometheus instrumentation for the arbitrage
// engine on a private registry, plus a small HTTP server for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crossarb"

// Metrics holds the engine's Prometheus collectors. All collectors are
// registered on a private registry so tests can run in parallel without
// duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	BookEvents        *prometheus.CounterVec
	StaleDrops        prometheus.Counter
	Opportunities     *prometheus.CounterVec
	Executions        *prometheus.CounterVec
	ExecutionsDropped prometheus.Counter
	BreakerStatus     prometheus.Gauge
	ConsecutiveErrors prometheus.Gauge
	DailyPnLCents     prometheus.Gauge
	OpenContracts     prometheus.Gauge
	DetectSeconds     prometheus.Histogram
	ExecuteSeconds    prometheus.Histogram
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_events_total",
			Help:      "Order book events applied to the cache.",
		}, []string{"venue"}),
		StaleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_events_stale_total",
			Help:      "Order book events dropped for stale sequence numbers.",
		}),
		Opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Arbitrage opportunities detected.",
		}, []string{"strategy"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution attempts by terminal state.",
		}, []string{"state"}),
		ExecutionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_dropped_total",
			Help:      "Opportunities dropped because all execution slots were busy.",
		}),
		BreakerStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_status",
			Help:      "Circuit breaker status (0 normal, 1 cooldown, 2 halted).",
		}),
		ConsecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_consecutive_errors",
			Help:      "Current consecutive execution error count.",
		}),
		DailyPnLCents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl_cents",
			Help:      "Realized profit and loss since the last UTC day roll.",
		}),
		OpenContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_contracts",
			Help:      "Sum of absolute open contract counts across all books.",
		}),
		DetectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_seconds",
			Help:      "Detector scan latency per touched pair.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		ExecuteSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_seconds",
			Help:      "Execution round-trip time from dispatch to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 4, 10),
		}),
	}

	m.registry.MustRegister(
		m.BookEvents,
		m.StaleDrops,
		m.Opportunities,
		m.Executions,
		m.ExecutionsDropped,
		m.BreakerStatus,
		m.ConsecutiveErrors,
		m.DailyPnLCents,
		m.OpenContracts,
		m.DetectSeconds,
		m.ExecuteSeconds,
	)
	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
