package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the server. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	syncPasses     *prometheus.CounterVec
	syncRecords    *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	providerErrors *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		syncPasses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_sync_passes_total",
				Help: "Transaction sync passes by outcome.",
			},
			[]string{"status"},
		),
		syncRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_sync_transactions_total",
				Help: "Provider transaction records applied by kind.",
			},
			[]string{"kind"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "budgeteer_sync_duration_seconds",
				Help:    "Duration of a single item sync pass.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_provider_errors_total",
				Help: "Failed calls to the bank data provider.",
			},
			[]string{"operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordSyncPass records the outcome and duration of one item pass.
func (m *Metrics) RecordSyncPass(status string, d time.Duration) {
	m.syncPasses.WithLabelValues(status).Inc()
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) AddSyncRecords(kind string, n int) {
	if n > 0 {
		m.syncRecords.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) IncrProviderError(operation string) {
	m.providerErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}
