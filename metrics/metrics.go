// Package metrics exposes Prometheus instrumentation for the balance engine:
// calculation pipeline outcomes, cache effectiveness, provider lookups,
// transfer application, store queries, and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the engine records.
type Collector struct {
	// Calculation pipeline
	CalculationsTotal   *prometheus.CounterVec // status: closed, open, error
	CalculationDuration prometheus.Histogram

	// Result cache
	CacheHitsTotal     *prometheus.CounterVec // space: balance, facility, kpi
	CacheMissesTotal   *prometheus.CounterVec
	CacheInvalidations prometheus.Counter

	// Measurement provider
	ProviderLookupsTotal *prometheus.CounterVec // outcome: hit, miss, error

	// Pump transfers
	TransfersPlannedTotal prometheus.Counter
	TransfersAppliedTotal prometheus.Counter
	TransfersSkippedTotal *prometheus.CounterVec // reason: duplicate, scope

	// Store
	StoreQueryDuration *prometheus.HistogramVec // query_type
	StoreErrorsTotal   *prometheus.CounterVec   // error_type

	// HTTP surface
	APIRequestsTotal   *prometheus.CounterVec // endpoint, method, status
	APIRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all engine metrics under the given namespace on reg.
// Pass prometheus.DefaultRegisterer for production wiring; tests pass a
// fresh prometheus.NewRegistry so repeated construction never collides.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		CalculationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calculations_total",
				Help:      "Balance calculations by closure status",
			},
			[]string{"status"},
		),

		CalculationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "calculation_duration_seconds",
				Help:      "Full pipeline duration per calculation",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
		),

		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Result cache hits by key space",
			},
			[]string{"space"},
		),

		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Result cache misses by key space",
			},
			[]string{"space"},
		),

		CacheInvalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Explicit clear-all invalidations",
			},
		),

		ProviderLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_lookups_total",
				Help:      "Measurement provider lookups by outcome",
			},
			[]string{"outcome"},
		),

		TransfersPlannedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_planned_total",
				Help:      "Pump transfers planned by the engine",
			},
		),

		TransfersAppliedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_applied_total",
				Help:      "Pump transfers applied to facility volumes",
			},
		),

		TransfersSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_skipped_total",
				Help:      "Pump transfers skipped by reason",
			},
			[]string{"reason"},
		),

		StoreQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_query_duration_seconds",
				Help:      "Store query duration by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		StoreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Store errors by type",
			},
			[]string{"error_type"},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
			},
			[]string{"endpoint"},
		),
	}
}

// NewNopCollector returns a collector bound to a throwaway registry.
func NewNopCollector() *Collector {
	return NewCollector("nop", prometheus.NewRegistry())
}

// Timer measures one operation against a histogram.
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer starts a timer that reports into the given observer.
func NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{start: time.Now(), observer: observer}
}

// ObserveDuration records the elapsed time since the timer started.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(d.Seconds())
	}
	return d
}

// RecordCalculation counts a finished calculation and its duration.
func (c *Collector) RecordCalculation(status string, d time.Duration) {
	c.CalculationsTotal.WithLabelValues(status).Inc()
	c.CalculationDuration.Observe(d.Seconds())
}

// RecordCacheHit counts a hit in the named key space.
func (c *Collector) RecordCacheHit(space string) {
	c.CacheHitsTotal.WithLabelValues(space).Inc()
}

// RecordCacheMiss counts a miss in the named key space.
func (c *Collector) RecordCacheMiss(space string) {
	c.CacheMissesTotal.WithLabelValues(space).Inc()
}

// RecordProviderLookup counts a measurement lookup outcome.
func (c *Collector) RecordProviderLookup(outcome string) {
	c.ProviderLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransferSkip counts a skipped transfer by reason.
func (c *Collector) RecordTransferSkip(reason string) {
	c.TransfersSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordStoreError counts a store failure by type.
func (c *Collector) RecordStoreError(errorType string) {
	c.StoreErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordAPIRequest counts a served HTTP request.
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}
