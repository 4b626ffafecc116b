package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuotesTotal counts quote requests by outcome (ok, unshippable, zone_not_found, error).
	QuotesTotal *prometheus.CounterVec
	// QuoteServiceFailures counts services excluded from a quote, by reason code.
	QuoteServiceFailures *prometheus.CounterVec
	// QuoteCacheTotal counts quote cache lookups (hit, miss, error).
	QuoteCacheTotal *prometheus.CounterVec
	// SnapshotReloadsTotal counts entity snapshot reloads by outcome.
	SnapshotReloadsTotal *prometheus.CounterVec
	// SnapshotBuildDuration records how long loading and indexing a snapshot takes.
	SnapshotBuildDuration prometheus.Histogram
	// SnapshotVersion exposes the version of the snapshot currently served.
	SnapshotVersion prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Count of quote requests by outcome.",
		}, []string{"result"})
		QuoteServiceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_service_failures_total",
			Help:      "Count of shipping services excluded from quotes by reason.",
		}, []string{"reason"})
		QuoteCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_cache_total",
			Help:      "Count of quote cache lookups by result.",
		}, []string{"result"})
		SnapshotReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_reloads_total",
			Help:      "Count of rate snapshot reloads by outcome.",
		}, []string{"result"})
		SnapshotBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_build_duration_ms",
			Help:      "Time spent loading and indexing rate entities in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		})
		SnapshotVersion = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the rate snapshot currently in use.",
		})

		mustRegisterCollector(reg, QuotesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuotesTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteServiceFailures, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteServiceFailures = v
			}
		})
		mustRegisterCollector(reg, QuoteCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteCacheTotal = v
			}
		})
		mustRegisterCollector(reg, SnapshotReloadsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SnapshotReloadsTotal = v
			}
		})
		mustRegisterCollector(reg, SnapshotBuildDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				SnapshotBuildDuration = v
			}
		})
		mustRegisterCollector(reg, SnapshotVersion, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				SnapshotVersion = v
			}
		})
	})
}

// ObserveQuote increments the quote outcome counter when domain metrics are registered.
func ObserveQuote(result string) {
	if QuotesTotal != nil {
		QuotesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveServiceFailure records a service dropped from a quote.
func ObserveServiceFailure(reason string) {
	if QuoteServiceFailures != nil {
		QuoteServiceFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveQuoteCache records a cache lookup result.
func ObserveQuoteCache(result string) {
	if QuoteCacheTotal != nil {
		QuoteCacheTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSnapshotReload records a reload outcome and, on success, its duration and version.
func ObserveSnapshotReload(result string, durationMs float64, version uint64) {
	if SnapshotReloadsTotal != nil {
		SnapshotReloadsTotal.WithLabelValues(result).Inc()
	}
	if result != "ok" {
		return
	}
	if SnapshotBuildDuration != nil {
		SnapshotBuildDuration.Observe(durationMs)
	}
	if SnapshotVersion != nil {
		SnapshotVersion.Set(float64(version))
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
