package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/forecast-blend-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream forecast calls per model and outcome category. Watch for: one model failing while others succeed.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per model. Watch for: p95 approaching the fetch timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the upstream provider. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Cache lookups by cache tier and result (hit/miss). Hit rate = hit/(hit+miss).
	CacheRequestsTotal *prometheus.CounterVec

	// Entries evicted by the capacity bound. Watch for: sustained evictions = max_entries too small.
	CacheEvictionsTotal *prometheus.CounterVec

	// Current entry count per in-memory cache tier.
	CacheEntries *prometheus.GaugeVec

	// Callers whose result came from a computation shared with other callers.
	CacheCoalescedTotal *prometheus.CounterVec

	// Warm runs, failed runs and run duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Blend computation latency including constituent fetches.
	BlendDuration prometheus.Histogram

	// Constituent models dropped from a blend because their fetch failed.
	BlendModelFailuresTotal *prometheus.CounterVec

	// Batch and comparison items by kind and outcome (success/error/cached).
	BatchItemsTotal *prometheus.CounterVec

	// Circuit breaker state per model: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Total forecast lookups. Watch for: traffic volume, rate() for QPS.
	ForecastQueriesTotal prometheus.Counter

	// Per-location query count (allow-list of resort slugs; others go to "other").
	ForecastQueriesByLocationTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream forecast calls by model and outcome",
		},
		[]string{"model", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream forecast latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream forecast calls",
		},
	)
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheRequestsTotal",
			Help: "Cache lookups by tier and result",
		},
		[]string{"cache", "result"},
	)
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries evicted to honor the capacity bound",
		},
		[]string{"cache"},
	)
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cacheEntries",
			Help: "Current number of entries per in-memory cache",
		},
		[]string{"cache"},
	)
	CacheCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheCoalescedTotal",
			Help: "Callers whose result came from a computation shared with other callers",
		},
		[]string{"cache"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120},
		},
	)
	BlendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blendDurationSeconds",
			Help:    "Blend computation latency in seconds including constituent fetches",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	BlendModelFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blendModelFailuresTotal",
			Help: "Constituent models excluded from a blend after a failed fetch",
		},
		[]string{"model"},
	)
	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchItemsTotal",
			Help: "Batch and comparison items by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per model: 0 closed, 1 half-open, 2 open",
		},
		[]string{"model"},
	)
	ForecastQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastQueriesTotal",
			Help: "Total number of forecast lookups",
		},
	)
	ForecastQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastQueriesByLocationTotal",
			Help: "Forecast queries by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheRequestsTotal, CacheEvictionsTotal, CacheEntries, CacheCoalescedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		BlendDuration, BlendModelFailuresTotal, BatchItemsTotal, CircuitBreakerState,
		ForecastQueriesTotal, ForecastQueriesByLocationTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterTrafficGauges registers windowed request and denial gauges backed by the
// HTTP traffic tracker. Safe to call more than once; only the first call registers.
func RegisterTrafficGauges(tracker *traffic.Tracker, window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(tracker.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(tracker.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordForecastQuery records a forecast lookup for the given location id.
func RecordForecastQuery(location string) {
	ForecastQueriesTotal.Inc()
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		ForecastQueriesByLocationTotal.WithLabelValues(loc).Inc()
	} else {
		ForecastQueriesByLocationTotal.WithLabelValues("other").Inc()
	}
}

// RecordCacheLookup counts a hit or miss for the named cache tier.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
