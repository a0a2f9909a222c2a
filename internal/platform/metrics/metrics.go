package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the stream resolver. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	providerAttempts  *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	resolutionsTotal  *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	cacheEntries      prometheus.Gauge
	inFlight          prometheus.Gauge
	streamedBytes     prometheus.Counter
	preloadJobs       *prometheus.CounterVec
	preloadQueueDepth prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicy_http_requests_total",
			Help: "Total number of HTTP requests received, by route and status",
		}, []string{"route", "status"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicy_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx), by route",
		}, []string{"route"}),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicy_provider_attempts_total",
			Help: "Provider adapter calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "musicy_provider_attempt_seconds",
			Help:    "Latency of provider adapter calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		}, []string{"provider"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicy_resolutions_total",
			Help: "Completed resolutions by strategy mode and outcome",
		}, []string{"mode", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicy_cache_lookups_total",
			Help: "URL cache lookups by result (hit or miss)",
		}, []string{"result"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musicy_cache_entries",
			Help: "Number of entries held by the URL cache",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musicy_resolutions_in_flight",
			Help: "Resolutions currently waiting on providers",
		}),
		streamedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "musicy_streamed_bytes_total",
			Help: "Audio bytes relayed to clients",
		}),
		preloadJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicy_preload_jobs_total",
			Help: "Preload jobs by result",
		}, []string{"result"}),
		preloadQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musicy_preload_queue_depth",
			Help: "Preload jobs waiting for a worker",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.providerAttempts,
		m.attemptDuration,
		m.resolutionsTotal,
		m.cacheLookups,
		m.cacheEntries,
		m.inFlight,
		m.streamedBytes,
		m.preloadJobs,
		m.preloadQueueDepth,
	)
	return m
}

// ObserveRequest counts a finished HTTP request.
func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	if status >= 400 {
		m.errorsTotal.WithLabelValues(route).Inc()
	}
}

// ObserveAttempt records one provider call.
func (m *Metrics) ObserveAttempt(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.attemptDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) IncResolution(mode, outcome string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) AddStreamedBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.streamedBytes.Add(float64(n))
}

func (m *Metrics) IncPreloadJob(result string) {
	if m == nil {
		return
	}
	m.preloadJobs.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPreloadQueueDepth(n int) {
	if m == nil {
		return
	}
	m.preloadQueueDepth.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. cache entries).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
