package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frontdoor"

// Metrics collects application metrics.
type Metrics interface {
	RecordRequest(method, route string, status int, duration time.Duration)
	RecordManifestCache(hit bool)
	RecordManifestFetch(outcome string)
	RecordManifestRetry()
	RecordProviderLoad(provider, outcome string)
	SetLoadedProviders(n int)
	RecordInference(provider, outcome string, duration time.Duration)
}

// PrometheusMetrics implements Metrics with Prometheus collectors on a private registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       prometheus.Histogram
	cacheEvents        *prometheus.CounterVec
	manifestFetches    *prometheus.CounterVec
	manifestRetries    prometheus.Counter
	providerLoads      *prometheus.CounterVec
	loadedProviders    prometheus.Gauge
	inferences         *prometheus.CounterVec
	inferenceDurations *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all collectors. A nil registry
// gets a fresh one with the Go runtime and process collectors attached.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &PrometheusMetrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_cache_events_total",
			Help:      "Manifest cache lookups by result",
		}, []string{"result"}),
		manifestFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_fetch_total",
			Help:      "Manifest fetches from the control tower by outcome",
		}, []string{"outcome"}),
		manifestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_fetch_retries_total",
			Help:      "Retried control tower requests",
		}),
		providerLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_loads_total",
			Help:      "Provider instance loads by provider and outcome",
		}, []string{"provider", "outcome"}),
		loadedProviders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_providers",
			Help:      "Number of cached provider instances",
		}),
		inferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_total",
			Help:      "Inference calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		inferenceDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference call latency including provider load",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.cacheEvents,
		m.manifestFetches,
		m.manifestRetries,
		m.providerLoads,
		m.loadedProviders,
		m.inferences,
		m.inferenceDurations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordManifestCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheEvents.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordManifestFetch(outcome string) {
	m.manifestFetches.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordManifestRetry() {
	m.manifestRetries.Inc()
}

func (m *PrometheusMetrics) RecordProviderLoad(provider, outcome string) {
	m.providerLoads.WithLabelValues(provider, outcome).Inc()
}

func (m *PrometheusMetrics) SetLoadedProviders(n int) {
	m.loadedProviders.Set(float64(n))
}

func (m *PrometheusMetrics) RecordInference(provider, outcome string, duration time.Duration) {
	m.inferences.WithLabelValues(provider, outcome).Inc()
	m.inferenceDurations.WithLabelValues(provider).Observe(duration.Seconds())
}

// NoopMetrics discards every measurement
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(string, string, int, time.Duration) {}
func (NoopMetrics) RecordManifestCache(bool)                         {}
func (NoopMetrics) RecordManifestFetch(string)                       {}
func (NoopMetrics) RecordManifestRetry()                             {}
func (NoopMetrics) RecordProviderLoad(string, string)                {}
func (NoopMetrics) SetLoadedProviders(int)                           {}
func (NoopMetrics) RecordInference(string, string, time.Duration)    {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
