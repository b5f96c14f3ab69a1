package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the converter.
// A nil *Metrics is valid and records nothing, which keeps tests free of
// registry setup.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	conversionsTotal   *prometheus.CounterVec
	rateLimitedTotal   prometheus.Counter
	upstreamBlocked    prometheus.Counter
	fallbacksTotal     prometheus.Counter
	bytesStreamedTotal prometheus.Counter
	trackedClients     prometheus.Gauge
	storedFiles        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the converter.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audioconv_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audioconv_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	conversionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audioconv_conversions_total",
		Help: "Deliveries by mode (direct, transcode, file) and outcome (ok, failed, aborted)",
	}, []string{"mode", "outcome"})
	rateLimitedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audioconv_rate_limited_total",
		Help: "Total number of requests rejected by admission control",
	})
	upstreamBlocked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audioconv_upstream_blocked_total",
		Help: "Total number of resolve attempts the upstream platform refused",
	})
	fallbacksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audioconv_fallbacks_total",
		Help: "Total number of transcode failures recovered by direct streaming",
	})
	bytesStreamedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audioconv_bytes_streamed_total",
		Help: "Total number of audio bytes written to clients",
	})
	trackedClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audioconv_rate_limit_tracked_clients",
		Help: "Number of client identities with an active rate limit window",
	})
	storedFiles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audioconv_stored_files",
		Help: "Number of transcoded files awaiting retrieval",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		conversionsTotal,
		rateLimitedTotal,
		upstreamBlocked,
		fallbacksTotal,
		bytesStreamedTotal,
		trackedClients,
		storedFiles,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		errorsTotal:        errorsTotal,
		conversionsTotal:   conversionsTotal,
		rateLimitedTotal:   rateLimitedTotal,
		upstreamBlocked:    upstreamBlocked,
		fallbacksTotal:     fallbacksTotal,
		bytesStreamedTotal: bytesStreamedTotal,
		trackedClients:     trackedClients,
		storedFiles:        storedFiles,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncConversions counts one finished delivery.
func (m *Metrics) IncConversions(mode, outcome string) {
	if m == nil {
		return
	}
	m.conversionsTotal.WithLabelValues(mode, outcome).Inc()
}

// IncRateLimited increments the admission rejection counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}

// IncUpstreamBlocked increments the upstream refusal counter.
func (m *Metrics) IncUpstreamBlocked() {
	if m == nil {
		return
	}
	m.upstreamBlocked.Inc()
}

// IncFallbacks increments the direct-streaming fallback counter.
func (m *Metrics) IncFallbacks() {
	if m == nil {
		return
	}
	m.fallbacksTotal.Inc()
}

// AddBytesStreamed adds n to the streamed bytes counter.
func (m *Metrics) AddBytesStreamed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesStreamedTotal.Add(float64(n))
}

// SetTrackedClients sets the tracked clients gauge.
func (m *Metrics) SetTrackedClients(n int) {
	if m == nil {
		return
	}
	m.trackedClients.Set(float64(n))
}

// SetStoredFiles sets the stored files gauge.
func (m *Metrics) SetStoredFiles(n int) {
	if m == nil {
		return
	}
	m.storedFiles.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
