package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the map server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	photosLoaded     prometheus.Gauge
	photosDropped    prometheus.Counter
	steps            *prometheus.CounterVec
	echoesSuppressed prometheus.Counter
	geocodeRequests  prometheus.Counter
	geocodeErrors    prometheus.Counter
	labelCacheHits   prometheus.Counter
	eventSubscribers prometheus.Gauge
	requests         *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		photosLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripmap_photos_loaded",
			Help: "Number of valid photos in the current manifest",
		}),
		photosDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripmap_photos_dropped_total",
			Help: "Manifest records dropped for missing coordinates or time",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripmap_active_photo_changes_total",
			Help: "Active photo changes by trigger",
		}, []string{"reason"}),
		echoesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripmap_time_control_echoes_suppressed_total",
			Help: "Time control notifications ignored because the controller caused them",
		}),
		geocodeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripmap_geocode_requests_total",
			Help: "Reverse geocode requests sent",
		}),
		geocodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripmap_geocode_errors_total",
			Help: "Reverse geocode requests that failed (excluding cancellations)",
		}),
		labelCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripmap_label_cache_hits_total",
			Help: "Place labels served from the location cache",
		}),
		eventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripmap_event_subscribers",
			Help: "Connected render event streams",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripmap_http_requests_total",
			Help: "HTTP requests by status class",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.photosLoaded,
		m.photosDropped,
		m.steps,
		m.echoesSuppressed,
		m.geocodeRequests,
		m.geocodeErrors,
		m.labelCacheHits,
		m.eventSubscribers,
		m.requests,
	)
	return m
}

func (m *Metrics) SetPhotosLoaded(n int) {
	if m == nil {
		return
	}
	m.photosLoaded.Set(float64(n))
}

func (m *Metrics) AddPhotosDropped(n int) {
	if m == nil {
		return
	}
	m.photosDropped.Add(float64(n))
}

func (m *Metrics) IncActiveChange(reason string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncEchoSuppressed() {
	if m == nil {
		return
	}
	m.echoesSuppressed.Inc()
}

func (m *Metrics) IncGeocodeRequests() {
	if m == nil {
		return
	}
	m.geocodeRequests.Inc()
}

func (m *Metrics) IncGeocodeErrors() {
	if m == nil {
		return
	}
	m.geocodeErrors.Inc()
}

func (m *Metrics) IncLabelCacheHits() {
	if m == nil {
		return
	}
	m.labelCacheHits.Inc()
}

func (m *Metrics) SetEventSubscribers(n int) {
	if m == nil {
		return
	}
	m.eventSubscribers.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusWriter captures the status code for metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the wrapper
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestMiddleware returns chi-compatible middleware that counts requests
// by status class
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			m.requests.WithLabelValues(fmt.Sprintf("%dxx", wrap.status/100)).Inc()
		})
	}
}
