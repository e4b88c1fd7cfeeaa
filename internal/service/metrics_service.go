package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// approval workflow and the HTTP surface in front of it.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	transitionTotal *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	contentionRetry prometheus.Counter
}

// NewMetricsService registers the workflow collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "status_cache_hits_total",
		Help: "Total status cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "status_cache_misses_total",
		Help: "Total status cache misses",
	})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_transitions_total",
		Help: "Approval transition requests by action and outcome",
	}, []string{"action", "outcome"})

	dispatchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_dispatch_total",
		Help: "Notification dispatch attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	contentionRetry := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_contention_retries_total",
		Help: "Optimistic-concurrency retries during transition commits",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, transitionTotal, dispatchTotal, contentionRetry, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		transitionTotal: transitionTotal,
		dispatchTotal:   dispatchTotal,
		contentionRetry: contentionRetry,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup records a status cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordTransition records the outcome of one transition request.
func (m *MetricsService) RecordTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(action, outcome).Inc()
}

// RecordContentionRetry counts a guarded-update retry.
func (m *MetricsService) RecordContentionRetry() {
	if m == nil {
		return
	}
	m.contentionRetry.Inc()
}

// RecordDispatch records the outcome of one notification dispatch.
func (m *MetricsService) RecordDispatch(channel, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(channel, outcome).Inc()
}
