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
// integrations gateway.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	deliveryTotal   *prometheus.CounterVec
	deliveryLatency prometheus.Observer
	retryScheduled  prometheus.Counter
	syncDuration    *prometheus.HistogramVec
	syncRecords     *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
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

	deliveryTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"})

	deliveryLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Latency of outbound webhook deliveries",
		Buckets: prometheus.DefBuckets,
	})

	retryScheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_retries_scheduled_total",
		Help: "Total webhook retries scheduled",
	})

	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lms_sync_duration_seconds",
		Help:    "Duration of LMS sync operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "status"})

	syncRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_sync_records_total",
		Help: "LMS sync records by outcome",
	}, []string{"type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, deliveryTotal, deliveryLatency, retryScheduled, syncDuration, syncRecords, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		deliveryTotal:   deliveryTotal,
		deliveryLatency: deliveryLatency,
		retryScheduled:  retryScheduled,
		syncDuration:    syncDuration,
		syncRecords:     syncRecords,
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

// ObserveDelivery records one webhook delivery attempt.
func (m *MetricsService) ObserveDelivery(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !success {
		outcome = "failed"
	}
	m.deliveryTotal.WithLabelValues(outcome).Inc()
	m.deliveryLatency.Observe(duration.Seconds())
}

// ObserveRetryScheduled counts a scheduled webhook retry.
func (m *MetricsService) ObserveRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduled.Inc()
}

// ObserveSync records one sync operation outcome.
func (m *MetricsService) ObserveSync(syncType, status string, succeeded, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(syncType, status).Observe(duration.Seconds())
	m.syncRecords.WithLabelValues(syncType, "succeeded").Add(float64(succeeded))
	m.syncRecords.WithLabelValues(syncType, "failed").Add(float64(failed))
}
