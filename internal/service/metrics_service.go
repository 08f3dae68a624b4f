package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// the projection cache and the enrollment lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	attendanceMutations *prometheus.CounterVec
	presenceRecomputes  *prometheus.CounterVec
	paymentTransitions  *prometheus.CounterVec
	verificationPartial prometheus.Counter
	certificates        *prometheus.CounterVec
	certificateArtifact *prometheus.CounterVec
	notifications       *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_hit_ratio",
			Help: "Ratio of cache hits to total cache lookups",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		attendanceMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_mutations_total",
			Help: "Attendance ledger writes by operation",
		}, []string{"operation"}),
		presenceRecomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_recomputes_total",
			Help: "Present day counter recomputations by outcome",
		}, []string{"result"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Applied payment status transitions",
		}, []string{"source", "from", "to"}),
		verificationPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_verification_partial_total",
			Help: "Payment updates whose enrollment update could not be applied",
		}),
		certificates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certificates_issued_total",
			Help: "Certificate upserts by result",
		}, []string{"result"}),
		certificateArtifact: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certificate_artifacts_total",
			Help: "Certificate artifact attachments by result",
		}, []string{"source", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Participant notifications by template and result",
		}, []string{"template", "result"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheWrite, m.cacheHitRatio, m.cacheHits, m.cacheMisses,
		m.attendanceMutations, m.presenceRecomputes, m.paymentTransitions, m.verificationPartial,
		m.certificates, m.certificateArtifact, m.notifications, goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheOperation records cache hit/miss metrics and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordAttendanceMutation counts a ledger write (create, update, delete).
func (m *MetricsService) RecordAttendanceMutation(operation string) {
	if m == nil {
		return
	}
	m.attendanceMutations.WithLabelValues(operation).Inc()
}

// RecordPresenceRecompute counts a counter rebuild (written, vanished, failed).
func (m *MetricsService) RecordPresenceRecompute(result string) {
	if m == nil {
		return
	}
	m.presenceRecomputes.WithLabelValues(result).Inc()
}

// RecordPaymentTransition counts an applied payment status change.
func (m *MetricsService) RecordPaymentTransition(source, from, to string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(source, from, to).Inc()
}

// RecordVerificationPartial counts payment and enrollment divergence.
func (m *MetricsService) RecordVerificationPartial() {
	if m == nil {
		return
	}
	m.verificationPartial.Inc()
}

// RecordCertificate counts a certificate upsert (created or updated).
func (m *MetricsService) RecordCertificate(result string) {
	if m == nil {
		return
	}
	m.certificates.WithLabelValues(result).Inc()
}

// RecordCertificateArtifact counts an artifact attach attempt.
func (m *MetricsService) RecordCertificateArtifact(source, result string) {
	if m == nil {
		return
	}
	m.certificateArtifact.WithLabelValues(source, result).Inc()
}

// RecordNotification counts a notification outcome (queued, sent, failed, dropped).
func (m *MetricsService) RecordNotification(template, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(template, result).Inc()
}
