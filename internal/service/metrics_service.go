package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
)

// Reservation outcomes used as the result label of slot_reservations_total.
const (
	ReservationOK         = "ok"
	ReservationNoCapacity = "no_capacity"
	ReservationError      = "error"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and booking paths.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	slotReservations *prometheus.CounterVec
	slotReleases     prometheus.Counter
	transitions      *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	tickChanges      *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers collectors on a private registry.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	slotReservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_reservations_total",
		Help: "Slot reservation attempts by outcome",
	}, []string{"result"})

	slotReleases := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_releases_total",
		Help: "Slots returned to capacity",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_transitions_total",
		Help: "Appointment status transitions",
	}, []string{"from", "to"})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "subscription_tick_duration_seconds",
		Help:    "Duration of subscription status sweeps",
		Buckets: prometheus.DefBuckets,
	})

	tickChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_tick_changes_total",
		Help: "Rows changed by subscription sweeps by kind",
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		slotReservations, slotReleases, transitions, tickDuration, tickChanges,
		goroutines,
	)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		slotReservations: slotReservations,
		slotReleases:     slotReleases,
		transitions:      transitions,
		tickDuration:     tickDuration,
		tickChanges:      tickChanges,
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
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

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
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
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
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

// RecordReservation counts one reserve attempt.
func (m *MetricsService) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.slotReservations.WithLabelValues(result).Inc()
}

// RecordRelease counts one released slot.
func (m *MetricsService) RecordRelease() {
	if m == nil {
		return
	}
	m.slotReleases.Inc()
}

// RecordTransition counts an applied status change.
func (m *MetricsService) RecordTransition(from, to models.AppointmentStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveSubscriptionTick records a completed sweep.
func (m *MetricsService) ObserveSubscriptionTick(report *models.SubscriptionTickReport, duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(duration.Seconds())
	if report == nil {
		return
	}
	m.tickChanges.WithLabelValues("expired").Add(float64(report.Expired))
	m.tickChanges.WithLabelValues("activated").Add(float64(report.Activated))
	m.tickChanges.WithLabelValues("superseded").Add(float64(report.Superseded))
	m.tickChanges.WithLabelValues("hidden_churches").Add(float64(report.HiddenChurches))
}
