package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the timetable API.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheLookups     *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	generatedEntries prometheus.Counter
	skippedEntries   prometheus.Counter
	publishToggles   *prometheus.CounterVec
	lockWaitDuration prometheus.Observer
	lockTimeouts     prometheus.Counter
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_cache_latency_seconds",
		Help:    "Latency for timetable view cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_cache_write_seconds",
		Help:    "Latency for timetable view cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_cache_lookups_total",
		Help: "Timetable view cache lookups by result",
	}, []string{"result"})

	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_conflicts_total",
		Help: "Rejected timetable entries by violated invariant",
	}, []string{"kind"})

	generatedEntries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_generated_entries_total",
		Help: "Entries persisted by timetable generation",
	})

	skippedEntries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_skipped_entries_total",
		Help: "Generated entries skipped because of cross-group clashes",
	})

	publishToggles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_publish_toggles_total",
		Help: "Publication changes by target state",
	}, []string{"state"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_group_lock_wait_seconds",
		Help:    "Time spent acquiring class group locks",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	lockTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_group_lock_timeouts_total",
		Help: "Class group lock acquisitions that timed out",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		conflicts, generatedEntries, skippedEntries, publishToggles, lockWait, lockTimeouts, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheLookups:     cacheLookups,
		conflicts:        conflicts,
		generatedEntries: generatedEntries,
		skippedEntries:   skippedEntries,
		publishToggles:   publishToggles,
		lockWaitDuration: lockWait,
		lockTimeouts:     lockTimeouts,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordConflict counts a rejected entry.
func (m *MetricsService) RecordConflict(kind models.ConflictKind) {
	if m == nil || kind == models.ConflictNone {
		return
	}
	m.conflicts.WithLabelValues(string(kind)).Inc()
}

// RecordGeneration counts the outcome of one generation run.
func (m *MetricsService) RecordGeneration(generated, skipped int) {
	if m == nil {
		return
	}
	m.generatedEntries.Add(float64(generated))
	m.skippedEntries.Add(float64(skipped))
}

// RecordPublish counts a publication change.
func (m *MetricsService) RecordPublish(published bool) {
	if m == nil {
		return
	}
	state := "draft"
	if published {
		state = "published"
	}
	m.publishToggles.WithLabelValues(state).Inc()
}

// ObserveLockWait records how long a group lock took, flagging timeouts.
func (m *MetricsService) ObserveLockWait(duration time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.lockWaitDuration.Observe(duration.Seconds())
	if timedOut {
		m.lockTimeouts.Inc()
	}
}
