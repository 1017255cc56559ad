package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the gradebook API.
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
	saveDuration    *prometheus.HistogramVec
	importsTotal    *prometheus.CounterVec
	importedScores  prometheus.Counter
	exportsTotal    *prometheus.CounterVec
	openGradebooks  prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
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

	saveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gradebook_save_duration_seconds",
		Help:    "Duration of gradebook saves by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	importsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebook_imports_total",
		Help: "Gradebook imports by source and outcome",
	}, []string{"source", "outcome"})

	importedScores := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gradebook_imported_scores_total",
		Help: "Scores written by imports",
	})

	exportsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebook_exports_total",
		Help: "Gradebook exports by format and outcome",
	}, []string{"format", "outcome"})

	openGradebooks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gradebook_open_workspaces",
		Help: "Gradebooks currently held in memory",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		saveDuration, importsTotal, importedScores, exportsTotal, openGradebooks, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		saveDuration:    saveDuration,
		importsTotal:    importsTotal,
		importedScores:  importedScores,
		exportsTotal:    exportsTotal,
		openGradebooks:  openGradebooks,
	}
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
	labelStatus := strconv.Itoa(status)
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

// ObserveSave records a gradebook save attempt.
func (m *MetricsService) ObserveSave(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.saveDuration.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

// RecordImport counts an import and the scores it wrote.
func (m *MetricsService) RecordImport(source string, scores int, err error) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(source, outcome(err)).Inc()
	if err == nil && scores > 0 {
		m.importedScores.Add(float64(scores))
	}
}

// RecordExport counts a rendered export.
func (m *MetricsService) RecordExport(format string, err error) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(format, outcome(err)).Inc()
}

// SetOpenGradebooks reports the size of the workspace registry.
func (m *MetricsService) SetOpenGradebooks(n int) {
	if m == nil {
		return
	}
	m.openGradebooks.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
