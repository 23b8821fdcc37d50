// Package metrics provides Prometheus-based metrics collection for mapperctl.
// The controller records submissions, poll ticks and lifecycle state; the
// backend records HTTP traffic and launched scans.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all mapperctl metrics
	namespace = "mapperctl"

	// Subsystems
	subsystemLifecycle = "lifecycle"
	subsystemPoller    = "poller"
	subsystemBackend   = "backend"
	subsystemSystem    = "system"
	subsystemAPI       = "api"
)

// Lifecycle state values exported by the state gauge. They mirror the order
// of the lifecycle.State enum.
var stateNames = []string{"idle", "submitting", "running", "completed", "failed"}

// PrometheusMetrics holds all Prometheus metric collectors.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	// Lifecycle metrics
	submissions    *prometheus.CounterVec
	lifecycleState *prometheus.GaugeVec
	progress       prometheus.Gauge

	// Poller metrics
	pollTicks     *prometheus.CounterVec
	pollStale     prometheus.Counter
	pollDuration  prometheus.Histogram
	scanDurations prometheus.Histogram

	// Backend metrics
	scansLaunched *prometheus.CounterVec
	scanActive    prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initLifecycleMetrics()
	pm.initBackendMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initLifecycleMetrics initializes controller and poller metrics
func (pm *PrometheusMetrics) initLifecycleMetrics() {
	pm.submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLifecycle,
			Name:      "submissions_total",
			Help:      "Scan submissions by result (accepted, rejected, invalid, already_running, transport_error)",
		},
		[]string{"result"},
	)

	pm.lifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemLifecycle,
			Name:      "state",
			Help:      "Current lifecycle state; the active state is 1, all others 0",
		},
		[]string{"state"},
	)

	pm.progress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemLifecycle,
			Name:      "simulated_progress_percent",
			Help:      "Client-side simulated scan progress; an approximation, not backend telemetry",
		},
	)

	pm.pollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPoller,
			Name:      "ticks_total",
			Help:      "Status queries by outcome (in_progress, completed, error)",
		},
		[]string{"outcome"},
	)

	pm.pollStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPoller,
			Name:      "stale_responses_total",
			Help:      "Status responses discarded because a newer request or poller superseded them",
		},
	)

	pm.pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPoller,
			Name:      "query_duration_seconds",
			Help:      "Duration of status queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pm.scanDurations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemLifecycle,
			Name:      "scan_duration_seconds",
			Help:      "Time from acceptance to completion as observed by the poller",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)
}

// initBackendMetrics initializes backend launcher metrics
func (pm *PrometheusMetrics) initBackendMetrics() {
	pm.scansLaunched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBackend,
			Name:      "scans_launched_total",
			Help:      "Mapper launch attempts by result (started, invalid, already_running, failed)",
		},
		[]string{"result"},
	)

	pm.scanActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemBackend,
			Name:      "scan_in_progress",
			Help:      "1 while a mapper process is running",
		},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.submissions,
		pm.lifecycleState,
		pm.progress,
		pm.pollTicks,
		pm.pollStale,
		pm.pollDuration,
		pm.scanDurations,
		pm.scansLaunched,
		pm.scanActive,
		pm.httpRequests,
		pm.httpDuration,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Lifecycle Metrics Methods

// IncrementSubmissions counts a submission attempt by result
func (pm *PrometheusMetrics) IncrementSubmissions(result string) {
	if pm == nil {
		return
	}
	pm.submissions.WithLabelValues(result).Inc()
}

// SetLifecycleState marks state as the active lifecycle state
func (pm *PrometheusMetrics) SetLifecycleState(state string) {
	if pm == nil {
		return
	}
	for _, name := range stateNames {
		value := 0.0
		if name == state {
			value = 1
		}
		pm.lifecycleState.WithLabelValues(name).Set(value)
	}
}

// SetProgress records the simulated progress percentage
func (pm *PrometheusMetrics) SetProgress(percent int) {
	if pm == nil {
		return
	}
	pm.progress.Set(float64(percent))
}

// IncrementPollTicks counts a status query by outcome
func (pm *PrometheusMetrics) IncrementPollTicks(outcome string) {
	if pm == nil {
		return
	}
	pm.pollTicks.WithLabelValues(outcome).Inc()
}

// IncrementStaleResponses counts a discarded status response
func (pm *PrometheusMetrics) IncrementStaleResponses() {
	if pm == nil {
		return
	}
	pm.pollStale.Inc()
}

// RecordPollDuration records the latency of a status query
func (pm *PrometheusMetrics) RecordPollDuration(duration time.Duration) {
	if pm == nil {
		return
	}
	pm.pollDuration.Observe(duration.Seconds())
}

// RecordScanDuration records the observed duration of a completed scan
func (pm *PrometheusMetrics) RecordScanDuration(duration time.Duration) {
	if pm == nil {
		return
	}
	pm.scanDurations.Observe(duration.Seconds())
}

// Backend Metrics Methods

// IncrementScansLaunched counts a launch attempt by result
func (pm *PrometheusMetrics) IncrementScansLaunched(result string) {
	if pm == nil {
		return
	}
	pm.scansLaunched.WithLabelValues(result).Inc()
}

// SetScanInProgress records whether a mapper process is running
func (pm *PrometheusMetrics) SetScanInProgress(running bool) {
	if pm == nil {
		return
	}
	if running {
		pm.scanActive.Set(1)
		return
	}
	pm.scanActive.Set(0)
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	if pm == nil {
		return
	}
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
