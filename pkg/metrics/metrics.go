// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for go-encstore.
// It exposes operation counters, latency histograms, error counters and
// resource gauges for the crypto manager, the encrypted store and the
// REST server.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all encstore metrics
	Namespace = "encstore"

	// Label names
	LabelOperation  = "operation"
	LabelProvider   = "provider"
	LabelBackend    = "backend"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpProvision   = "provision"
	OpEncrypt     = "encrypt"
	OpDecrypt     = "decrypt"
	OpPut         = "put"
	OpGet         = "get"
	OpContains    = "contains"
	OpRemove      = "remove"
	OpClear       = "clear"
	OpWatch       = "watch"
	OpHealthCheck = "health_check"

	// Error types
	ErrorTypeAuthentication = "authentication_failure"
	ErrorTypeProviderFault  = "provider_fault"
	ErrorTypeConfiguration  = "invalid_configuration"
	ErrorTypeInternal       = "internal"
	ErrorTypeUnknown        = "unknown"
)

var (
	// OperationsTotal tracks the total number of operations by type, provider, and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of encstore operations by type, provider, and status",
		},
		[]string{LabelOperation, LabelProvider, LabelStatus},
	)

	// OperationDuration tracks the duration of operations in seconds,
	// including time spent in retry backoff.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of encstore operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation, LabelProvider},
	)

	// ErrorsTotal tracks errors by operation, provider, and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, provider, and error type",
		},
		[]string{LabelOperation, LabelProvider, LabelErrorType},
	)

	// RetryAttemptsTotal counts attempts that failed with a provider fault
	// and were followed by a backoff.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retried provider faults by operation",
		},
		[]string{LabelOperation},
	)

	// WatchSubscribers tracks the number of open watch subscriptions.
	WatchSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "watch_subscribers",
			Help:      "Number of open watch subscriptions",
		},
	)

	// ActiveConnections tracks the number of in-flight requests by protocol.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC stop-the-world pauses.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// EntriesTotal tracks the number of encrypted entries per storage backend.
	EntriesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "entries_total",
			Help:      "Number of encrypted entries in each storage backend",
		},
		[]string{LabelBackend},
	)

	// ProviderHealthy indicates whether a key provider is healthy (1) or unhealthy (0).
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "provider_healthy",
			Help:      "Indicates whether a key provider is healthy (1) or unhealthy (0)",
		},
		[]string{LabelProvider},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	ct, err := mgr.Encrypt(ctx, plaintext, name)
//	status := metrics.StatusSuccess
//	if err != nil {
//	    status = metrics.StatusError
//	}
//	metrics.RecordOperation(metrics.OpEncrypt, "awskms", status, time.Since(start).Seconds())
func RecordOperation(operation, provider, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, provider, status).Inc()
	OperationDuration.WithLabelValues(operation, provider).Observe(duration)
}

// RecordError records an error event. Use the ErrorType* constants.
func RecordError(operation, provider, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, provider, errorType).Inc()
}

// RecordRetry records one retried provider fault.
func RecordRetry(operation string) {
	if !enabled.Load() {
		return
	}
	RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// WatchOpened increments the open watch gauge.
func WatchOpened() {
	if !enabled.Load() {
		return
	}
	WatchSubscribers.Inc()
}

// WatchClosed decrements the open watch gauge.
func WatchClosed() {
	if !enabled.Load() {
		return
	}
	WatchSubscribers.Dec()
}

// SetEntriesTotal sets the number of entries for a storage backend.
func SetEntriesTotal(backend string, count float64) {
	if !enabled.Load() {
		return
	}
	EntriesTotal.WithLabelValues(backend).Set(count)
}

// SetProviderHealth sets the health status of a key provider.
// healthy=true sets the gauge to 1, healthy=false sets it to 0.
func SetProviderHealth(provider string, healthy bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	ProviderHealthy.WithLabelValues(provider).Set(value)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
