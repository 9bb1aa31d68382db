// Package observability provides logging, metrics, and tracing for the
// task pipeline worker process, integrated with OpenTelemetry and
// Prometheus.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts admin-surface HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests to the admin surface",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records admin-surface request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// EngineRequestsTotal counts engine calls by adapter name and outcome.
	EngineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_requests_total",
			Help: "Total number of engine adapter calls by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)
	// EngineRequestDuration records durations of engine adapter calls.
	EngineRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_request_duration_seconds",
			Help:    "Engine adapter call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"adapter"},
	)

	// TasksEnqueuedTotal counts tasks enqueued by priority.
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"priority"},
	)
	// TasksProcessing is a gauge of tasks currently being processed, by priority.
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently processing",
		},
		[]string{"priority"},
	)
	// TasksCompletedTotal counts tasks completed by priority.
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"priority"},
	)
	// TasksFailedTotal counts tasks failed by priority and error code.
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks failed",
		},
		[]string{"priority", "error_code"},
	)
	// TasksRetriedTotal counts retry attempts by priority.
	TasksRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_retried_total",
			Help: "Total number of task retry attempts",
		},
		[]string{"priority"},
	)
	// TasksDeadLetteredTotal counts tasks moved to the dead-letter queue.
	TasksDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_dead_lettered_total",
			Help: "Total number of tasks moved to the dead-letter queue",
		},
		[]string{"priority"},
	)

	// TokenUsageTotal tracks model token consumption by adapter and kind.
	TokenUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_tokens_total",
			Help: "Total tokens consumed by adapter and token kind",
		},
		[]string{"adapter", "kind"},
	)

	// CircuitBreakerStatus tracks per-adapter circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"adapter"},
	)

	// InflightTasks is a gauge of tasks currently tracked by the consumer's InflightSet.
	InflightTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inflight_tasks",
			Help: "Number of tasks currently tracked in the in-memory inflight set",
		},
	)

	// ConnectionReconnects counts successful broker connections, the initial
	// one included.
	ConnectionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total number of successful broker connections, including the initial one",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EngineRequestsTotal,
		EngineRequestDuration,
		TasksEnqueuedTotal,
		TasksProcessing,
		TasksCompletedTotal,
		TasksFailedTotal,
		TasksRetriedTotal,
		TasksDeadLetteredTotal,
		TokenUsageTotal,
		CircuitBreakerStatus,
		InflightTasks,
		ConnectionReconnects,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each admin-surface request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueTask increments the enqueued tasks counter for the given priority.
func EnqueueTask(priority string) { TasksEnqueuedTotal.WithLabelValues(priority).Inc() }

// StartProcessingTask increments the processing gauge for the given priority.
func StartProcessingTask(priority string) { TasksProcessing.WithLabelValues(priority).Inc() }

// CompleteTask marks a task complete: decrements the processing gauge, increments completed.
func CompleteTask(priority string) {
	TasksProcessing.WithLabelValues(priority).Dec()
	TasksCompletedTotal.WithLabelValues(priority).Inc()
}

// FailTask marks a task failed: decrements the processing gauge, increments failed by error code.
func FailTask(priority, errorCode string) {
	TasksProcessing.WithLabelValues(priority).Dec()
	TasksFailedTotal.WithLabelValues(priority, errorCode).Inc()
}

// RecordRetry increments the retry counter for the given priority.
func RecordRetry(priority string) { TasksRetriedTotal.WithLabelValues(priority).Inc() }

// RecordDeadLettered increments the dead-letter counter for the given priority.
func RecordDeadLettered(priority string) { TasksDeadLetteredTotal.WithLabelValues(priority).Inc() }

// RecordTokenUsage records model token consumption.
func RecordTokenUsage(adapter, kind string, tokens int) {
	TokenUsageTotal.WithLabelValues(adapter, kind).Add(float64(tokens))
}

// RecordCircuitBreakerStatus records circuit breaker state (0/1/2).
func RecordCircuitBreakerStatus(adapter string, status int) {
	CircuitBreakerStatus.WithLabelValues(adapter).Set(float64(status))
}

// RecordEngineCall records the outcome and duration of one engine adapter call.
func RecordEngineCall(adapter, outcome string, dur time.Duration) {
	EngineRequestsTotal.WithLabelValues(adapter, outcome).Inc()
	EngineRequestDuration.WithLabelValues(adapter).Observe(dur.Seconds())
}
