// Package metrics exposes Prometheus collectors for the ingestion workers
// and the ops HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_tasks_total",
			Help: "Total number of tasks processed, labeled by task name and status.",
		},
		[]string{"task", "status"},
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_task_duration_seconds",
			Help:    "Histogram of task handler latencies, labeled by task name.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"task"},
	)

	taskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_task_retries_total",
			Help: "Total number of task retries scheduled, labeled by task name.",
		},
		[]string{"task"},
	)

	tasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_tasks_submitted_total",
			Help: "Total number of tasks submitted, labeled by queue and task name.",
		},
		[]string{"queue", "task"},
	)

	activeWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_active_workers",
			Help: "Number of workers currently processing a task, labeled by queue.",
		},
		[]string{"queue"},
	)

	credentialLeaseWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_credential_lease_wait_seconds",
			Help:    "Histogram of time spent waiting for a free credential.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_upstream_requests_total",
			Help: "Total number of catalog source requests, labeled by host and status code.",
		},
		[]string{"host", "code"},
	)

	productsUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_products_upserted_total",
			Help: "Products written by the upsert engine, labeled by site and result.",
		},
		[]string{"site", "result"},
	)

	productsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_products_deleted_total",
			Help: "Products removed by bounded reclaim, labeled by site.",
		},
		[]string{"site"},
	)

	categoriesDeactivatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_categories_deactivated_total",
			Help: "Categories deactivated by the empty-category sweep, labeled by site.",
		},
		[]string{"site"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_rate_limit_delays_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records a finished task execution.
func ObserveTask(task, status string, duration time.Duration) {
	tasksTotal.WithLabelValues(task, status).Inc()
	taskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveRetry counts a rescheduled task.
func ObserveRetry(task string) {
	taskRetriesTotal.WithLabelValues(task).Inc()
}

// ObserveSubmit counts a submitted task.
func ObserveSubmit(queue, task string) {
	tasksSubmittedTotal.WithLabelValues(queue, task).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(queue string) {
	activeWorkers.WithLabelValues(queue).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(queue string) {
	activeWorkers.WithLabelValues(queue).Dec()
}

// ObserveLeaseWait records how long a caller waited for a credential.
func ObserveLeaseWait(site string, duration time.Duration) {
	credentialLeaseWaitSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveUpstream counts a request to a catalog source.
func ObserveUpstream(host string, code int) {
	upstreamRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
}

// ObserveProducts adds n products with the given result (inserted, updated, skipped).
func ObserveProducts(site, result string, n int) {
	if n <= 0 {
		return
	}
	productsUpsertedTotal.WithLabelValues(site, result).Add(float64(n))
}

// ObserveDeleted adds n reclaimed products.
func ObserveDeleted(site string, n int) {
	if n <= 0 {
		return
	}
	productsDeletedTotal.WithLabelValues(site).Add(float64(n))
}

// ObserveDeactivated adds n deactivated categories.
func ObserveDeactivated(site string, n int) {
	if n <= 0 {
		return
	}
	categoriesDeactivatedTotal.WithLabelValues(site).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
