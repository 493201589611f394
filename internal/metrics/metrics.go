// Package metrics exposes Prometheus collectors for the harvester service.
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
	windowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_windows_total",
			Help: "Query windows reaching an outcome, labeled by outcome (done, failed, deferred).",
		},
		[]string{"outcome"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_tasks_total",
			Help: "Record tasks reaching a terminal state, labeled by status.",
		},
		[]string{"status"},
	)

	stageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_stage_transitions_total",
			Help: "Reconciliation stage completions, labeled by stage.",
		},
		[]string{"stage"},
	)

	captchaAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_captcha_attempts_total",
			Help: "CAPTCHA decode attempts, labeled by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	portalQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_portal_queries_total",
			Help: "Portal query submissions, labeled by outcome (accepted, rejected, error).",
		},
		[]string{"outcome"},
	)

	documentBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_document_bytes_total",
			Help: "Total bytes of judgment documents downloaded.",
		},
	)

	objectsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_objects_uploaded_total",
			Help: "Documents uploaded to object storage.",
		},
	)

	uploadsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_uploads_skipped_total",
			Help: "Uploads skipped because the object already existed with the expected size.",
		},
	)

	notificationsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_notifications_published_total",
			Help: "Record notifications published to the queue.",
		},
	)

	snapshotSavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_snapshot_saves_total",
			Help: "Durable progress snapshot writes.",
		},
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

	rateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_wait_seconds",
			Help:    "Histogram of portal rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWindow counts a window outcome (done, failed, deferred).
func ObserveWindow(outcome string) {
	windowsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTaskTerminal counts a task reaching a terminal status.
func ObserveTaskTerminal(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// ObserveStage counts a completed reconciliation stage.
func ObserveStage(stage string) {
	stageTransitionsTotal.WithLabelValues(stage).Inc()
}

// ObserveCaptchaAttempt counts one decode attempt for a strategy.
func ObserveCaptchaAttempt(strategy, outcome string) {
	captchaAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObservePortalQuery counts one query submission outcome.
func ObservePortalQuery(outcome string) {
	portalQueriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownload records a downloaded document's size.
func ObserveDownload(bytes int) {
	if bytes > 0 {
		documentBytesTotal.Add(float64(bytes))
	}
}

// ObserveUpload counts an object upload, or a skip when the object already
// existed.
func ObserveUpload(skipped bool) {
	if skipped {
		uploadsSkippedTotal.Inc()
		return
	}
	objectsUploadedTotal.Inc()
}

// ObserveNotification counts a published record notification.
func ObserveNotification() {
	notificationsPublishedTotal.Inc()
}

// ObserveSnapshotSave counts a durable snapshot write.
func ObserveSnapshotSave() {
	snapshotSavesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a portal rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitWaitSeconds.Observe(duration.Seconds())
}
