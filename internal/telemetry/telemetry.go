// Package telemetry exposes Prometheus collectors and HTTP metrics middleware.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umaten/autopress/internal/usage"
)

var (
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

	jobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autopress_jobs_submitted_total",
			Help: "Total jobs accepted through the intake boundary.",
		},
	)

	jobsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopress_jobs_skipped_total",
			Help: "Submitted entries that produced no job, labeled by reason.",
		},
		[]string{"reason"},
	)

	gaugesOnce sync.Once
)

// PipelineStats is the read-only view the gauges sample on scrape.
type PipelineStats interface {
	QueueLen() int
	InFlight() int
	SnapshotUsage() usage.Snapshot
}

// RegisterPipelineGauges wires scrape-time gauges for queue depth, in-flight
// jobs, and usage totals. Safe to call once per process.
func RegisterPipelineGauges(stats PipelineStats) {
	gaugesOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autopress_queue_length",
			Help: "Jobs waiting in the queue.",
		}, func() float64 { return float64(stats.QueueLen()) })

		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autopress_jobs_inflight",
			Help: "Jobs currently being processed.",
		}, func() float64 { return float64(stats.InFlight()) })

		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autopress_hour_articles",
			Help: "Articles generated in the current hour window.",
		}, func() float64 { return float64(stats.SnapshotUsage().Hour.Count) })

		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autopress_tokens_input_total",
			Help: "Input tokens consumed since process start.",
		}, func() float64 { return float64(stats.SnapshotUsage().Total.InputTokens) })

		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autopress_tokens_output_total",
			Help: "Output tokens consumed since process start.",
		}, func() float64 { return float64(stats.SnapshotUsage().Total.OutputTokens) })

		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autopress_cost_usd_total",
			Help: "Estimated API cost in USD since process start.",
		}, func() float64 { return stats.SnapshotUsage().Total.Cost })
	})
}

// ObserveSubmission records intake outcomes.
func ObserveSubmission(accepted int, skippedReasons []string) {
	jobsSubmittedTotal.Add(float64(accepted))
	for _, reason := range skippedReasons {
		jobsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streaming responses keep working.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
