package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReplyActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoreply_actions_total",
		Help: "Replies posted by the automation runner.",
	}, []string{"action"})

	ReviewsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoreply_reviews_skipped_total",
		Help: "Reviews skipped by the eligibility filter or an empty generation.",
	}, []string{"reason"})

	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoreply_failures_total",
		Help: "Absorbed per-item failures during automation runs.",
	}, []string{"kind"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoreply_run_duration_seconds",
		Help:    "Duration of automation runs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"trigger"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"route"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"route", "method", "code"})
)

// ObserveRun records how long a run took, labelled by what triggered it.
func ObserveRun(trigger string, start time.Time) {
	RunDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latency per chi route pattern, so
// path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
