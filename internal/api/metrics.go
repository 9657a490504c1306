package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	conversionsTotal  *prometheus.CounterVec
	outputBytes       *prometheus.HistogramVec
	batchesEnqueued   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelconvert",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixelconvert",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency. Synchronous conversions dominate the upper buckets.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelconvert",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the token bucket, by bucket class.",
		}, []string{"class"}),
		conversionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelconvert",
			Subsystem: "api",
			Name:      "conversions_total",
			Help:      "Synchronous conversions by output format and error kind (empty on success).",
		}, []string{"format", "kind"}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixelconvert",
			Subsystem: "api",
			Name:      "conversion_output_bytes",
			Help:      "Size of files written by synchronous conversions.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"format"}),
		batchesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelconvert",
			Subsystem: "queue",
			Name:      "batches_enqueued_total",
			Help:      "Batches handed to the worker queue.",
		}, []string{"queue"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.rateLimitRejected,
		m.conversionsTotal,
		m.outputBytes,
		m.batchesEnqueued,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(recorder.status)}
		m.requests.WithLabelValues(labels...).Inc()
		m.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

var knownRoutes = map[string]bool{
	"/healthz":        true,
	"/metrics":        true,
	"/v1/formats":     true,
	"/v1/conversions": true,
	"/v1/images/info": true,
	"/v1/batches":     true,
}

// routeLabel folds batch ids and unknown paths so label sets stay bounded.
func routeLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/v1/batches/") {
		return "/v1/batches/{id}"
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
