package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	batchesTotal    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	activeBatches   prometheus.Gauge
	itemsTotal      *prometheus.CounterVec
	outputBytes     prometheus.Counter
	publishedTotal  *prometheus.CounterVec
	webhookFailures prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconvert_worker_batches_total",
			Help: "Total batches handled by the worker by final status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelconvert_worker_batch_duration_seconds",
			Help:    "Wall time spent on each batch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
		activeBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelconvert_worker_active_batches",
			Help: "Batches currently being converted.",
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconvert_worker_items_total",
			Help: "Batch items converted by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelconvert_worker_output_bytes_total",
			Help: "Bytes written by successful conversions.",
		}),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconvert_worker_published_outputs_total",
			Help: "Outputs uploaded to object storage by result.",
		}, []string{"result"}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelconvert_worker_webhook_failures_total",
			Help: "Webhook deliveries that exhausted their retries.",
		}),
	}

	registry.MustRegister(
		m.batchesTotal,
		m.batchDuration,
		m.activeBatches,
		m.itemsTotal,
		m.outputBytes,
		m.publishedTotal,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
