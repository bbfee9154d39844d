// Package metrics exposes request and prediction counters in Prometheus
// format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	requestCount      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	predictions       *prometheus.CounterVec
	predictionErrors  *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	modelLoaded       prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictions_total",
				Help: "Predictions returned, by predicted class",
			}, []string{"class"},
		),
		predictionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_errors_total",
				Help: "Failed prediction requests, by error kind",
			}, []string{"kind"},
		),
		inferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inference_duration_seconds",
				Help:    "Time spent decoding and classifying one image",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		modelLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "model_loaded",
				Help: "1 when the classifier loaded at startup",
			},
		),
	}
	c.registry.MustRegister(
		c.requestCount,
		c.requestDuration,
		c.predictions,
		c.predictionErrors,
		c.inferenceDuration,
		c.modelLoaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveRequest(path, method string, status int, d time.Duration) {
	c.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (c *Collector) ObservePrediction(class string, d time.Duration) {
	c.predictions.WithLabelValues(class).Inc()
	c.inferenceDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveError(kind string) {
	c.predictionErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) SetModelLoaded(loaded bool) {
	if loaded {
		c.modelLoaded.Set(1)
		return
	}
	c.modelLoaded.Set(0)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
