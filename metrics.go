package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isomesh",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total interpolate-and-contour runs",
	}, []string{"trigger", "status"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "isomesh",
		Subsystem: "pipeline",
		Name:      "duration_seconds",
		Help:      "Duration of interpolate-and-contour runs",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"trigger"})

	contourFeatures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "isomesh",
		Subsystem: "pipeline",
		Name:      "features",
		Help:      "Contour features in the latest result",
	})

	observationsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isomesh",
		Subsystem: "ingest",
		Name:      "observations_total",
		Help:      "Observations received per source",
	}, []string{"source"})

	ingestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isomesh",
		Subsystem: "ingest",
		Name:      "errors_total",
		Help:      "Observation payloads that failed to fetch or decode",
	}, []string{"source"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isomesh",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})
)

// observeRun records one pipeline run
func observeRun(trigger string, start time.Time, features int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pipelineRunsTotal.WithLabelValues(trigger, status).Inc()
	pipelineDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	if err == nil {
		contourFeatures.Set(float64(features))
	}
}

// statusRecorder captures the response code for the request counter
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by method, registered path and status
func instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	}
}

// metricsHandler serves the Prometheus registry
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
