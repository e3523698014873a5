// Package metrics exposes prometheus counters and histograms for the
// performance pipeline and the HTTP surface.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "solarec_"

	ResultSuccess = "success"
	ResultNoData  = "no_data"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	pipelineRuns    *prometheus.CounterVec
	pipelineLatency *prometheus.HistogramVec
	stageLatency    *prometheus.HistogramVec

	readingsDropped   *prometheus.CounterVec
	capacityFallbacks prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers the metrics with the default registry. It is safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		pipelineRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_runs_total",
				Help: "Total performance pipeline runs by result",
			},
			[]string{"result"},
		)
		pipelineLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_latency_seconds",
				Help:    "Performance pipeline latency in seconds, including the fetch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		stageLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_stage_latency_seconds",
				Help:    "Latency of a single pipeline stage in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"stage"},
		)

		readingsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_dropped_total",
				Help: "Raw readings that did not snap onto the canonical grid by entity kind",
			},
			[]string{"kind"},
		)
		capacityFallbacks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "capacity_fallback_total",
				Help: "Location reports computed with the placeholder capacity",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			pipelineRuns,
			pipelineLatency,
			stageLatency,
			readingsDropped,
			capacityFallbacks,
			exportTotal,
			exportLatency,
		)
	})
}

// ObservePipeline records a pipeline run and its latency.
func ObservePipeline(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if pipelineRuns != nil {
		pipelineRuns.WithLabelValues(result).Inc()
	}
	if pipelineLatency != nil {
		pipelineLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	if stageLatency != nil {
		stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// AddReadingsDropped counts readings outside the canonical grid.
func AddReadingsDropped(kind string, count int) {
	if count <= 0 {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if readingsDropped != nil {
		readingsDropped.WithLabelValues(kind).Add(float64(count))
	}
}

// IncCapacityFallback counts location reports using the placeholder capacity.
func IncCapacityFallback() {
	if capacityFallbacks != nil {
		capacityFallbacks.Inc()
	}
}

// ObserveExport records a report export.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}
