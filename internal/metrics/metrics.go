// Package metrics holds the pipeline's Prometheus collectors. A batch command
// has no scrape endpoint, so the registry is flushed once when it exits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector below, separate from the default registry so
// flushed files carry pipeline metrics only.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taxiemissions_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "fleet"},
	)

	StageRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxiemissions_stage_runs_total",
			Help: "Pipeline stage executions by outcome",
		},
		[]string{"stage", "fleet", "status"},
	)

	RowsProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxiemissions_rows_total",
			Help: "Rows read from (in) and written to (out) store tables per stage",
		},
		[]string{"stage", "fleet", "direction"},
	)

	DownloadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxiemissions_downloads_total",
			Help: "Source file downloads by result (fetched, skipped, failed)",
		},
		[]string{"fleet", "result"},
	)

	DownloadBytes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxiemissions_download_bytes_total",
			Help: "Bytes written by source file downloads",
		},
		[]string{"fleet"},
	)

	DownloadRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxiemissions_download_retries_total",
			Help: "Download attempts retried after a transient failure",
		},
		[]string{"fleet"},
	)
)

// ObserveStage records the outcome of one stage for one fleet.
func ObserveStage(stage, fleet string, seconds float64, rowsIn, rowsOut int64, err error) {
	StageDuration.WithLabelValues(stage, fleet).Observe(seconds)
	status := "success"
	if err != nil {
		status = "failure"
	}
	StageRunsTotal.WithLabelValues(stage, fleet, status).Inc()
	if rowsIn > 0 {
		RowsProcessed.WithLabelValues(stage, fleet, "in").Add(float64(rowsIn))
	}
	if rowsOut > 0 {
		RowsProcessed.WithLabelValues(stage, fleet, "out").Add(float64(rowsOut))
	}
}
