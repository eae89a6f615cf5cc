// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artcannon_jobs_total",
		Help: "Total number of jobs reaching a state, by state",
	}, []string{"state"})

	ChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artcannon_chunk_duration_seconds",
		Help:    "Time spent per chunk, by pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artcannon_frames_processed_total",
		Help: "Total number of frames transformed and written across all jobs",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artcannon_active_workers",
		Help: "Number of workers currently running a job",
	})

	EncoderFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artcannon_encoder_fallbacks_total",
		Help: "Encoder candidates rejected before one could be opened",
	}, []string{"candidate"})

	GridCellsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artcannon_grid_cells_total",
		Help: "Comparison grid cells rendered, by status",
	}, []string{"status"})
)
