/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the pipeline's Prometheus collectors and
// the standalone /metrics server the deployment scrapes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStartedTotal counts analysis jobs picked up by a worker.
	JobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskline_jobs_started_total",
		Help: "Total number of analysis jobs started",
	})

	// JobsCompletedTotal counts analysis jobs that reached completed.
	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskline_jobs_completed_total",
		Help: "Total number of analysis jobs completed",
	})

	// JobsFailedTotal counts analysis jobs that reached failed.
	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskline_jobs_failed_total",
		Help: "Total number of analysis jobs failed",
	})

	// PhaseDuration observes wall-clock seconds per analysis phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskline_phase_duration_seconds",
		Help:    "Duration of each analysis phase",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"phase"})

	// ExportDuration observes wall-clock seconds per export attempt.
	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskline_export_duration_seconds",
		Help:    "Duration of export jobs from dequeue to terminal status",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ExportsTotal counts export attempts by terminal outcome.
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskline_exports_total",
		Help: "Total number of export attempts by outcome",
	}, []string{"outcome"})

	// SSEConnectionsOpen gauges currently connected event streams.
	SSEConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskline_sse_connections_open",
		Help: "Number of currently open SSE connections",
	})

	// FilterCompileDuration observes filter-graph compile latency.
	FilterCompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskline_filter_compile_duration_seconds",
		Help:    "Latency of filter-graph compilation",
		Buckets: prometheus.DefBuckets,
	})

	// UploadsTotal counts upload requests by result.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskline_uploads_total",
		Help: "Total number of video upload requests by result",
	}, []string{"result"})
)

// RecordJobStarted increments the started counter.
func RecordJobStarted() {
	JobsStartedTotal.Inc()
}

// RecordJobCompleted increments the completed counter.
func RecordJobCompleted() {
	JobsCompletedTotal.Inc()
}

// RecordJobFailed increments the failed counter.
func RecordJobFailed() {
	JobsFailedTotal.Inc()
}

// RecordPhase observes one phase's duration.
func RecordPhase(phase string, duration time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordExport observes one export attempt's duration and outcome.
func RecordExport(outcome string, duration time.Duration) {
	ExportsTotal.WithLabelValues(outcome).Inc()
	ExportDuration.Observe(duration.Seconds())
}

// RecordUpload counts one upload request result ("accepted",
// "rejected").
func RecordUpload(result string) {
	UploadsTotal.WithLabelValues(result).Inc()
}
