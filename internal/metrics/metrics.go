// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the job pipeline and live relay.
// No slug or request_id labels: cardinality stays bounded by stage and outcome.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// JobsTotal counts finished submissions by outcome (completed|failed).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_jobs_total",
		Help: "Total number of finished jobs, by outcome.",
	}, []string{"outcome"})

	// JobsInFlight tracks pipelines currently executing a stage.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stemrelay_jobs_in_flight",
		Help: "Current number of running pipelines.",
	})

	// JobFailuresTotal counts failed jobs by stage and reason.
	JobFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_job_failures_total",
		Help: "Total number of failed jobs, by stage and reason.",
	}, []string{"stage", "reason"})

	// StageDuration tracks wall time of each external stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stemrelay_stage_duration_seconds",
		Help:    "Duration of external pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
	}, []string{"stage", "result"})

	// StageLinesTotal counts output lines produced per stage.
	StageLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_stage_lines_total",
		Help: "Total number of output lines read from external stages.",
	}, []string{"stage"})

	// RelayUnitsTotal counts units pushed to observers by kind (line|status|completed|failed).
	RelayUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_relay_units_total",
		Help: "Total number of units written to live observers, by kind.",
	}, []string{"kind"})

	// ObserverDisconnectsTotal counts observers lost while their job was still running.
	ObserverDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stemrelay_observer_disconnects_total",
		Help: "Total number of observers that disconnected before the job finished.",
	})

	// AdmissionWait tracks how long submissions waited for a free worker.
	AdmissionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stemrelay_admission_wait_seconds",
		Help:    "Time submissions spent waiting for a free worker.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// ProcTerminateTotal counts signals sent to process groups by signal and result.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_proc_terminate_total",
		Help: "Total number of termination signals sent to stage process groups.",
	}, []string{"signal", "result"})

	// ProcWaitTotal counts process reaps after termination by result.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_proc_wait_total",
		Help: "Total number of reaped stage processes after a termination request, by result.",
	}, []string{"result"})

	// UploadBytesTotal counts bytes materialized from submissions.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stemrelay_upload_bytes_total",
		Help: "Total number of uploaded bytes written to disk.",
	})

	// ConfigReloadsTotal counts configuration reloads by result.
	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemrelay_config_reloads_total",
		Help: "Total number of configuration reloads, by result.",
	}, []string{"result"})
)

// IncProcTerminate records a termination signal.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(result string) {
	ProcWaitTotal.WithLabelValues(result).Inc()
}

// ObserveStage records the duration and result of one stage run.
func ObserveStage(stage, result string, d time.Duration) {
	StageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// RecordJob records a finished job. stage and reason are empty on success.
func RecordJob(outcome, stage, reason string) {
	JobsTotal.WithLabelValues(outcome).Inc()
	if stage != "" || reason != "" {
		JobFailuresTotal.WithLabelValues(stage, reason).Inc()
	}
}

// CounterValue returns the current value of a counter, or 0.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue returns the current value of a gauge, or 0.
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
