// Package metrics exposes Prometheus collectors for the job engine.
// DispatchExhausted is the only surface for "work exists but no worker slot
// is free"; callers never see that condition as an error.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_dispatched_total",
		Help: "Jobs handed to a worker slot, by queue.",
	}, []string{"queue"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Jobs that finished successfully, by job type.",
	}, []string{"job_type"})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Handler failures, by job type.",
	}, []string{"job_type"})

	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Failed jobs re-queued by the retry controller, by job type.",
	}, []string{"job_type"})

	JobsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_cancelled_total",
		Help: "Jobs cancelled, by job type.",
	}, []string{"job_type"})

	DispatchExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_exhausted_total",
		Help: "Scheduler passes that found pending work but no free worker slot.",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_workers",
		Help: "Worker slots currently executing a job.",
	})
)
