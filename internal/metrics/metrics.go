// Package metrics provides Prometheus metrics for the control plane:
// job lifecycle counts, bus reconnects, OD sampling, dosing actuations,
// and profile scheduler activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Jobs ───────────────────────────────────────────────────────────────────

// JobsRunning tracks currently live jobs by job name.
var JobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pioreactor",
	Name:      "jobs_running",
	Help:      "Number of currently running jobs by job name.",
}, []string{"job_name"})

// JobStateTransitions counts every lifecycle transition a job makes.
var JobStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "job_state_transitions_total",
	Help:      "Total job lifecycle transitions.",
}, []string{"job_name", "to_state"})

// JobDuplicateRejections counts duplicate-job registration attempts.
var JobDuplicateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "job_duplicate_rejections_total",
	Help:      "Total rejected duplicate job registrations.",
}, []string{"job_name"})

// ─── Bus ────────────────────────────────────────────────────────────────────

// BusReconnectAttempts counts reconnect attempts during backoff.
var BusReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "bus_reconnect_attempts_total",
	Help:      "Total bus reconnect attempts.",
})

// BusPublishFailures counts publishes that failed after backoff exhausted.
var BusPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "bus_publish_failures_total",
	Help:      "Total publishes that failed after the backoff budget was exhausted.",
})

// BusHandlerPanics counts subscriber handler panics recovered in isolation.
var BusHandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "bus_handler_panics_total",
	Help:      "Total subscriber handler panics, recovered without killing the process.",
}, []string{"topic"})

// ─── OD reading / growth rate ───────────────────────────────────────────────

// ODSampleLatency tracks one OD sampling tick's duration.
var ODSampleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pioreactor",
	Name:      "od_sample_latency_seconds",
	Help:      "Duration of one OD sampling tick.",
	Buckets:   prometheus.DefBuckets,
})

// GrowthRateCurrent tracks the last computed growth rate, per hour.
var GrowthRateCurrent = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pioreactor",
	Name:      "growth_rate_per_hour",
	Help:      "Most recently estimated growth rate, per hour.",
})

// ─── Dosing ─────────────────────────────────────────────────────────────────

// DosingEventsTotal counts dosing events by kind.
var DosingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "dosing_events_total",
	Help:      "Total dosing events by kind.",
}, []string{"event"})

// DosingVolumeML sums volume dosed by kind, in mL.
var DosingVolumeML = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "dosing_volume_ml_total",
	Help:      "Total volume dosed in mL by kind.",
}, []string{"event"})

// ─── Experiment profile engine ──────────────────────────────────────────────

// ProfileActionsDispatched counts dispatched actions by kind.
var ProfileActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "profile_actions_dispatched_total",
	Help:      "Total experiment profile actions dispatched by kind.",
}, []string{"kind"})

// ProfileActionsSkipped counts actions skipped by a false `if`.
var ProfileActionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pioreactor",
	Name:      "profile_actions_skipped_total",
	Help:      "Total experiment profile actions skipped by a false if condition.",
}, []string{"kind"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequestDuration tracks request duration by route and status.
var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pioreactor",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "method", "status"})
