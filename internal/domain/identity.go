// Package domain holds the pure data model shared across the control plane:
// jobs, settings, calibrations, sessions, profiles, and telemetry structs.
// Nothing here talks to the bus, a database, or hardware.
package domain

// BroadcastUnit is the wildcard unit name used for fan-out writes and
// routing. Semantics: a write addressed to BroadcastUnit fans out to every
// active worker in the experiment; no deduplication is attempted.
const BroadcastUnit = "$broadcast"

// ExperimentPlaceholder denotes state that outlives any single experiment
// (e.g. the watchdog job, or `latest_experiment`).
const ExperimentPlaceholder = "$experiment"

// UnitExperiment scopes every topic, log line, and persisted row. It is the
// identity tuple named throughout spec.md §3.
type UnitExperiment struct {
	Unit       string
	Experiment string
}
