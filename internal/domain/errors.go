package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Each block maps to
// one of the error kinds this system must distinguish; callers use
// errors.Is/errors.As rather than string matching.

var (
	// Hardware-missing: an expected ADC/PWM/temp device is not present.
	ErrHardwareNotFound  = errors.New("expected hardware device not present")
	ErrResourceBusy      = errors.New("hardware resource already owned by another job")
	ErrResourceNotOwned  = errors.New("attempted to release a resource this job does not own")

	// Calibration-missing: a pump was asked to dose by volume with no curve.
	ErrCalibrationMissing = errors.New("no active calibration for this device")
	ErrCalibrationNotFound = errors.New("calibration not found on disk")
	ErrCalibrationEmpty   = errors.New("calibration file is empty or unreadable")

	// Curve math errors (round-trip / root-finding on calibration curves).
	ErrNoSolutionsFound     = errors.New("no solution found for the given y value")
	ErrSolutionBelowDomain  = errors.New("solution lies below the calibration's recorded x domain")
	ErrSolutionAboveDomain  = errors.New("solution lies above the calibration's recorded x domain")

	// Bus-transient: broker unavailable, retried with linear backoff.
	ErrBusUnavailable  = errors.New("bus broker unavailable after backoff budget exhausted")
	ErrSubscribeTimeout = errors.New("subscribe timed out waiting for a message")

	// Expression-error: lex/parse/evaluate failures in the profile DSL.
	ErrSyntax          = errors.New("expression syntax error")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrMQTTValue       = errors.New("mqtt fetch token could not be resolved")
	ErrUnknownFunction = errors.New("unknown function in expression")

	// Calibration-session-error: bad user input to a session step.
	ErrSessionInputRequired = errors.New("required input field missing")
	ErrSessionInputRange    = errors.New("input field outside allowed min/max")
	ErrSessionInputType     = errors.New("input field has the wrong type")
	ErrSessionNotFound      = errors.New("calibration session not found")
	ErrSessionTerminal      = errors.New("calibration session already in a terminal state")

	// Duplicate-job / job-absent: job manager registration conflicts.
	ErrDuplicateJob = errors.New("a job with this name is already running on this unit/experiment")
	ErrJobNotFound  = errors.New("no running job matches the given query")

	// Plugin-version-mismatch: experiment profile verification.
	ErrPluginMissing         = errors.New("required plugin is not installed")
	ErrPluginVersionMismatch = errors.New("installed plugin version does not satisfy the constraint")

	// Profile verification errors.
	ErrReservedAction   = errors.New("start/stop is reserved for controller jobs on automations")
	ErrMissingAutomationName = errors.New("update on a controller job requires automation_name")
	ErrUnknownField     = errors.New("unknown field in experiment profile document")

	// Dispatch errors: an experiment profile action could not be delivered.
	ErrDispatchFailed  = errors.New("dispatching profile action failed")
	ErrUnitNotAssigned = errors.New("unit is no longer assigned to the experiment")

	// OS: filesystem / process errors, wrapped rather than swallowed.
	ErrStorageUnavailable = errors.New("persistent storage root is unavailable")
)
