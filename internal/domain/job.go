package domain

import "time"

// JobState is the lifecycle state machine every Background Job moves
// through. The DAG is init → ready ↔ sleeping → disconnected; `lost` is
// never set by the job itself, only published by the bus via last-will
// when the owning process dies without a clean disconnect.
type JobState string

const (
	JobInit         JobState = "init"
	JobReady        JobState = "ready"
	JobSleeping     JobState = "sleeping"
	JobDisconnected JobState = "disconnected"
	JobLost         JobState = "lost"
)

// validJobTransitions encodes the DAG from spec.md §3. A transition not
// present here is rejected by job.Runtime.Transition.
var validJobTransitions = map[JobState][]JobState{
	JobInit:         {JobReady, JobDisconnected},
	JobReady:        {JobSleeping, JobDisconnected},
	JobSleeping:     {JobReady, JobDisconnected},
	JobDisconnected: {},
	JobLost:         {}, // only ever set by the broker's last-will, never transitioned out of locally
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to JobState) bool {
	for _, s := range validJobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobSource records what started a job: a literal user CLI invocation,
// an experiment profile run (with its sequence number), or a plugin.
type JobSource string

const (
	JobSourceUser = JobSource("user")
)

// ExperimentProfileSource builds the job_source value for the Nth profile
// run, e.g. "experiment_profile/3".
func ExperimentProfileSource(n int) JobSource {
	return JobSource("experiment_profile/" + itoa(n))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// LEDIntensityJob names the fire-and-forget job that drives the four LED
// channels. It has no long-running state machine to signal: kill_jobs
// (spec.md §4.C) stops it by writing zero intensities instead of sending
// a signal, the same rewrite profile dispatch applies to Stop/Pause.
const LEDIntensityJob = "led_intensity"

// LEDAllOff is the all-channels-zero options payload kill_jobs and
// profile dispatch both use to stop internal/domain.LEDIntensityJob.
var LEDAllOff = map[string]any{"A": 0, "B": 0, "C": 0, "D": 0}

// Job is the metadata row tracked by the Job Manager for every live or
// historical Background Job (spec.md §3 "Background Job").
type Job struct {
	ID             int64
	JobName        string
	Unit           string
	Experiment     string
	JobSource      JobSource
	PID            int
	StartedAt      time.Time
	EndedAt        *time.Time
	IsLongRunning  bool
	IsRunning      bool
	Leader         bool
	State          JobState
	Settings       []PublishedSetting
}

// PublishedSetting is a (job_id, setting_name) row with a typed value blob
// and timestamps, as described in spec.md §3 "Published Setting".
type PublishedSetting struct {
	JobID      int64
	Name       string
	Value      string // JSON-encoded; typed coercion happens at the setter
	Settable   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobFilter narrows list_jobs/kill_jobs queries. Zero-value fields are
// wildcards.
type JobFilter struct {
	Unit       string
	Experiment string
	JobName    string
	JobSource  JobSource
	OnlyRunning bool
}
