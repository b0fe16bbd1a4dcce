package domain

import "time"

// SessionStatus is the terminal/non-terminal state of a Calibration Session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionComplete   SessionStatus = "complete"
	SessionAborted    SessionStatus = "aborted"
	SessionFailed     SessionStatus = "failed"
)

// SessionMode distinguishes a CLI-driven run from a UI-driven one; UI mode
// has an executor callback for privileged remote hardware actions.
type SessionMode string

const (
	ModeCLI SessionMode = "cli"
	ModeUI  SessionMode = "ui"
)

// CalibrationSession is the persisted, resumable state of one interactive
// calibration workflow (spec.md §3 "Calibration Session").
type CalibrationSession struct {
	SessionID      string                 `json:"session_id"`
	ProtocolName   string                 `json:"protocol_name"`
	TargetDevice   Device                 `json:"target_device"`
	Status         SessionStatus          `json:"status"`
	StepID         string                 `json:"step_id"`
	Data           map[string]any         `json:"data"`
	Result         map[string]any         `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// StepType selects how the UI should render a CalibrationStep.
type StepType string

const (
	StepInfo   StepType = "info"
	StepForm   StepType = "form"
	StepAction StepType = "action"
	StepResult StepType = "result"
)

// Field describes one input the user must supply to advance a form step.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // str|float|int|choice|float_list|bool
	Required bool   `json:"required"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Choices  []string `json:"choices,omitempty"`
}

// CalibrationStep is the rendered description of the session's current
// position, returned to a CLI prompt renderer or a UI POST response.
type CalibrationStep struct {
	StepID   string         `json:"step_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Type     StepType       `json:"step_type"`
	Fields   []Field        `json:"fields,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
}
