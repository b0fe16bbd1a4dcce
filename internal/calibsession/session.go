// Package calibsession implements the resumable Calibration Session
// engine (spec.md §4.G): a step registry keyed by step_id, a KV-backed
// session store so UI clients can resume from any tab or after a
// refresh, typed input parsing with min/max/required enforcement, and a
// CLI driver that prompts the terminal for each step's fields.
package calibsession

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/kvstore"
)

// StepHandler implements one node of a protocol's step graph.
type StepHandler interface {
	// Render describes the step for a CLI prompt or UI POST response.
	// Must be idempotent: calling it twice without an Advance in between
	// returns the same description.
	Render(ctx *Context) domain.CalibrationStep
	// Advance consumes ctx.Inputs and returns the next step id, or ""
	// if this step is terminal.
	Advance(ctx *Context) (nextStepID string, err error)
}

// Executor requests a privileged hardware action on the owning unit
// from UI mode (spec.md §4.G: "pump", "read_aux_voltage",
// "stirring_calibration", "od_reference_standard_read", ...).
type Executor func(action string, payload map[string]any) (map[string]any, error)

// Context is threaded through every Render/Advance call.
type Context struct {
	Session  *domain.CalibrationSession
	Mode     domain.SessionMode
	Inputs   Inputs
	Executor Executor
}

// Inputs wraps the transient, user-submitted value map for one Advance
// call with typed, validated accessors (spec.md §4.G "SessionInputs").
type Inputs struct {
	values map[string]any
}

func NewInputs(values map[string]any) Inputs { return Inputs{values: values} }

func (in Inputs) get(name string, required bool) (any, error) {
	v, ok := in.values[name]
	if !ok || v == nil {
		if required {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionInputRequired, name)
		}
		return nil, nil
	}
	return v, nil
}

// Str returns a required string field.
func (in Inputs) Str(name string) (string, error) {
	v, err := in.get(name, true)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrSessionInputType, name)
	}
	return s, nil
}

// Float returns a required float field, validated against [min, max] if
// either bound is non-nil.
func (in Inputs) Float(name string, min, max *float64) (float64, error) {
	v, err := in.get(name, true)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrSessionInputType, name)
	}
	if (min != nil && f < *min) || (max != nil && f > *max) {
		return 0, fmt.Errorf("%w: %s", domain.ErrSessionInputRange, name)
	}
	return f, nil
}

// Int returns a required integer field.
func (in Inputs) Int(name string) (int, error) {
	f, err := in.Float(name, nil, nil)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Choice returns a required string field constrained to choices.
func (in Inputs) Choice(name string, choices []string) (string, error) {
	s, err := in.Str(name)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if c == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrSessionInputRange, name)
}

// FloatList returns a required list of floats.
func (in Inputs) FloatList(name string) ([]float64, error) {
	v, err := in.get(name, true)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionInputType, name)
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionInputType, name)
		}
		out = append(out, f)
	}
	return out, nil
}

// Bool returns a required boolean field.
func (in Inputs) Bool(name string) (bool, error) {
	v, err := in.get(name, true)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrSessionInputType, name)
	}
	return b, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Protocol is a named step registry: step_id -> StepHandler.
type Protocol struct {
	Name  string
	Steps map[string]StepHandler
}

// Terminal step ids, rendered specially (spec.md §4.G).
const (
	StepComplete = "complete"
	StepEnded    = "ended"
)

// Engine drives sessions against a registry of protocols, persisting
// state in a KV store so sessions survive process restarts.
type Engine struct {
	protocols map[string]*Protocol
	kv        *kvstore.Store
}

// NewEngine builds an Engine backed by kv's calibration_sessions scope.
func NewEngine(kv *kvstore.Store, protocols ...*Protocol) *Engine {
	reg := make(map[string]*Protocol, len(protocols))
	for _, p := range protocols {
		reg[p.Name] = p
	}
	return &Engine{protocols: reg, kv: kv}
}

// Start creates a new session for protocolName/device and persists it.
func (e *Engine) Start(protocolName string, device domain.Device, mode domain.SessionMode) (*domain.CalibrationSession, error) {
	p, ok := e.protocols[protocolName]
	if !ok {
		return nil, fmt.Errorf("unknown calibration protocol %q", protocolName)
	}
	firstStep := "start"
	if _, ok := p.Steps[firstStep]; !ok {
		for id := range p.Steps {
			firstStep = id
			break
		}
	}

	now := time.Now()
	session := &domain.CalibrationSession{
		SessionID:    uuid.NewString(),
		ProtocolName: protocolName,
		TargetDevice: device,
		Status:       domain.SessionInProgress,
		StepID:       firstStep,
		Data:         make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.save(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get loads a session by id.
func (e *Engine) Get(sessionID string) (*domain.CalibrationSession, error) {
	raw, ok, err := e.kv.Get(kvstore.ScopeCalibrationSessions, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	var session domain.CalibrationSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (e *Engine) save(session *domain.CalibrationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return e.kv.Put(kvstore.ScopeCalibrationSessions, session.SessionID, data)
}

// Render returns the rendered description of session's current step
// without advancing it.
func (e *Engine) Render(session *domain.CalibrationSession, mode domain.SessionMode, executor Executor) (domain.CalibrationStep, error) {
	if session.StepID == StepComplete || session.StepID == StepEnded {
		return domain.CalibrationStep{StepID: session.StepID, Type: domain.StepResult, Result: session.Result}, nil
	}
	p := e.protocols[session.ProtocolName]
	handler, ok := p.Steps[session.StepID]
	if !ok {
		return domain.CalibrationStep{}, fmt.Errorf("unknown step %q in protocol %q", session.StepID, session.ProtocolName)
	}
	ctx := &Context{Session: session, Mode: mode, Executor: executor}
	return handler.Render(ctx), nil
}

// Advance applies inputs to session's current step and moves it to the
// next step, persisting the result. It is the caller's responsibility
// (the HTTP handler) to serialize concurrent advances per session id.
func (e *Engine) Advance(session *domain.CalibrationSession, mode domain.SessionMode, inputs Inputs, executor Executor) (domain.CalibrationStep, error) {
	if session.Status != domain.SessionInProgress {
		return domain.CalibrationStep{}, domain.ErrSessionTerminal
	}

	p, ok := e.protocols[session.ProtocolName]
	if !ok {
		return domain.CalibrationStep{}, fmt.Errorf("unknown calibration protocol %q", session.ProtocolName)
	}
	handler, ok := p.Steps[session.StepID]
	if !ok {
		return domain.CalibrationStep{}, fmt.Errorf("unknown step %q in protocol %q", session.StepID, session.ProtocolName)
	}

	ctx := &Context{Session: session, Mode: mode, Inputs: inputs, Executor: executor}
	next, err := handler.Advance(ctx)
	if err != nil {
		session.Status = domain.SessionFailed
		session.Error = err.Error()
		session.UpdatedAt = time.Now()
		_ = e.save(session)
		return domain.CalibrationStep{}, err
	}

	session.UpdatedAt = time.Now()
	if next == "" {
		next = StepComplete
	}
	session.StepID = next
	if next == StepComplete {
		session.Status = domain.SessionComplete
	}
	if err := e.save(session); err != nil {
		return domain.CalibrationStep{}, err
	}

	return e.Render(session, mode, executor)
}

// Abort marks session aborted, a terminal status reachable from any
// in-progress step.
func (e *Engine) Abort(session *domain.CalibrationSession) error {
	if session.Status != domain.SessionInProgress {
		return domain.ErrSessionTerminal
	}
	session.Status = domain.SessionAborted
	session.StepID = StepEnded
	session.UpdatedAt = time.Now()
	return e.save(session)
}
