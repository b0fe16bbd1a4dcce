package calibsession

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pioreactor/pio/internal/calibration"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/kvstore"
)

func newTestEngine(t *testing.T) (*Engine, *calibration.Store) {
	t.Helper()
	dir := t.TempDir()
	kv, err := kvstore.Open(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	store := calibration.NewStore(dir+"/calibrations", kv)
	protocol := NewPumpDurationProtocol(store, domain.DeviceMediaPump, "unit1")
	return NewEngine(kv, protocol), store
}

func TestSessionResumesFromKVStore(t *testing.T) {
	engine, _ := newTestEngine(t)

	session, err := engine.Start("pump_duration", domain.DeviceMediaPump, domain.ModeUI)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	reloaded, err := engine.Get(session.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.SessionID != session.SessionID || reloaded.Status != domain.SessionInProgress {
		t.Fatalf("expected resumed session to match, got %+v", reloaded)
	}
}

func TestAdvanceOnTerminalSessionFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	session, _ := engine.Start("pump_duration", domain.DeviceMediaPump, domain.ModeUI)
	session.Status = domain.SessionComplete

	_, err := engine.Advance(session, domain.ModeUI, NewInputs(nil), nil)
	if err != domain.ErrSessionTerminal {
		t.Fatalf("expected ErrSessionTerminal, got %v", err)
	}
}

func TestFullPumpDurationProtocolSavesCalibration(t *testing.T) {
	engine, store := newTestEngine(t)
	session, err := engine.Start("pump_duration", domain.DeviceMediaPump, domain.ModeUI)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	executor := func(action string, payload map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}

	if _, err := engine.Advance(session, domain.ModeUI, NewInputs(nil), executor); err != nil {
		t.Fatalf("advance prime: %v", err)
	}
	if session.StepID != "dispense" {
		t.Fatalf("expected dispense step, got %s", session.StepID)
	}

	measured := make([]any, 30)
	for i := range measured {
		duration := float64(1 + i/10)
		measured[i] = duration * 2.0 // slope=2 ground truth
	}
	if _, err := engine.Advance(session, domain.ModeUI, NewInputs(map[string]any{"measured_volumes_ml": measured}), executor); err != nil {
		t.Fatalf("advance dispense: %v", err)
	}
	if session.StepID != "save" {
		t.Fatalf("expected save step, got %s", session.StepID)
	}

	if _, err := engine.Advance(session, domain.ModeUI, NewInputs(map[string]any{"calibration_name": "test-cal"}), executor); err != nil {
		t.Fatalf("advance save: %v", err)
	}
	if session.Status != domain.SessionComplete {
		t.Fatalf("expected complete, got %s", session.Status)
	}

	loaded, err := store.Load(domain.DeviceMediaPump, "test-cal")
	if err != nil {
		t.Fatalf("load saved calibration: %v", err)
	}
	slope := loaded.CurveData.Coefficients[0][0]
	if slope < 1.9 || slope > 2.1 {
		t.Fatalf("expected recovered slope near 2.0, got %v", slope)
	}
}

func TestRunSessionInCLIDrivesInfoStepToCompletion(t *testing.T) {
	dir := t.TempDir()
	kv, _ := kvstore.Open(dir)
	defer kv.Close()

	protocol := &Protocol{Name: "noop", Steps: map[string]StepHandler{"start": infoOnlyStep{}}}
	engine := NewEngine(kv, protocol)
	session, err := engine.Start("noop", domain.Device("x"), domain.ModeCLI)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var out bytes.Buffer
	prompt := func(f domain.Field) (string, error) { return "", fmt.Errorf("no fields expected") }
	if err := RunSessionInCLI(engine, session, &out, prompt); err != nil {
		t.Fatalf("run session: %v", err)
	}
	if session.Status != domain.SessionComplete {
		t.Fatalf("expected complete, got %s", session.Status)
	}
}

type infoOnlyStep struct{}

func (infoOnlyStep) Render(ctx *Context) domain.CalibrationStep {
	return domain.CalibrationStep{StepID: "start", Title: "Info", Body: "nothing to do", Type: domain.StepInfo}
}
func (infoOnlyStep) Advance(ctx *Context) (string, error) { return StepComplete, nil }
