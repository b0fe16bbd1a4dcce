package calibsession

import (
	"time"

	"github.com/pioreactor/pio/internal/calibration"
	"github.com/pioreactor/pio/internal/domain"
)

// NewPumpDurationProtocol builds the duration-based pump calibration
// protocol (spec.md §4.G): prime (via the UI executor's "pump" action in
// UI mode), take the measured volumes for three durations ten trials
// each, fit a forced-zero-intercept linear regression, and save the
// resulting calibration. The dispense step only records the submitted
// volumes; it does not run the pump itself.
func NewPumpDurationProtocol(store *calibration.Store, device domain.Device, unit string) *Protocol {
	durations := []float64{1.0, 2.0, 3.0}
	const dispensesPerDuration = 10

	return &Protocol{
		Name: "pump_duration",
		Steps: map[string]StepHandler{
			"start": primeStep{},
			"prime": primeStep{},
			"dispense": dispenseStep{
				durations:            durations,
				dispensesPerDuration: dispensesPerDuration,
			},
			"save": saveStep{store: store, device: device, unit: unit},
		},
	}
}

type primeStep struct{}

func (primeStep) Render(ctx *Context) domain.CalibrationStep {
	return domain.CalibrationStep{
		StepID: "prime",
		Title:  "Prime the pump",
		Body:   "Confirm the tubing is primed and ready to dispense.",
		Type:   domain.StepAction,
	}
}

func (primeStep) Advance(ctx *Context) (string, error) {
	if ctx.Mode == domain.ModeUI && ctx.Executor != nil {
		if _, err := ctx.Executor("pump", map[string]any{"action": "prime"}); err != nil {
			return "", err
		}
	}
	ctx.Session.Data["primed"] = true
	return "dispense", nil
}

type dispenseStep struct {
	durations            []float64
	dispensesPerDuration int
}

func (d dispenseStep) Render(ctx *Context) domain.CalibrationStep {
	return domain.CalibrationStep{
		StepID: "dispense",
		Title:  "Measure dispensed volume",
		Body:   "For each trial, enter the measured volume in mL.",
		Type:   domain.StepForm,
	}
}

func (d dispenseStep) Advance(ctx *Context) (string, error) {
	measured, err := ctx.Inputs.FloatList("measured_volumes_ml")
	if err != nil {
		return "", err
	}

	var xs, ys []float64
	trial := 0
	for _, dur := range d.durations {
		for i := 0; i < d.dispensesPerDuration; i++ {
			if trial >= len(measured) {
				break
			}
			xs = append(xs, dur)
			ys = append(ys, measured[trial])
			trial++
		}
	}
	ctx.Session.Data["recorded_x"] = xs
	ctx.Session.Data["recorded_y"] = ys
	return "save", nil
}

type saveStep struct {
	store  *calibration.Store
	device domain.Device
	unit   string
}

func (s saveStep) Render(ctx *Context) domain.CalibrationStep {
	return domain.CalibrationStep{
		StepID: "save",
		Title:  "Name this calibration",
		Body:   "Enter a name to save this calibration under.",
		Type:   domain.StepForm,
	}
}

func (s saveStep) Advance(ctx *Context) (string, error) {
	name, err := ctx.Inputs.Str("calibration_name")
	if err != nil {
		return "", err
	}

	xs, _ := ctx.Session.Data["recorded_x"].([]float64)
	ys, _ := ctx.Session.Data["recorded_y"].([]float64)
	slope := calibration.FitLinearForcedZeroIntercept(xs, ys)

	cal := domain.Calibration{
		CalibrationName:            name,
		Device:                     s.device,
		CreatedAt:                  time.Now(),
		CalibratedOnPioreactorUnit: s.unit,
		RecordedData:               domain.RecordedData{X: xs, Y: ys},
		CurveData:                  domain.CurveData{Type: domain.CurvePoly, Coefficients: [][]float64{{slope, 0}}},
	}
	if err := s.store.Save(cal); err != nil {
		return "", err
	}

	ctx.Session.Result = map[string]any{"calibration_name": name, "slope": slope}
	return StepComplete, nil
}
