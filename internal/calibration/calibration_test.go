package calibration

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/kvstore"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kv, err := kvstore.Open(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	s := NewStore(dir+"/calibrations", kv)
	cal := domain.Calibration{
		CalibrationName:            "my-od90-cal",
		Device:                     domain.DeviceOD90,
		CreatedAt:                  time.Now().UTC().Truncate(time.Second),
		CalibratedOnPioreactorUnit: "unit1",
		RecordedData:               domain.RecordedData{X: []float64{0, 1, 2}, Y: []float64{0.1, 0.3, 0.5}},
		CurveData:                  domain.CurveData{Type: domain.CurvePoly, Coefficients: [][]float64{{0.2, 0.1}}},
	}

	if err := s.Save(cal); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(domain.DeviceOD90, "my-od90-cal")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CalibrationName != cal.CalibrationName || loaded.Device != cal.Device {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	if err := s.SetActive(domain.DeviceOD90, "my-od90-cal"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	active, err := s.LoadActive(domain.DeviceOD90)
	if err != nil {
		t.Fatalf("load active: %v", err)
	}
	if active.CalibrationName != cal.CalibrationName {
		t.Fatalf("expected active calibration to round trip, got %+v", active)
	}
}

func TestLoadMigratesLegacyBareListCurveData(t *testing.T) {
	dir := t.TempDir()
	kv, _ := kvstore.Open(dir)
	defer kv.Close()
	s := NewStore(dir+"/calibrations", kv)

	legacyYAML := `
calibration_name: legacy-cal
calibrated_device: od90
created_at: 2020-01-01T00:00:00Z
calibrated_on_pioreactor_unit: unit1
recorded_data:
  x: [0, 1, 2]
  y: [0.1, 0.3, 0.5]
curve_data_: [0.2, 0.1]
`
	calDir := dir + "/calibrations/od90"
	if err := os.MkdirAll(calDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(calDir+"/legacy-cal.yaml", []byte(legacyYAML), 0644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	loaded, err := s.Load(domain.DeviceOD90, "legacy-cal")
	if err != nil {
		t.Fatalf("load legacy calibration: %v", err)
	}
	if loaded.CurveData.Type != domain.CurvePoly {
		t.Fatalf("expected migrated poly curve, got %+v", loaded.CurveData)
	}
	if len(loaded.CurveData.Coefficients) != 1 || len(loaded.CurveData.Coefficients[0]) != 2 {
		t.Fatalf("expected one coefficient row of length 2, got %v", loaded.CurveData.Coefficients)
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	kv, _ := kvstore.Open(dir)
	defer kv.Close()
	s := NewStore(dir+"/calibrations", kv)

	if _, err := s.Load(domain.DeviceOD90, "nope"); err != domain.ErrCalibrationNotFound {
		t.Fatalf("expected ErrCalibrationNotFound, got %v", err)
	}
}

func TestFitLinearRecoversKnownSlope(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 2.5*xi + 1.0
	}
	slope, intercept := FitLinear(x, y)
	if math.Abs(slope-2.5) > 1e-6 || math.Abs(intercept-1.0) > 1e-6 {
		t.Fatalf("expected slope=2.5 intercept=1.0, got %v %v", slope, intercept)
	}
}

func TestFitLinearForcedZeroIntercept(t *testing.T) {
	x := []float64{1, 2, 3}
	y := []float64{3, 6, 9}
	slope := FitLinearForcedZeroIntercept(x, y)
	if math.Abs(slope-3) > 1e-9 {
		t.Fatalf("expected slope=3, got %v", slope)
	}
}

func TestYToXFindsRootOfLinearCurve(t *testing.T) {
	cal := domain.Calibration{
		RecordedData: domain.RecordedData{X: []float64{0, 1, 2, 3, 4, 5}},
		CurveData:    domain.CurveData{Type: domain.CurvePoly, Coefficients: [][]float64{{2, 1}}}, // y = 2x + 1
	}
	x, err := YToX(cal, 5, true) // 2x+1=5 -> x=2
	if err != nil {
		t.Fatalf("y_to_x: %v", err)
	}
	if math.Abs(x-2) > 1e-3 {
		t.Fatalf("expected x=2, got %v", x)
	}
}

func TestYToXOutOfBoundsReturnsDomainError(t *testing.T) {
	cal := domain.Calibration{
		RecordedData: domain.RecordedData{X: []float64{0, 1, 2}},
		CurveData:    domain.CurveData{Type: domain.CurvePoly, Coefficients: [][]float64{{1, 0}}}, // y = x
	}
	if _, err := YToX(cal, 100, true); err != domain.ErrSolutionAboveDomain {
		t.Fatalf("expected ErrSolutionAboveDomain, got %v", err)
	}
	if _, err := YToX(cal, -100, true); err != domain.ErrSolutionBelowDomain {
		t.Fatalf("expected ErrSolutionBelowDomain, got %v", err)
	}
}

func TestVolumeToDurationInvertsLinearFit(t *testing.T) {
	cal := domain.Calibration{CurveData: domain.CurveData{Coefficients: [][]float64{{0.5, 0.1}}}} // volume = 0.5*duration + 0.1
	duration, err := VolumeToDuration(cal, 1.1)
	if err != nil {
		t.Fatalf("volume to duration: %v", err)
	}
	if math.Abs(duration-2.0) > 1e-6 {
		t.Fatalf("expected duration=2.0, got %v", duration)
	}
}

func TestFitPolynomialRecoversQuadratic(t *testing.T) {
	x := []float64{-2, -1, 0, 1, 2}
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 3*xi*xi - 2*xi + 1
	}
	coeffs := FitPolynomial(x, y, 2)
	if len(coeffs) != 3 {
		t.Fatalf("expected 3 coefficients, got %d", len(coeffs))
	}
	if math.Abs(coeffs[0]-3) > 1e-6 || math.Abs(coeffs[1]-(-2)) > 1e-6 || math.Abs(coeffs[2]-1) > 1e-6 {
		t.Fatalf("expected [3 -2 1], got %v", coeffs)
	}
}
