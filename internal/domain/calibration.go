package domain

import "time"

// Device identifies a calibratable device class (spec.md §3 "Calibration").
type Device string

const (
	DeviceOD45          Device = "od45"
	DeviceOD90          Device = "od90"
	DeviceOD135         Device = "od135"
	DeviceMediaPump     Device = "media_pump"
	DeviceAltMediaPump  Device = "alt_media_pump"
	DeviceWastePump     Device = "waste_pump"
	DeviceStirring      Device = "stirring"
	DeviceODFused       Device = "od_fused"
)

// CurveType tags the shape of a fitted calibration curve.
type CurveType string

const (
	CurvePoly   CurveType = "poly"
	CurveSpline CurveType = "spline"
	CurveAkima  CurveType = "akima"
)

// CurveData is the tagged-union fit: a polynomial carries coefficients
// only; spline/akima additionally carry knots, with one coefficient row
// per spline segment.
type CurveData struct {
	Type         CurveType   `yaml:"type" json:"type"`
	Coefficients [][]float64 `yaml:"coefficients" json:"coefficients"`
	Knots        []float64   `yaml:"knots,omitempty" json:"knots,omitempty"`
}

// RecordedData holds the raw (x, y) pairs a curve was fit from.
type RecordedData struct {
	X []float64 `yaml:"x" json:"x"`
	Y []float64 `yaml:"y" json:"y"`
}

// Calibration is the on-disk record for one calibration instance of one
// device, stored at <CAL_ROOT>/<device>/<name>.yaml.
type Calibration struct {
	CalibrationName           string       `yaml:"calibration_name" json:"calibration_name"`
	Device                    Device       `yaml:"calibrated_device" json:"calibrated_device"`
	CreatedAt                 time.Time    `yaml:"created_at" json:"created_at"`
	CalibratedOnPioreactorUnit string      `yaml:"calibrated_on_pioreactor_unit" json:"calibrated_on_pioreactor_unit"`
	RecordedData              RecordedData `yaml:"recorded_data" json:"recorded_data"`
	CurveData                 CurveData    `yaml:"curve_data_" json:"curve_data_"`

	// Pump-specific fields.
	Hz       float64 `yaml:"hz,omitempty" json:"hz,omitempty"`
	DC       float64 `yaml:"dc,omitempty" json:"dc,omitempty"`
	Voltage  float64 `yaml:"voltage,omitempty" json:"voltage,omitempty"`

	// OD-specific fields.
	Angle           string  `yaml:"angle,omitempty" json:"angle,omitempty"`
	Channel         string  `yaml:"channel,omitempty" json:"channel,omitempty"`
	IRLedIntensity  float64 `yaml:"ir_led_intensity,omitempty" json:"ir_led_intensity,omitempty"`

	// Stirring-specific fields.
	PWMHz float64 `yaml:"pwm_hz,omitempty" json:"pwm_hz,omitempty"`

	// Fusion calibrations keep one spline per angle; keyed by angle string.
	FusionSplines map[string]CurveData `yaml:"fusion_splines,omitempty" json:"fusion_splines,omitempty"`
}

// ActiveCalibrations is the KV record of device → calibration_name
// designating which saved calibration is currently in effect.
type ActiveCalibrations map[Device]string
