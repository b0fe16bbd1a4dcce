package domain

import "time"

// Channel is one of the two ADC input channels a PD can be wired to.
type Channel string

const (
	Channel1 Channel = "1"
	Channel2 Channel = "2"
)

// Angle is the photodiode's physical placement relative to the IR LED.
type Angle string

const (
	Angle45  Angle = "45"
	Angle90  Angle = "90"
	Angle135 Angle = "135"
	Angle180 Angle = "180"
	AngleRef Angle = "REF"
)

// RawODReading is a single channel's reading for one sample tick.
type RawODReading struct {
	Timestamp      time.Time `json:"timestamp"`
	Angle          Angle     `json:"angle"`
	OD             float64   `json:"od"`
	Channel        Channel   `json:"channel"`
	IRLedIntensity float64   `json:"ir_led_intensity"`
}

// ODReadings aggregates every configured channel's reading for one tick.
type ODReadings struct {
	Timestamp time.Time               `json:"timestamp"`
	ODs       map[Channel]RawODReading `json:"ods"`
}

// ODFused is the estimator's combined-angle optical density.
type ODFused struct {
	Timestamp time.Time `json:"timestamp"`
	ODFused   float64   `json:"od_fused"`
}

// GrowthRate is the EKF's per-hour growth rate estimate.
type GrowthRate struct {
	Timestamp  time.Time `json:"timestamp"`
	GrowthRate float64   `json:"growth_rate"`
}
