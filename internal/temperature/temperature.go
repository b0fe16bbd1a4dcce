// Package temperature implements the temperature_control automation
// named in spec.md §3 "Background Job framework" and §4.C's controller
// jobs (temperature_control, alongside dosing_control and led_control):
// a PID loop that reads a thermometer and drives a heater PWM channel
// toward a target temperature, the same tick/PID shape as
// dosing.PIDMorbidostat.
package temperature

import (
	"context"
	"time"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/drivers"
)

// Controller drives a heater PWM channel toward TargetTemperature using
// a PID loop fed by an ADC-backed thermometer reading.
type Controller struct {
	thermometer   drivers.ADC
	thermChannel  domain.Channel
	heater        drivers.PWM
	heaterChannel string

	TargetTemperature float64
	Kp, Ki, Kd        float64

	integral  float64
	prevError float64
	prevTime  time.Time
}

// NewController builds a PID temperature controller.
func NewController(thermometer drivers.ADC, thermChannel domain.Channel, heater drivers.PWM, heaterChannel string, targetTemperature, kp, ki, kd float64) *Controller {
	return &Controller{
		thermometer: thermometer, thermChannel: thermChannel,
		heater: heater, heaterChannel: heaterChannel,
		TargetTemperature: targetTemperature, Kp: kp, Ki: ki, Kd: kd,
	}
}

// Tick reads the thermometer, advances the PID state, and applies the
// resulting duty cycle to the heater. It returns the reading and the
// PID log entry for the caller to publish.
func (c *Controller) Tick(ctx context.Context) (temperature float64, setpoint, output, p, i, d float64, err error) {
	temperature, err = c.thermometer.Read(ctx, c.thermChannel)
	if err != nil {
		return 0, c.TargetTemperature, 0, 0, 0, 0, err
	}

	now := time.Now()
	errVal := c.TargetTemperature - temperature

	var dt float64
	if !c.prevTime.IsZero() {
		dt = now.Sub(c.prevTime).Seconds()
	}
	c.prevTime = now

	c.integral += errVal * dt
	var derivative float64
	if dt > 0 {
		derivative = (errVal - c.prevError) / dt
	}
	c.prevError = errVal

	p = c.Kp * errVal
	i = c.Ki * c.integral
	d = c.Kd * derivative
	output = clampDuty(p + i + d)

	if err := c.heater.SetDutyCycle(ctx, c.heaterChannel, output); err != nil {
		return temperature, c.TargetTemperature, output, p, i, d, err
	}
	return temperature, c.TargetTemperature, output, p, i, d, nil
}

// SetTarget changes the setpoint and resets the integral term so a large
// setpoint jump doesn't cause windup-driven overshoot.
func (c *Controller) SetTarget(target float64) {
	c.TargetTemperature = target
	c.integral = 0
}

// Stop turns the heater off.
func (c *Controller) Stop(ctx context.Context) error {
	return c.heater.SetDutyCycle(ctx, c.heaterChannel, 0)
}

func clampDuty(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
