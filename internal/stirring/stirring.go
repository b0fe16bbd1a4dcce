// Package stirring drives the stirrer PWM channel at a target duty
// cycle, with an optional RPM-tracking feedback loop when a calibration
// maps duty cycle to measured RPM (spec.md §3 "Stirring").
package stirring

import (
	"context"

	"github.com/pioreactor/pio/internal/drivers"
)

// Controller holds a stirrer at TargetDutyCycle, or — when a
// duty-to-RPM calibration is present — adjusts duty cycle to track
// TargetRPM.
type Controller struct {
	pwm     drivers.PWM
	channel string

	TargetDutyCycle float64
	TargetRPM       float64
	dutyToRPM       func(duty float64) float64
}

// NewController builds a duty-cycle-only controller.
func NewController(pwm drivers.PWM, channel string, targetDutyCycle float64) *Controller {
	return &Controller{pwm: pwm, channel: channel, TargetDutyCycle: targetDutyCycle}
}

// WithRPMTracking switches the controller into closed-loop mode using a
// calibration-derived duty-to-RPM function.
func (c *Controller) WithRPMTracking(targetRPM float64, dutyToRPM func(duty float64) float64) *Controller {
	c.TargetRPM = targetRPM
	c.dutyToRPM = dutyToRPM
	return c
}

// Start sets the initial duty cycle.
func (c *Controller) Start(ctx context.Context) error {
	return c.pwm.SetDutyCycle(ctx, c.channel, c.TargetDutyCycle)
}

// Stop turns the stirrer off.
func (c *Controller) Stop(ctx context.Context) error {
	return c.pwm.SetDutyCycle(ctx, c.channel, 0)
}

// SetTargetDutyCycle changes the open-loop target and applies it
// immediately.
func (c *Controller) SetTargetDutyCycle(ctx context.Context, duty float64) error {
	c.TargetDutyCycle = duty
	c.dutyToRPM = nil
	return c.pwm.SetDutyCycle(ctx, c.channel, duty)
}

// Tick nudges the duty cycle toward TargetRPM using a simple
// proportional step, when closed-loop tracking is enabled. It is a
// no-op in open-loop mode.
func (c *Controller) Tick(ctx context.Context) error {
	if c.dutyToRPM == nil {
		return nil
	}
	currentRPM := c.dutyToRPM(c.TargetDutyCycle)
	errRPM := c.TargetRPM - currentRPM
	step := errRPM * 0.01 // small proportional correction per tick
	next := c.TargetDutyCycle + step
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	c.TargetDutyCycle = next
	return c.pwm.SetDutyCycle(ctx, c.channel, next)
}
