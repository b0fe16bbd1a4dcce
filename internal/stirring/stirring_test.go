package stirring

import (
	"context"
	"testing"

	"github.com/pioreactor/pio/internal/drivers"
)

func TestStartSetsDutyCycle(t *testing.T) {
	pwm := drivers.NewMockPWM()
	c := NewController(pwm, "stirring", 60)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := pwm.DutyCycle("stirring"); got != 60 {
		t.Fatalf("expected duty 60, got %v", got)
	}
}

func TestTickAdjustsTowardTargetRPM(t *testing.T) {
	pwm := drivers.NewMockPWM()
	c := NewController(pwm, "stirring", 50).WithRPMTracking(600, func(duty float64) float64 {
		return duty * 10 // linear model: 10 RPM per duty percent
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := c.TargetDutyCycle
	if err := c.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if c.TargetDutyCycle <= before {
		t.Fatalf("expected duty cycle to increase toward higher target RPM, got %v -> %v", before, c.TargetDutyCycle)
	}
}

func TestStopZeroesDutyCycle(t *testing.T) {
	pwm := drivers.NewMockPWM()
	c := NewController(pwm, "stirring", 80)
	_ = c.Start(context.Background())
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := pwm.DutyCycle("stirring"); got != 0 {
		t.Fatalf("expected duty 0 after stop, got %v", got)
	}
}
