package temperature

import (
	"context"
	"testing"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/drivers"
)

func TestTickHeatsTowardTargetWhenBelowSetpoint(t *testing.T) {
	adc := drivers.NewMockADC()
	adc.SetBaseline(domain.Channel("temperature"), 25.0)
	pwm := drivers.NewMockPWM()

	c := NewController(adc, domain.Channel("temperature"), pwm, "heater", 30.0, 5.0, 0.1, 0.0)

	_, setpoint, output, p, _, _, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if setpoint != 30.0 {
		t.Fatalf("expected setpoint 30.0, got %v", setpoint)
	}
	if output <= 0 {
		t.Fatalf("expected positive heater output below setpoint, got %v", output)
	}
	if p <= 0 {
		t.Fatalf("expected positive proportional term, got %v", p)
	}
}

func TestStopTurnsHeaterOff(t *testing.T) {
	adc := drivers.NewMockADC()
	pwm := drivers.NewMockPWM()
	c := NewController(adc, domain.Channel("temperature"), pwm, "heater", 30.0, 1.0, 0.0, 0.0)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if pwm.DutyCycle("heater") != 0 {
		t.Fatalf("expected heater off, got %v", pwm.DutyCycle("heater"))
	}
}

func TestSetTargetResetsIntegral(t *testing.T) {
	adc := drivers.NewMockADC()
	adc.SetBaseline(domain.Channel("temperature"), 25.0)
	pwm := drivers.NewMockPWM()
	c := NewController(adc, domain.Channel("temperature"), pwm, "heater", 30.0, 1.0, 1.0, 0.0)

	c.Tick(context.Background())
	c.SetTarget(28.0)
	if c.integral != 0 {
		t.Fatalf("expected integral reset, got %v", c.integral)
	}
	if c.TargetTemperature != 28.0 {
		t.Fatalf("expected target updated, got %v", c.TargetTemperature)
	}
}
