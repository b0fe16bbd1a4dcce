// Package drivers is the thin hardware abstraction layer the job
// runtime's actuators and sensors sit on top of: an ADC (for
// photodiodes), a set of PWM channels (for pumps, heater, stirrer), and
// an IR LED driver. The only implementations here are in-memory
// simulators; there is no I2C/GPIO implementation, so the control plane
// runs against the simulators whether or not config.Testing() is set
// (spec.md §8 "Testing").
package drivers

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pioreactor/pio/internal/domain"
)

// ADC reads raw photodiode voltages for a channel.
type ADC interface {
	Read(ctx context.Context, channel domain.Channel) (voltage float64, err error)
}

// PWM drives a single actuator channel (pump, heater, stirrer) at a duty
// cycle in [0, 100].
type PWM interface {
	SetDutyCycle(ctx context.Context, channel string, dutyCycle float64) error
	DutyCycle(channel string) float64
}

// IRLED controls the IR LED's intensity, used as the OD sampling light
// source.
type IRLED interface {
	SetIntensity(ctx context.Context, intensity float64) error
	Intensity() float64
}

// MockADC simulates photodiode readings as a noisy signal around a
// settable baseline, for TESTING=1 runs and unit tests.
type MockADC struct {
	mu       sync.Mutex
	Baseline map[domain.Channel]float64
	rng      *rand.Rand
}

// NewMockADC builds a mock ADC with baseline 0.1V on every channel.
func NewMockADC() *MockADC {
	return &MockADC{
		Baseline: map[domain.Channel]float64{domain.Channel1: 0.1, domain.Channel2: 0.1},
		rng:      rand.New(rand.NewSource(1)),
	}
}

// Read returns Baseline[channel] plus small uniform noise in [-0.001, 0.001).
func (m *MockADC) Read(ctx context.Context, channel domain.Channel) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.Baseline[channel]
	noise := (m.rng.Float64() - 0.5) * 0.002
	return base + noise, nil
}

// SetBaseline lets tests drive a simulated growth curve.
func (m *MockADC) SetBaseline(channel domain.Channel, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Baseline[channel] = v
}

// MockPWM records the last duty cycle set per channel, with no physical
// side effect.
type MockPWM struct {
	mu   sync.Mutex
	duty map[string]float64
}

// NewMockPWM builds a mock PWM driver with every channel at 0%.
func NewMockPWM() *MockPWM { return &MockPWM{duty: make(map[string]float64)} }

func (m *MockPWM) SetDutyCycle(ctx context.Context, channel string, dutyCycle float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dutyCycle < 0 || dutyCycle > 100 {
		dutyCycle = clamp(dutyCycle, 0, 100)
	}
	m.duty[channel] = dutyCycle
	return nil
}

func (m *MockPWM) DutyCycle(channel string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty[channel]
}

// MockIRLED records the last set intensity.
type MockIRLED struct {
	mu        sync.Mutex
	intensity float64
}

func NewMockIRLED() *MockIRLED { return &MockIRLED{} }

func (l *MockIRLED) SetIntensity(ctx context.Context, intensity float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intensity = clamp(intensity, 0, 100)
	return nil
}

func (l *MockIRLED) Intensity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intensity
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RunPump actuates channel at 100% duty for duration, then turns it off.
// It is the shared primitive every dosing automation and calibration
// step calls (spec.md §3 "run_pump").
func RunPump(ctx context.Context, pwm PWM, channel string, duration time.Duration) error {
	if err := pwm.SetDutyCycle(ctx, channel, 100); err != nil {
		return err
	}
	defer pwm.SetDutyCycle(ctx, channel, 0)

	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
