package odreading

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/drivers"
)

func TestSampleOnceFusesAllChannels(t *testing.T) {
	adc := drivers.NewMockADC()
	adc.SetBaseline(domain.Channel1, 0.2)
	adc.SetBaseline(domain.Channel2, 0.4)
	led := drivers.NewMockIRLED()

	s, err := NewSampler(adc, led, []ChannelConfig{
		{Channel: domain.Channel1, Angle: domain.Angle90, NormalizationFactor: 1},
		{Channel: domain.Channel2, Angle: domain.Angle135, NormalizationFactor: 1},
	}, 50, 1)
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}

	readings, fused, _, err := s.SampleOnce(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(readings.ODs) != 2 {
		t.Fatalf("expected 2 channel readings, got %d", len(readings.ODs))
	}
	if fused.ODFused < 0.25 || fused.ODFused > 0.35 {
		t.Fatalf("expected fused OD near the average of 0.2 and 0.4, got %v", fused.ODFused)
	}
}

func TestGrowthRateEKFTracksExponentialGrowth(t *testing.T) {
	samplesPerSecond := 1.0 / 360 // one sample every 6 minutes
	ekf := NewGrowthRateEKF([]domain.Angle{domain.Angle90}, samplesPerSecond)
	start := time.Now()

	od := 0.1
	hourlyRate := 0.5                            // 50%/hour exponential growth
	perTickFactor := math.Pow(1+hourlyRate, 0.1) // 6 minutes = 0.1 hour

	var rate float64
	for i := 0; i < 300; i++ {
		ts := start.Add(time.Duration(i) * 6 * time.Minute)
		r := ekf.Update([]float64{od}, ts)
		rate = r.GrowthRate
		od *= perTickFactor
	}

	if rate < 0.3 || rate > 0.7 {
		t.Fatalf("expected estimated growth rate to converge near %v/hr, got %v", math.Log(1+hourlyRate), rate)
	}
}

func TestGrowthRateEKFTracksEachAngleIndependently(t *testing.T) {
	ekf := NewGrowthRateEKF([]domain.Angle{domain.Angle90, domain.Angle135}, 1)
	start := time.Now()

	od90, od135 := 0.1, 0.2
	for i := 0; i < 10; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		ekf.Update([]float64{od90, od135}, ts)
		od90 *= 1.01
		od135 *= 1.01
	}

	if ekf.x[0] <= 0 || ekf.x[1] <= 0 {
		t.Fatalf("expected both per-angle OD states to remain positive, got %v", ekf.x)
	}
	if math.Abs(ekf.x[1]/ekf.x[0]-2) > 0.5 {
		t.Fatalf("expected the angle-135 state to track roughly double angle-90, got %v and %v", ekf.x[0], ekf.x[1])
	}
}

func TestInflateForDosingEventRestoresAfterWindow(t *testing.T) {
	ekf := NewGrowthRateEKF([]domain.Angle{domain.Angle90}, 1)
	ekf.Update([]float64{0.1}, time.Now()) // initialize state before inflating

	original := ekf.odProcessNoise[0]
	ekf.InflateForDosingEvent(2)
	if ekf.odProcessNoise[0] != original*1e3 {
		t.Fatalf("expected inflated variance %v, got %v", original*1e3, ekf.odProcessNoise[0])
	}

	ts := time.Now()
	ekf.Update([]float64{0.1}, ts.Add(time.Second))
	if ekf.odProcessNoise[0] != original*1e3 {
		t.Fatalf("expected variance still inflated mid-window, got %v", ekf.odProcessNoise[0])
	}
	ekf.Update([]float64{0.1}, ts.Add(2*time.Second))
	if ekf.odProcessNoise[0] != original {
		t.Fatalf("expected variance restored after window, got %v want %v", ekf.odProcessNoise[0], original)
	}
}

func TestSamplerNotifyDosingEventInflatesEKFVariance(t *testing.T) {
	adc := drivers.NewMockADC()
	adc.SetBaseline(domain.Channel1, 0.2)
	led := drivers.NewMockIRLED()

	s, err := NewSampler(adc, led, []ChannelConfig{
		{Channel: domain.Channel1, Angle: domain.Angle90, NormalizationFactor: 1},
	}, 50, 1)
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	if _, _, _, err := s.SampleOnce(context.Background()); err != nil {
		t.Fatalf("sample: %v", err)
	}

	original := s.ekf.odProcessNoise[0]
	s.NotifyDosingEvent()
	if s.ekf.odProcessNoise[0] != original*1e3 {
		t.Fatalf("expected NotifyDosingEvent to inflate OD process variance, got %v want %v", s.ekf.odProcessNoise[0], original*1e3)
	}
}
