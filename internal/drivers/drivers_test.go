package drivers

import (
	"context"
	"testing"
	"time"
)

func TestRunPumpSetsDutyThenClearsIt(t *testing.T) {
	pwm := NewMockPWM()
	start := time.Now()
	if err := RunPump(context.Background(), pwm, "media", 20*time.Millisecond); err != nil {
		t.Fatalf("run pump: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected RunPump to block for the duration, elapsed %v", elapsed)
	}
	if got := pwm.DutyCycle("media"); got != 0 {
		t.Fatalf("expected duty cycle reset to 0 after RunPump, got %v", got)
	}
}

func TestRunPumpRespectsContextCancellation(t *testing.T) {
	pwm := NewMockPWM()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RunPump(ctx, pwm, "media", time.Second); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestMockADCReadingsStayNearBaseline(t *testing.T) {
	adc := NewMockADC()
	adc.SetBaseline("1", 0.5)
	v, err := adc.Read(context.Background(), "1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v < 0.49 || v > 0.51 {
		t.Fatalf("expected reading near 0.5, got %v", v)
	}
}
