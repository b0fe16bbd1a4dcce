package dosing

import (
	"context"
	"testing"
	"time"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/drivers"
	"github.com/pioreactor/pio/internal/kvstore"
)

func TestSilentNeverActuates(t *testing.T) {
	events, err := Silent{}.Execute(context.Background(), 1.0, 0.1)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v, %v", events, err)
	}
}

func TestChemostatDosesEveryTick(t *testing.T) {
	pumps := Pumps{Media: drivers.NewMockPWM(), Waste: drivers.NewMockPWM()}
	c := Chemostat{Pumps: pumps, VolumeML: 1.0, MlPerSecond: 100}
	events, err := c.Execute(context.Background(), 0.5, 0.1)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected media+waste events, got %d", len(events))
	}
}

func TestTurbidostatOnlyDosesAboveTarget(t *testing.T) {
	pumps := Pumps{Media: drivers.NewMockPWM(), Waste: drivers.NewMockPWM()}
	tb := Turbidostat{Pumps: pumps, TargetOD: 1.0, VolumeML: 1.0, MlPerSecond: 100}

	events, err := tb.Execute(context.Background(), 0.5, 0)
	if err != nil {
		t.Fatalf("execute below target: %v", err)
	}
	if events != nil {
		t.Fatalf("expected no dosing below target, got %v", events)
	}

	events, err = tb.Execute(context.Background(), 1.5, 0)
	if err != nil {
		t.Fatalf("execute above target: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected dosing above target, got %d events", len(events))
	}
}

func TestPIDMorbidostatDosesWhenGrowthExceedsTarget(t *testing.T) {
	pumps := Pumps{Media: drivers.NewMockPWM(), Waste: drivers.NewMockPWM()}
	p := &PIDMorbidostat{Pumps: pumps, TargetGrowthRate: 0.1, Kp: 1.0, MlPerSecond: 100, MaxVolumeML: 2.0}

	events, err := p.Execute(context.Background(), 1.0, 0.5)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected dosing when growth rate exceeds target")
	}
}

func TestChemostatAltMediaFractionSplitsTheDose(t *testing.T) {
	pumps := Pumps{Media: drivers.NewMockPWM(), AltMedia: drivers.NewMockPWM(), Waste: drivers.NewMockPWM()}
	c := Chemostat{Pumps: pumps, VolumeML: 1.0, MlPerSecond: 100, AltMediaFraction: 0.25}
	events, err := c.Execute(context.Background(), 0.5, 0.1)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected media+alt_media+waste events, got %d", len(events))
	}
	var mediaML, altMediaML float64
	for _, e := range events {
		switch e.Event {
		case "add_media":
			mediaML = e.VolumeChangeML
		case "add_alt_media":
			altMediaML = e.VolumeChangeML
		}
	}
	if mediaML != 0.75 || altMediaML != 0.25 {
		t.Fatalf("expected 0.75mL media + 0.25mL alt media, got %v/%v", mediaML, altMediaML)
	}
}

func TestThroughputCalculatorAccumulatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	kv, err := kvstore.Open(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	broker := bus.NewBroker()
	busClient := bus.NewClient(broker, "unit1/dosing_automation", bus.DefaultConfig())

	tc := NewThroughputCalculator("unit1", "exp1", kv, busClient)
	tc.OnDosingEvent(domain.DosingEvent{Event: domain.EventAddMedia, VolumeChangeML: 1.0})
	tc.OnDosingEvent(domain.DosingEvent{Event: domain.EventAddAltMedia, VolumeChangeML: 0.5})
	tc.OnDosingEvent(domain.DosingEvent{Event: domain.EventRemoveWaste, VolumeChangeML: 1.5})

	if tc.mediaML != 1.0 || tc.altMediaML != 0.5 {
		t.Fatalf("expected totals 1.0/0.5, got %v/%v", tc.mediaML, tc.altMediaML)
	}

	reopened := NewThroughputCalculator("unit1", "exp1", kv, busClient)
	if reopened.mediaML != 1.0 || reopened.altMediaML != 0.5 {
		t.Fatalf("expected totals to survive reopen, got %v/%v", reopened.mediaML, reopened.altMediaML)
	}

	payload, ok := broker.Retained(bus.SettingTopic("unit1", "exp1", "dosing_automation", "media_throughput"))
	if !ok || string(payload) != "1" {
		t.Fatalf("expected retained media_throughput=1, got %q ok=%v", payload, ok)
	}
}

func TestThroughputCalculatorSubscribeReactsToDosingEvents(t *testing.T) {
	dir := t.TempDir()
	kv, err := kvstore.Open(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer kv.Close()

	broker := bus.NewBroker()
	publisher := bus.NewClient(broker, "unit1/dosing_automation", bus.DefaultConfig())
	tc := NewThroughputCalculator("unit1", "exp1", kv, publisher)
	unsub := tc.Subscribe()
	defer unsub()

	publisher.PublishJSON(bus.DosingEventsTopic("unit1", "exp1"), domain.DosingEvent{Event: domain.EventAddMedia, VolumeChangeML: 2.0}, bus.QoSAtLeastOnce, false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tc.mediaML == 2.0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected media total to reach 2.0, got %v", tc.mediaML)
}
