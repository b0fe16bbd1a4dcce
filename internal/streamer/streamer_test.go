package streamer

import (
	"testing"
	"time"

	"github.com/pioreactor/pio/internal/bus"
)

func newTestStreamer(t *testing.T) (*Streamer, *bus.Broker) {
	t.Helper()
	b := bus.NewBroker()
	client := bus.NewClient(b, "streamer", bus.DefaultConfig())
	s, err := Open(t.TempDir(), client)
	if err != nil {
		t.Fatalf("open streamer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, b
}

func TestStreamerInsertsODReadings(t *testing.T) {
	s, b := newTestStreamer(t)
	stop := s.Start([]UnitExperiment{{Unit: "unit1", Experiment: "exp1"}})
	defer stop()

	payload := []byte(`{"timestamp":"2024-01-01T00:00:00Z","ods":{"1":{"angle":"90","channel":"1","od":0.45,"ir_led_intensity":50}}}`)
	b.Publish(bus.Join("unit1", "exp1", "od_reading/ods"), payload, bus.QoSAtLeastOnce, false)

	waitForRow(t, s, "ods")
}

func TestStreamerInsertsDosingEvents(t *testing.T) {
	s, b := newTestStreamer(t)
	stop := s.Start([]UnitExperiment{{Unit: "unit1", Experiment: "exp1"}})
	defer stop()

	payload := []byte(`{"event":"add_media","volume_change_ml":1.5,"source_of_event":"chemostat"}`)
	b.Publish(bus.Join("unit1", "exp1", "dosing_events"), payload, bus.QoSAtLeastOnce, false)

	waitForRow(t, s, "dosing_events")
}

func TestStreamerDropsMalformedPayloadWithoutCrashing(t *testing.T) {
	s, b := newTestStreamer(t)
	stop := s.Start([]UnitExperiment{{Unit: "unit1", Experiment: "exp1"}})
	defer stop()

	b.Publish(bus.Join("unit1", "exp1", "od_reading/ods"), []byte("not json"), bus.QoSAtLeastOnce, false)
	time.Sleep(50 * time.Millisecond)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ods`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected malformed payload to be dropped, got %d rows", count)
	}
}

func waitForRow(t *testing.T, s *Streamer, table string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a row in %s", table)
}
