package logging

import (
	"testing"
	"time"

	"github.com/pioreactor/pio/internal/bus"
)

func TestLoggerPublishesToLogsTopic(t *testing.T) {
	b := bus.NewBroker()
	received := make(chan []byte, 1)
	sub := bus.NewClient(b, "subscriber", bus.DefaultConfig())
	defer sub.SubscribeAndCallback([]string{bus.LogsTopic("unit1", "exp1", string(LevelError))}, func(msg bus.Message) {
		received <- msg.Payload
	}, "")()

	busClient := bus.NewClient(b, "unit1", bus.DefaultConfig())
	logger := New("stirring", "unit1", "exp1", busClient)

	logger.Error("pump stalled after %d retries", 3)

	select {
	case payload := <-received:
		if string(payload) != "pump stalled after 3 retries" {
			t.Fatalf("got payload %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("log line was never published to the bus")
	}
}

func TestLoggerWithoutBusDoesNotPanic(t *testing.T) {
	logger := New("stirring", "unit1", "exp1", nil)
	logger.Info("no bus attached, should just log locally")
}

func TestWithExperimentScopesTopic(t *testing.T) {
	b := bus.NewBroker()
	received := make(chan []byte, 1)
	sub := bus.NewClient(b, "subscriber", bus.DefaultConfig())
	defer sub.SubscribeAndCallback([]string{bus.LogsTopic("unit1", "exp2", string(LevelInfo))}, func(msg bus.Message) {
		received <- msg.Payload
	}, "")()

	busClient := bus.NewClient(b, "unit1", bus.DefaultConfig())
	logger := New("profile", "unit1", "exp1", busClient).WithExperiment("exp2")
	logger.Info("hello")

	select {
	case payload := <-received:
		if string(payload) != "hello" {
			t.Fatalf("got payload %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("log line was never published to the bus")
	}
}
