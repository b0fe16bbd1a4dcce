package bus

import (
	"testing"
	"time"
)

func TestRetainedMessageDeliveredOnSubscribe(t *testing.T) {
	b := NewBroker()
	b.Publish("pioreactor/u1/exp/stirring/$state", []byte("ready"), QoSExactlyOnce, true)

	ch, cancel := b.Subscribe("test", "pioreactor/u1/exp/stirring/$state")
	defer cancel()

	select {
	case msg := <-ch:
		if string(msg.Payload) != "ready" {
			t.Fatalf("got %q, want %q", msg.Payload, "ready")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retained message")
	}
}

func TestLastWillFiresOnKillNotOnDisconnect(t *testing.T) {
	b := NewBroker()
	topic := "pioreactor/u1/exp/stirring/$state"
	b.RegisterWill("job-1", LastWill{Topic: topic, Payload: []byte("lost"), QoS: QoSExactlyOnce, Retain: true})

	// Clean disconnect must not publish the will.
	b.Disconnect("job-1")
	if _, ok := b.Retained(topic); ok {
		t.Fatal("clean disconnect must not publish last will")
	}

	b.RegisterWill("job-2", LastWill{Topic: topic, Payload: []byte("lost"), QoS: QoSExactlyOnce, Retain: true})
	b.Kill("job-2")
	payload, ok := b.Retained(topic)
	if !ok || string(payload) != "lost" {
		t.Fatalf("expected retained lost state after Kill, got %q, ok=%v", payload, ok)
	}
}

func TestPublishBackoffExhaustsAfterMaxAttempts(t *testing.T) {
	b := NewBroker()
	b.SetDown(true)
	c := NewClient(b, "job-1", Config{MaxReconnectAttempts: 3, PublishTimeout: time.Second})

	err := c.Publish("pioreactor/u1/exp/logs/error", []byte("{}"), QoSExactlyOnce, false)
	if err == nil {
		t.Fatal("expected error once backoff budget is exhausted")
	}
}

func TestSubscribeAndCallbackDeliversInOrderAndIsolatesPanics(t *testing.T) {
	b := NewBroker()
	c := NewClient(b, "job-1", DefaultConfig())

	var got []string
	done := make(chan struct{}, 3)
	cancel := c.SubscribeAndCallback([]string{"pioreactor/u1/exp/topic"}, func(m Message) {
		if string(m.Payload) == "boom" {
			done <- struct{}{}
			panic("handler exploded")
		}
		got = append(got, string(m.Payload))
		done <- struct{}{}
	}, "pioreactor/u1/exp/logs/error")
	defer cancel()

	b.Publish("pioreactor/u1/exp/topic", []byte("one"), QoSAtLeastOnce, false)
	b.Publish("pioreactor/u1/exp/topic", []byte("boom"), QoSAtLeastOnce, false)
	b.Publish("pioreactor/u1/exp/topic", []byte("two"), QoSAtLeastOnce, false)

	for i := 0; i < 3; i++ {
		<-done
	}
	time.Sleep(50 * time.Millisecond)

	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("expected [one two] delivered despite panic, got %v", got)
	}
}
