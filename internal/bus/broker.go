package bus

import (
	"sync"
	"time"
)

// Broker is the pub/sub hub: retained-message store, per-topic subscriber
// fan-out, and last-will bookkeeping. It is safe for concurrent use and
// runs either in-process (tests, single-binary deployments) or behind
// Server's TCP listener (cross-host leader/worker deployments).
type Broker struct {
	mu          sync.RWMutex
	retained    map[string]Message
	subscribers map[string][]*subscriber
	wills       map[string]LastWill // keyed by client ID
	down        bool
}

type subscriber struct {
	id string
	ch chan Message
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		retained:    make(map[string]Message),
		subscribers: make(map[string][]*subscriber),
		wills:       make(map[string]LastWill),
	}
}

// Publish delivers payload to every current subscriber of topic, in
// arrival order per subscription, and — if retain is set — stores it as
// the topic's retained value so future subscribers see the last known
// value immediately on connect (spec.md §5 bus ordering guarantees).
func (b *Broker) Publish(topic string, payload []byte, qos QoS, retain bool) {
	msg := Message{Topic: topic, Payload: payload, QoS: qos, Retain: retain, Timestamp: time.Now()}

	b.mu.Lock()
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = msg
		}
	}
	subs := append([]*subscriber(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			// Slow subscriber: hand the message to a goroutine that waits for
			// room in the channel, so publish never stalls. A message sent
			// this way may reach the subscriber out of order.
			go func(s *subscriber, msg Message) { s.ch <- msg }(s, msg)
		}
	}
}

// Subscribe registers a subscriber and returns a channel of messages for
// that exact topic. If a retained message exists it is delivered first.
// The returned cancel func removes the subscription.
func (b *Broker) Subscribe(clientID, topic string) (<-chan Message, func()) {
	ch := make(chan Message, 64)
	sub := &subscriber{id: clientID, ch: ch}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	retained, ok := b.retained[topic]
	b.mu.Unlock()

	if ok {
		ch <- retained
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		for i, s := range subs {
			if s == sub {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// Retained returns the current retained value for topic, if any.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.retained[topic]
	if !ok {
		return nil, false
	}
	return msg.Payload, true
}

// RegisterWill records the message to publish if clientID disconnects
// without calling Disconnect cleanly first — it is consumed by Kill.
func (b *Broker) RegisterWill(clientID string, will LastWill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wills[clientID] = will
}

// Disconnect performs a clean shutdown for clientID: its last will is
// discarded (a clean disconnect must not publish `lost`).
func (b *Broker) Disconnect(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.wills, clientID)
}

// Kill simulates the owning process dying without disconnecting cleanly:
// the broker publishes clientID's registered last will, retained.
// In a real deployment this fires from the broker's own keepalive timeout;
// in-process callers (tests, process supervisors) call it directly when
// they observe a PID vanish.
func (b *Broker) Kill(clientID string) {
	b.mu.Lock()
	will, ok := b.wills[clientID]
	delete(b.wills, clientID)
	b.mu.Unlock()

	if ok {
		b.Publish(will.Topic, will.Payload, will.QoS, will.Retain)
	}
}

// Available reports whether the broker is accepting publishes. Tests use
// SetDown to simulate a bus-transient outage for backoff testing.
func (b *Broker) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.down
}

// SetDown simulates the broker becoming unreachable (down=true) or
// recovering (down=false).
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}
