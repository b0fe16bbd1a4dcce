package bus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/metrics"
)

// backend is the minimal surface Client needs from whatever is actually
// carrying messages — an in-process *Broker for colocated processes, or a
// *netBackend speaking the wire protocol to a remote Server.
type backend interface {
	Publish(topic string, payload []byte, qos QoS, retain bool)
	Subscribe(clientID, topic string) (<-chan Message, func())
	Retained(topic string) ([]byte, bool)
	RegisterWill(clientID string, will LastWill)
	Disconnect(clientID string)
	Available() bool
}

// Client is a per-process connection to the bus. One Client is created per
// job/daemon and used for all its publishes/subscribes.
type Client struct {
	backend  backend
	clientID string

	maxReconnectAttempts int
	publishTimeout       time.Duration

	mu     sync.Mutex
	closed bool
}

// Config controls reconnect/backoff behavior (spec.md §5 "Timeouts").
type Config struct {
	MaxReconnectAttempts int
	PublishTimeout       time.Duration
}

// DefaultConfig matches spec.md §4.A / §5: at most 10 linear-backoff
// attempts, 5s publish timeout budget.
func DefaultConfig() Config {
	return Config{MaxReconnectAttempts: 10, PublishTimeout: 5 * time.Second}
}

// NewClient creates a Client bound to an in-process Broker. clientID
// should be unique per job, e.g. "<unit>/<experiment>/<job_name>".
func NewClient(b *Broker, clientID string, cfg Config) *Client {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Client{backend: b, clientID: clientID, maxReconnectAttempts: cfg.MaxReconnectAttempts, publishTimeout: cfg.PublishTimeout}
}

// NewNetClient creates a Client that talks to a remote Server over TCP.
// The initial connection is retried with linear backoff; a connection
// that drops later is not re-established.
func NewNetClient(address, clientID string, cfg Config) (*Client, error) {
	nb, err := dialNetBackend(address, clientID, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Client{backend: nb, clientID: clientID, maxReconnectAttempts: cfg.MaxReconnectAttempts, publishTimeout: cfg.PublishTimeout}, nil
}

// RegisterLastWill registers the message published, retained, if this
// client's process dies without calling Disconnect (spec.md §4.A).
func (c *Client) RegisterLastWill(topic string, payload []byte) {
	c.backend.RegisterWill(c.clientID, LastWill{Topic: topic, Payload: payload, QoS: QoSExactlyOnce, Retain: true})
}

// Publish sends payload to topic, retrying with linear backoff (250ms,
// 500ms, 750ms, ... capped at maxReconnectAttempts) while the backend reports itself
// unavailable. It never panics or crashes the owning job — on exhaustion
// it returns domain.ErrBusUnavailable equivalent via a plain error.
func (c *Client) Publish(topic string, payload []byte, qos QoS, retain bool) error {
	attempt := 0
	for {
		if c.backend.Available() {
			c.backend.Publish(topic, payload, qos, retain)
			return nil
		}
		attempt++
		metrics.BusReconnectAttempts.Inc()
		if attempt >= c.maxReconnectAttempts {
			metrics.BusPublishFailures.Inc()
			return fmt.Errorf("bus: publish to %s: %w", topic, domain.ErrBusUnavailable)
		}
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
}

// PublishJSON is a convenience wrapper used throughout the job runtime.
func (c *Client) PublishJSON(topic string, v any, qos QoS, retain bool) error {
	payload, err := marshalJSON(v)
	if err != nil {
		return err
	}
	return c.Publish(topic, payload, qos, retain)
}

// Subscribe returns the next message on topic, or an error if none
// arrives before timeout.
func (c *Client) Subscribe(topic string, timeout time.Duration) (Message, error) {
	ch, cancel := c.backend.Subscribe(c.clientID, topic)
	defer cancel()

	select {
	case m := <-ch:
		return m, nil
	case <-time.After(timeout):
		return Message{}, domain.ErrSubscribeTimeout
	}
}

// Retained returns topic's retained payload, if any, without blocking.
func (c *Client) Retained(topic string) ([]byte, bool) {
	return c.backend.Retained(topic)
}

// Handler processes one delivered message. A panicking handler is
// recovered and logged to the owning unit's `logs` topic, never killing
// the process (spec.md §4.A).
type Handler func(Message)

// SubscribeAndCallback spawns one listener goroutine per topic that
// delivers messages, in arrival order, to handler. logTopic receives a
// JSON log line if handler panics. Returns a cancel func that stops all
// listeners.
func (c *Client) SubscribeAndCallback(topics []string, handler Handler, logTopic string) func() {
	cancels := make([]func(), 0, len(topics))
	for _, topic := range topics {
		ch, cancel := c.backend.Subscribe(c.clientID, topic)
		cancels = append(cancels, cancel)
		go func(topic string, ch <-chan Message) {
			for msg := range ch {
				c.dispatch(topic, msg, handler, logTopic)
			}
		}(topic, ch)
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (c *Client) dispatch(topic string, msg Message, handler Handler, logTopic string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerPanics.WithLabelValues(topic).Inc()
			log.Printf("[bus] handler panic on %s: %v", topic, r)
			if logTopic != "" {
				errPayload, _ := marshalJSON(map[string]any{
					"timestamp": time.Now(),
					"message":   fmt.Sprintf("subscriber handler panicked on %s: %v", topic, r),
					"task":      "bus",
					"source":    "bus",
				})
				c.backend.Publish(logTopic, errPayload, QoSExactlyOnce, false)
			}
		}
	}()
	handler(msg)
}

// Disconnect performs a clean shutdown: the registered last will is
// discarded so it is never fired for an intentional stop.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.backend.Disconnect(c.clientID)
}

