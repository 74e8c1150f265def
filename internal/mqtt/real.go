package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Config configures a RealPublisher.
type Config struct {
	Broker      string
	ClientID    string
	Topic       string
	TopicSystem string
	// BufferSize is how many messages are held while disconnected.
	BufferSize int
}

// client is the subset of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// broker is unreachable are held in a ring buffer and replayed in order on
// reconnect; the oldest are dropped when it fills.
type RealPublisher struct {
	client      client
	topic       string
	topicSystem string
	log         *slog.Logger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	reconnect bool // true after the first successful connect
}

// NewRealPublisher starts connecting to the broker and returns immediately.
// Connection is retried in the background.
func NewRealPublisher(cfg Config, logger *slog.Logger) *RealPublisher {
	p := newPublisher(nil, cfg, logger)

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleDisconnect(err) })

	c := paho.NewClient(opts)
	p.client = c
	c.Connect()
	return p
}

func newPublisher(c client, cfg Config, logger *slog.Logger) *RealPublisher {
	if cfg.Topic == "" {
		cfg.Topic = Topic
	}
	if cfg.TopicSystem == "" {
		cfg.TopicSystem = TopicSystem
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealPublisher{
		client:      c,
		topic:       cfg.Topic,
		topicSystem: cfg.TopicSystem,
		log:         logger.With("component", "mqtt"),
		buf:         newRingBuffer(cfg.BufferSize),
	}
}

// Publish sends a garage event to the MQTT broker.
func (p *RealPublisher) Publish(event garage.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: p.topicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.hold(msg)
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.hold(msg)
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		p.hold(msg)
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) hold(msg bufferedMsg) {
	p.mu.Lock()
	dropped := p.buf.push(msg)
	n := p.buf.len()
	p.mu.Unlock()

	metrics.SetMQTTBuffered(n)
	if dropped {
		p.log.Warn("buffer full, dropping oldest", "capacity", n)
	}
}

// handleConnect replays held messages and, after a reconnect, announces it.
func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	p.connected = true
	wasReconnect := p.reconnect
	p.reconnect = true
	held := p.buf.drainAll()
	p.mu.Unlock()
	metrics.SetMQTTBuffered(0)

	if wasReconnect {
		p.log.Info("reconnected", "replaying", len(held))
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		held = append([]bufferedMsg{{topic: p.topicSystem, payload: payload, qos: 1}}, held...)
	} else {
		p.log.Info("connected", "replaying", len(held))
	}

	for _, msg := range held {
		if err := p.publish(msg); err != nil {
			p.log.Warn("replay failed", "topic", msg.topic, "error", err)
		}
	}
}

func (p *RealPublisher) handleDisconnect(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn("connection lost", "error", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}
