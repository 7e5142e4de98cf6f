package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultBufferSize is the number of messages kept while disconnected.
const DefaultBufferSize = 1000

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topics     Topics
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *zap.Logger

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(opts Options, logger *zap.Logger) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "relay-sim"
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = NewTopics("")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		topics: opts.Topics,
		logger: logger,
		outbox: newOutbox(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishTransition sends a relay change.
func (p *RealPublisher) PublishTransition(t Transition) error {
	payload, err := FormatTransitionPayload(t)
	if err != nil {
		return fmt.Errorf("format transition payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{kind: kindTransition, topic: p.topics.Relay, payload: payload})
}

// PublishSummary sends a series summary.
func (p *RealPublisher) PublishSummary(s SeriesSummary) error {
	payload, err := FormatSummaryPayload(s)
	if err != nil {
		return fmt.Errorf("format summary payload: %w", err)
	}
	return p.publish(bufferedMsg{kind: kindSummary, topic: p.topics.Summary, payload: payload, qos: 1})
}

// PublishSystem sends a lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{kind: kindSystem, topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		if p.outbox.push(msg) {
			p.logger.Warn("mqtt outbox full, evicting transitions", zap.Int("capacity", p.outbox.capacity))
		}
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// flush replays buffered messages after (re)connect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.outbox.drain()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	p.logger.Info("replaying buffered mqtt messages", zap.Int("count", len(msgs)))
	for _, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			p.logger.Warn("replay failed", zap.String("topic", m.topic), zap.Error(token.Error()))
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
