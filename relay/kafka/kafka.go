// Package kafka publishes subscription deliveries to a Kafka topic using
// github.com/segmentio/kafka-go.
//
// Each event becomes one message keyed by its stream id, so a partition keeps
// the order of a stream. The value is the CloudEvents structured JSON envelope
// and the binary-mode ce_* attributes travel as headers.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/relay"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "occurrent-events"

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

var _ occurrent.Handler = (*Publisher)(nil)

// Publisher is an occurrent.Handler writing every event to Kafka.
type Publisher struct {
	encoder      *relay.Encoder
	brokers      []string
	topic        string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	writer       MessageWriter
	logger       occurrent.Logger
}

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithTopic sets the destination topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithBalancer sets the partition balancer. Default: hash of the key.
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout of the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithWriter replaces the Kafka writer, typically in tests.
func WithWriter(w MessageWriter) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// WithLogger sets the logger.
func WithLogger(l occurrent.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// New creates a Kafka Publisher.
func New(encoder *relay.Encoder, opts ...Option) *Publisher {
	p := &Publisher{
		encoder:      encoder,
		brokers:      []string{"localhost:9092"},
		topic:        DefaultTopic,
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		logger:       occurrent.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.writer == nil {
		p.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(p.brokers...),
			Topic:                  p.topic,
			Balancer:               p.balancer,
			BatchTimeout:           p.batchTimeout,
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	return p
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Handle publishes event and waits for the broker acknowledgement.
func (p *Publisher) Handle(ctx context.Context, event occurrent.Event) error {
	msg, err := p.message(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return relay.Unavailable("kafka write "+p.topic, err)
	}

	p.logger.Debug("Relayed event to Kafka",
		"topic", p.topic,
		"stream_id", event.StreamID,
		"version", event.Version,
		"global_position", event.GlobalPosition,
	)
	return nil
}

func (p *Publisher) message(event occurrent.Event) (kafkago.Message, error) {
	env, err := p.encoder.Envelope(event)
	if err != nil {
		return kafkago.Message{}, err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafkago.Message{}, occurrent.NewSerializationError(event.Type, "serialize", err)
	}

	headers := []kafkago.Header{
		{Key: relay.HeaderSpecVersion, Value: []byte(env.SpecVersion)},
		{Key: relay.HeaderID, Value: []byte(env.ID)},
		{Key: relay.HeaderSource, Value: []byte(env.Source)},
		{Key: relay.HeaderType, Value: []byte(env.Type)},
		{Key: relay.HeaderSubject, Value: []byte(env.Subject)},
		{Key: relay.HeaderStreamVersion, Value: []byte(strconv.FormatInt(env.StreamVersion, 10))},
		{Key: relay.HeaderGlobalPosition, Value: []byte(strconv.FormatUint(env.GlobalPosition, 10))},
	}
	if env.CorrelationID != "" {
		headers = append(headers, kafkago.Header{Key: relay.HeaderCorrelationID, Value: []byte(env.CorrelationID)})
	}

	return kafkago.Message{
		Key:     []byte(event.StreamID),
		Value:   value,
		Headers: headers,
		Time:    env.Time,
	}, nil
}

// Close closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
