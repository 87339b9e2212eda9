// Package sns publishes subscription deliveries to an AWS SNS topic.
//
// The message body is the CloudEvents structured JSON envelope. Type, source
// and stream coordinates are copied into message attributes so subscribers can
// filter without parsing the body. On FIFO topics the stream id is the message
// group, which keeps each stream ordered, and the event id deduplicates.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/relay"
)

// SNSClient defines the subset of the SNS API used by the publisher.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var _ occurrent.Handler = (*Publisher)(nil)

// Publisher is an occurrent.Handler publishing every event to one SNS topic.
type Publisher struct {
	client   SNSClient
	encoder  *relay.Encoder
	topicARN string
	logger   occurrent.Logger
}

// Option configures an SNS Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l occurrent.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// New creates an SNS Publisher for topicARN.
func New(client SNSClient, encoder *relay.Encoder, topicARN string, opts ...Option) *Publisher {
	p := &Publisher{
		client:   client,
		encoder:  encoder,
		topicARN: topicARN,
		logger:   occurrent.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TopicARN returns the destination topic.
func (p *Publisher) TopicARN() string {
	return p.topicARN
}

// FIFO reports whether the topic is a FIFO topic.
func (p *Publisher) FIFO() bool {
	return strings.HasSuffix(p.topicARN, ".fifo")
}

// Handle publishes event and waits for SNS to accept it.
func (p *Publisher) Handle(ctx context.Context, event occurrent.Event) error {
	if p.client == nil {
		return errors.New("occurrent/sns: client not configured")
	}
	if p.topicARN == "" {
		return errors.New("occurrent/sns: topic ARN not configured")
	}

	input, err := p.input(event)
	if err != nil {
		return err
	}

	out, err := p.client.Publish(ctx, input)
	if err != nil {
		return relay.Unavailable("sns publish "+p.topicARN, err)
	}

	p.logger.Debug("Relayed event to SNS",
		"topic_arn", p.topicARN,
		"message_id", aws.ToString(out.MessageId),
		"stream_id", event.StreamID,
		"version", event.Version,
	)
	return nil
}

func (p *Publisher) input(event occurrent.Event) (*sns.PublishInput, error) {
	env, err := p.encoder.Envelope(event)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, occurrent.NewSerializationError(event.Type, "serialize", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			relay.HeaderType:          stringAttribute(env.Type),
			relay.HeaderSource:        stringAttribute(env.Source),
			relay.HeaderSubject:       stringAttribute(env.StreamID),
			relay.HeaderStreamVersion: numberAttribute(strconv.FormatInt(env.StreamVersion, 10)),
		},
	}
	if p.FIFO() {
		input.MessageGroupId = aws.String(event.StreamID)
		input.MessageDeduplicationId = aws.String(event.ID)
	}
	return input, nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func numberAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("Number"), StringValue: aws.String(v)}
}
