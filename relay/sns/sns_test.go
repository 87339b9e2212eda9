package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/relay"
	"github.com/simara-svatopluk/event-sourcing-occurrent/testing/testutil"
)

// mockSNSClient implements SNSClient for testing.
type mockSNSClient struct {
	publishCalls []*sns.PublishInput
	err          error
}

func (m *mockSNSClient) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.publishCalls = append(m.publishCalls, params)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

type wordPicked struct {
	Word string `json:"word"`
}

const topic = "arn:aws:sns:eu-central-1:123456789012:games"

func testEncoder() *relay.Encoder {
	return relay.NewEncoderWith(occurrent.NewJSONSerializer(), occurrent.NewCloudEventCodec("com.fairtiq.guessGame"))
}

func testEvent() occurrent.Event {
	return occurrent.Event{
		ID:             "evt-1",
		StreamID:       "game-1",
		Type:           "wordPicked",
		Data:           wordPicked{Word: "wolf"},
		Version:        2,
		GlobalPosition: 5,
	}
}

func TestPublisher_Handle(t *testing.T) {
	mock := &mockSNSClient{}
	logger := testutil.NewRecordingLogger()
	p := New(mock, testEncoder(), topic, WithLogger(logger))
	assert.False(t, p.FIFO())

	require.NoError(t, p.Handle(context.Background(), testEvent()))
	require.Len(t, mock.publishCalls, 1)

	call := mock.publishCalls[0]
	assert.Equal(t, topic, aws.ToString(call.TopicArn))
	assert.Nil(t, call.MessageGroupId)
	assert.Equal(t, "wordPicked", aws.ToString(call.MessageAttributes[relay.HeaderType].StringValue))
	assert.Equal(t, "game-1", aws.ToString(call.MessageAttributes[relay.HeaderSubject].StringValue))
	assert.Equal(t, "Number", aws.ToString(call.MessageAttributes[relay.HeaderStreamVersion].DataType))

	decoded, err := occurrent.NewCloudEventCodec("").Decode([]byte(aws.ToString(call.Message)))
	require.NoError(t, err)
	assert.Equal(t, "game-1", decoded.StreamID)
	assert.Equal(t, int64(2), decoded.Version)
	assert.JSONEq(t, `{"word":"wolf"}`, string(decoded.Data))

	entries := logger.Level("debug")
	require.Len(t, entries, 1)
	assert.Equal(t, "msg-1", entries[0].Value("message_id"))
}

func TestPublisher_FIFO(t *testing.T) {
	mock := &mockSNSClient{}
	p := New(mock, testEncoder(), topic+".fifo")
	assert.True(t, p.FIFO())

	require.NoError(t, p.Handle(context.Background(), testEvent()))
	require.Len(t, mock.publishCalls, 1)
	assert.Equal(t, "game-1", aws.ToString(mock.publishCalls[0].MessageGroupId))
	assert.Equal(t, "evt-1", aws.ToString(mock.publishCalls[0].MessageDeduplicationId))
}

func TestPublisher_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("publish error is transient", func(t *testing.T) {
		p := New(&mockSNSClient{err: errors.New("throttled")}, testEncoder(), topic)
		err := p.Handle(ctx, testEvent())
		assert.ErrorIs(t, err, occurrent.ErrStorageUnavailable)
	})

	t.Run("no client", func(t *testing.T) {
		err := New(nil, testEncoder(), topic).Handle(ctx, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client not configured")
		assert.False(t, errors.Is(err, occurrent.ErrStorageUnavailable))
	})

	t.Run("no topic", func(t *testing.T) {
		err := New(&mockSNSClient{}, testEncoder(), "").Handle(ctx, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "topic ARN")
	})
}
