package occurrent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// EventStore is the main entry point for writing and reading events.
// It serializes domain events, stamps their source and delegates to an adapter.
type EventStore struct {
	adapter    adapters.EventStoreAdapter
	serializer Serializer
	logger     Logger
	source     string
	retry      RetryPolicy
	appended   *broadcaster
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		es.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		es.logger = l
	}
}

// WithSource sets the source stamped on every appended event that has none.
func WithSource(source string) Option {
	return func(es *EventStore) {
		es.source = source
	}
}

// WithStorageRetry sets the policy for retrying transient storage failures.
// Only errors matching ErrStorageUnavailable are retried.
func WithStorageRetry(policy RetryPolicy) Option {
	return func(es *EventStore) {
		es.retry = policy
	}
}

// DefaultStorageRetry is used when no storage retry policy is configured:
// three attempts with exponential backoff between 50ms and 2s.
func DefaultStorageRetry() RetryPolicy {
	return ExponentialBackoffRetry(2, 50*time.Millisecond, 2*time.Second)
}

// New creates a new EventStore with the given adapter and options.
func New(adapter adapters.EventStoreAdapter, opts ...Option) *EventStore {
	es := &EventStore{
		adapter:    adapter,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
		retry:      DefaultStorageRetry(),
		appended:   newBroadcaster(),
	}

	for _, opt := range opts {
		opt(es)
	}
	es.retry = RetryTransient(es.retry)

	return es
}

// Serializer returns the event store's serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// Adapter returns the underlying adapter.
func (s *EventStore) Adapter() adapters.EventStoreAdapter {
	return s.adapter
}

// Source returns the configured event source.
func (s *EventStore) Source() string {
	return s.source
}

// registrar is implemented by serializers backed by an EventRegistry.
type registrar interface {
	RegisterAll(examples ...interface{})
}

// RegisterEvents registers event types with the serializer.
// This is required for deserializing events back to their original types.
func (s *EventStore) RegisterEvents(events ...interface{}) {
	if r, ok := s.serializer.(registrar); ok {
		r.RegisterAll(events...)
	}
}

// Append stores domain events on a stream if the stream is at expectedVersion.
// It returns the new stream version. A lost race returns an error matching
// ErrConcurrencyConflict and nothing is stored.
func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion int64, events ...interface{}) (int64, error) {
	return s.AppendWithMetadata(ctx, streamID, expectedVersion, Metadata{}, events...)
}

// AppendWithMetadata is Append with metadata attached to every event.
func (s *EventStore) AppendWithMetadata(ctx context.Context, streamID string, expectedVersion int64, metadata Metadata, events ...interface{}) (int64, error) {
	if streamID == "" {
		return 0, ErrEmptyStreamID
	}
	if len(events) == 0 {
		return 0, ErrNoEvents
	}

	if metadata.Source == "" {
		metadata.Source = s.source
	}

	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		record, err := SerializeEvent(s.serializer, event, metadata)
		if err != nil {
			return 0, fmt.Errorf("occurrent: failed to serialize event %d: %w", i, err)
		}
		records[i] = record
	}

	stored, err := s.AppendRecords(ctx, streamID, expectedVersion, records)
	if err != nil {
		return 0, err
	}
	return stored[len(stored)-1].Version, nil
}

// AppendRecords stores already serialized records.
// Transient failures are retried unless expectedVersion is AnyVersion, where a
// retry after an ambiguous commit could store the events twice.
func (s *EventStore) AppendRecords(ctx context.Context, streamID string, expectedVersion int64, records []adapters.EventRecord) ([]StoredEvent, error) {
	policy := s.retry
	if expectedVersion == AnyVersion {
		policy = NoRetry()
	}

	var stored []adapters.StoredEvent
	err := retry(ctx, policy, func() error {
		var err error
		stored, err = s.adapter.Append(ctx, streamID, records, expectedVersion)
		return err
	}, s.logRetry("append", streamID))
	if err != nil {
		return nil, err
	}

	s.appended.broadcast()
	return stored, nil
}

// Read returns the decoded events of a stream with a version greater than fromVersion.
// An absent stream yields no events. A payload that cannot be decoded fails the
// whole read with a *MalformedEventError.
func (s *EventStore) Read(ctx context.Context, streamID string, fromVersion int64) ([]Event, error) {
	stored, err := s.ReadRaw(ctx, streamID, fromVersion)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(stored))
	for i, e := range stored {
		event, err := DeserializeEvent(s.serializer, e)
		if err != nil {
			return nil, err
		}
		events[i] = event
	}
	return events, nil
}

// ReadRaw returns the stored, still serialized events of a stream.
func (s *EventStore) ReadRaw(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	var stored []adapters.StoredEvent
	err := retry(ctx, s.retry, func() error {
		var err error
		stored, err = s.adapter.Load(ctx, streamID, fromVersion)
		return err
	}, s.logRetry("load", streamID))
	return stored, err
}

// ReadAll returns at most limit events after fromPosition across all streams,
// ordered by global position.
func (s *EventStore) ReadAll(ctx context.Context, fromPosition uint64, limit int) ([]StoredEvent, error) {
	var stored []adapters.StoredEvent
	err := retry(ctx, s.retry, func() error {
		var err error
		stored, err = s.adapter.LoadFromPosition(ctx, fromPosition, limit)
		return err
	}, s.logRetry("load_from_position", ""))
	return stored, err
}

// Decode deserializes a stored event with the store's serializer.
func (s *EventStore) Decode(stored StoredEvent) (Event, error) {
	return DeserializeEvent(s.serializer, stored)
}

// StreamVersion returns the current version of a stream, 0 if it does not exist.
func (s *EventStore) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	info, err := s.GetStreamInfo(ctx, streamID)
	if errors.Is(err, ErrStreamNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Version, nil
}

// GetStreamInfo returns metadata about a stream.
func (s *EventStore) GetStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	return s.adapter.GetStreamInfo(ctx, streamID)
}

// LastPosition returns the global position of the last stored event.
func (s *EventStore) LastPosition(ctx context.Context) (uint64, error) {
	var pos uint64
	err := retry(ctx, s.retry, func() error {
		var err error
		pos, err = s.adapter.GetLastPosition(ctx)
		return err
	}, s.logRetry("get_last_position", ""))
	return pos, err
}

// AppendSignal returns a channel that is closed by the next successful append
// through this store.
func (s *EventStore) AppendSignal() <-chan struct{} {
	return s.appended.wait()
}

// Initialize initializes the underlying adapter.
func (s *EventStore) Initialize(ctx context.Context) error {
	return s.adapter.Initialize(ctx)
}

// Close closes the underlying adapter.
func (s *EventStore) Close() error {
	return s.adapter.Close()
}

func (s *EventStore) logRetry(op, streamID string) func(int, error) {
	return func(attempt int, err error) {
		s.logger.Warn("Retrying storage operation",
			"operation", op,
			"stream_id", streamID,
			"attempt", attempt+1,
			"error", err,
		)
	}
}

// broadcaster wakes every waiter at once by closing a channel.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}
