// Package adapters provides interfaces for event store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("occurrent: concurrency conflict")

	// ErrStreamNotFound is returned when a stream does not exist.
	ErrStreamNotFound = errors.New("occurrent: stream not found")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("occurrent: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("occurrent: no events to append")

	// ErrEmptyEventType is returned when an event record has no type.
	ErrEmptyEventType = errors.New("occurrent: event type is required")

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = errors.New("occurrent: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("occurrent: adapter is closed")

	// ErrStorageUnavailable is matched by transient backend failures.
	ErrStorageUnavailable = errors.New("occurrent: storage unavailable")

	// ErrEmptyKey is returned when a position or view key is empty.
	ErrEmptyKey = errors.New("occurrent: key is required")
)

// Metadata contains event context.
// These fields are preserved across serialization.
type Metadata struct {
	// Source identifies the producer of the event, e.g. "com.fairtiq.guessGame".
	// It maps to the CloudEvents source attribute and is what source filters match on.
	Source string `json:"source,omitempty" bson:"source,omitempty" msgpack:"source,omitempty"`

	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty" bson:"correlationId,omitempty" msgpack:"correlationId,omitempty"`

	// CausationID identifies the event that caused this event.
	CausationID string `json:"causationId,omitempty" bson:"causationId,omitempty" msgpack:"causationId,omitempty"`

	// UserID identifies who triggered this event.
	UserID string `json:"userId,omitempty" bson:"userId,omitempty" msgpack:"userId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty" bson:"custom,omitempty" msgpack:"custom,omitempty"`
}

// IsEmpty reports whether no metadata field is set.
func (m Metadata) IsEmpty() bool {
	return m.Source == "" && m.CorrelationID == "" && m.CausationID == "" &&
		m.UserID == "" && len(m.Custom) == 0
}

// StoredEvent represents a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the position within the stream (1-based, gapless).
	Version int64

	// GlobalPosition is the global ordering position across all streams.
	// It is strictly increasing in commit order.
	GlobalPosition uint64

	// Timestamp is when the event was stored.
	Timestamp time.Time
}

// StreamInfo contains metadata about an event stream.
type StreamInfo struct {
	StreamID   string
	Category   string
	Version    int64
	EventCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventRecord represents an event to be appended to a stream.
type EventRecord struct {
	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata
}

// EventStoreAdapter is the contract a storage backend must satisfy.
// It has to offer atomic compare-and-append per stream, an ordered range read per
// stream, and a total-order read across all streams from a global position.
type EventStoreAdapter interface {
	// Append stores events to the specified stream with optimistic concurrency control.
	// The version check and the write are one atomic operation: either every event is
	// stored or none is. A version mismatch returns an error matching ErrConcurrencyConflict.
	Append(ctx context.Context, streamID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load retrieves events from a stream with a version greater than fromVersion,
	// in ascending order. An absent stream yields an empty slice.
	Load(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error)

	// LoadFromPosition retrieves at most limit events with a global position greater
	// than fromPosition, ordered by global position.
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]StoredEvent, error)

	// GetStreamInfo returns metadata about a stream.
	// Returns an error matching ErrStreamNotFound if the stream does not exist.
	GetStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error)

	// GetLastPosition returns the global position of the last stored event, or 0.
	GetLastPosition(ctx context.Context) (uint64, error)

	// Initialize sets up the required schema.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// PositionStore persists subscription positions.
type PositionStore interface {
	// GetPosition returns the stored position for a subscription.
	// The boolean is false when no position has been stored yet.
	GetPosition(ctx context.Context, subscriptionID string) (uint64, bool, error)

	// SetPosition stores the position for a subscription.
	SetPosition(ctx context.Context, subscriptionID string, position uint64) error

	// DeletePosition removes the stored position, so the next start resumes from scratch.
	DeletePosition(ctx context.Context, subscriptionID string) error
}

// ViewRecord is one persisted materialized view.
type ViewRecord struct {
	// Projection is the name of the projection owning the view.
	Projection string

	// Key is the view key, normally the stream ID the view was folded from.
	Key string

	// Version is the sequence number of the last event applied to the view.
	Version int64

	// Data is the serialized view value.
	Data []byte

	// UpdatedAt is when the view was last written.
	UpdatedAt time.Time
}

// ViewStore persists materialized views keyed by projection and stream ID.
// The view value and its last-applied version are written together.
type ViewStore interface {
	// GetView returns the record for a key, or nil if none exists.
	GetView(ctx context.Context, projection, key string) (*ViewRecord, error)

	// SaveView inserts or replaces a record.
	SaveView(ctx context.Context, record ViewRecord) error

	// ListViews returns every record of a projection ordered by key.
	ListViews(ctx context.Context, projection string) ([]ViewRecord, error)

	// DeleteViews removes every record of a projection.
	DeleteViews(ctx context.Context, projection string) error
}

// HealthChecker is implemented by adapters that can check connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
