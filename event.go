package occurrent

import (
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking.
	AnyVersion = adapters.AnyVersion

	// NoStream requires the stream to not exist yet.
	NoStream = adapters.NoStream

	// StreamExists requires the stream to exist.
	StreamExists = adapters.StreamExists
)

// Metadata contains event context such as the producing source and correlation IDs.
type Metadata = adapters.Metadata

// StoredEvent is a persisted event with a serialized payload.
type StoredEvent = adapters.StoredEvent

// StreamInfo contains metadata about an event stream.
type StreamInfo = adapters.StreamInfo

// Event is a decoded event as seen by deciders, handlers and projections.
type Event struct {
	// ID is the unique event identifier.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Type is the event type identifier.
	Type string

	// Data is the deserialized domain event. Unregistered types decode to
	// map[string]interface{} with the default serializer.
	Data interface{}

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the sequence number within the stream, starting at 1.
	Version int64

	// GlobalPosition is the position in the total order across all streams.
	GlobalPosition uint64

	// Timestamp is when the event was stored.
	Timestamp time.Time
}

// EventFromStored creates an Event from a StoredEvent and its decoded payload.
func EventFromStored(stored StoredEvent, data interface{}) Event {
	return Event{
		ID:             stored.ID,
		StreamID:       stored.StreamID,
		Type:           stored.Type,
		Data:           data,
		Metadata:       stored.Metadata,
		Version:        stored.Version,
		GlobalPosition: stored.GlobalPosition,
		Timestamp:      stored.Timestamp,
	}
}

// Stored returns the event without its decoded payload.
// Data is left empty.
func (e Event) Stored() StoredEvent {
	return StoredEvent{
		ID:             e.ID,
		StreamID:       e.StreamID,
		Type:           e.Type,
		Metadata:       e.Metadata,
		Version:        e.Version,
		GlobalPosition: e.GlobalPosition,
		Timestamp:      e.Timestamp,
	}
}

// Source returns the producer of the event.
func (e Event) Source() string {
	return e.Metadata.Source
}

// Payloads extracts the domain event values from decoded events.
func Payloads(events []Event) []interface{} {
	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e.Data
	}
	return out
}
