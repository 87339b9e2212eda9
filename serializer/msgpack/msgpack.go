// Package msgpack provides MessagePack encoding for events and projection views.
//
// MessagePack payloads are smaller than JSON and decode faster.
//
//	serializer := msgpack.NewSerializer()
//	store := occurrent.New(adapter, occurrent.WithSerializer(serializer))
//	store.RegisterEvents(GameStarted{}, GuessedCorrectly{}, GuessedWrongly{})
//
//	projector := occurrent.NewProjector(progress, views, occurrent.WithViewCodec(msgpack.ViewCodec()))
package msgpack

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
)

var (
	_ occurrent.Serializer = (*Serializer)(nil)
	_ occurrent.ViewCodec  = codec{}
)

// Serializer is a MessagePack implementation of occurrent.Serializer.
// Struct fields without a msgpack tag are named by their json tag, so events
// keep the same field names under both encodings.
type Serializer struct {
	registry *occurrent.EventRegistry
	strict   bool
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithRegistry shares an existing type registry.
func WithRegistry(registry *occurrent.EventRegistry) SerializerOption {
	return func(s *Serializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithStrict refuses to decode unregistered event types.
func WithStrict() SerializerOption {
	return func(s *Serializer) {
		s.strict = true
	}
}

// NewSerializer creates a MessagePack Serializer.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{registry: occurrent.NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a mapping from eventType to the Go type of the example.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers events under the names occurrent.GetEventType reports.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the type registry.
func (s *Serializer) Registry() *occurrent.EventRegistry {
	return s.registry
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, occurrent.NewSerializationError("nil", "serialize", errors.New("event cannot be nil"))
	}

	data, err := marshal(event)
	if err != nil {
		return nil, occurrent.NewSerializationError(occurrent.GetEventType(event), "serialize", err)
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to an event.
// Registered types decode to a value of that type, others to a map.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, occurrent.NewSerializationError(eventType, "deserialize", errors.New("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		if s.strict {
			return nil, occurrent.NewSerializationError(eventType, "deserialize", occurrent.ErrEventTypeNotRegistered)
		}
		var result map[string]interface{}
		if err := unmarshal(data, &result); err != nil {
			return nil, occurrent.NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := unmarshal(data, ptr.Interface()); err != nil {
		return nil, occurrent.NewSerializationError(eventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}

type codec struct{}

// ViewCodec returns a MessagePack occurrent.ViewCodec.
func ViewCodec() occurrent.ViewCodec {
	return codec{}
}

func (codec) Marshal(v interface{}) ([]byte, error) {
	return marshal(v)
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	return unmarshal(data, v)
}

func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("msgpack: %w", err)
	}
	return nil
}
