package occurrent

import (
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// Serializer turns domain events into payload bytes and back.
// Deserialize receives the stored type name to pick the Go type to decode into.
type Serializer interface {
	Serialize(event interface{}) ([]byte, error)
	Deserialize(data []byte, eventType string) (interface{}, error)
}

// EventRegistry maps event type names to Go types. It is safe for concurrent use.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewEventRegistry creates an empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{types: make(map[string]reflect.Type)}
}

func valueType(example interface{}) reflect.Type {
	t := reflect.TypeOf(example)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Register maps eventType to the type of example. Pointers are dereferenced,
// so decoded events are always values.
func (r *EventRegistry) Register(eventType string, example interface{}) {
	t := valueType(example)

	r.mu.Lock()
	r.types[eventType] = t
	r.mu.Unlock()
}

// RegisterAll registers every example under the name GetEventType gives it.
func (r *EventRegistry) RegisterAll(examples ...interface{}) {
	for _, example := range examples {
		r.Register(GetEventType(example), example)
	}
}

// Lookup returns the Go type registered for eventType.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[eventType]
	return t, ok
}

// Names returns the registered type names in sorted order.
func (r *EventRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.types))
}

// Len returns how many type names are registered.
func (r *EventRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// JSONSerializer is the default Serializer. Unregistered types decode to
// map[string]interface{} unless the serializer is strict.
type JSONSerializer struct {
	registry *EventRegistry
	strict   bool
}

// JSONOption configures a JSONSerializer.
type JSONOption func(*JSONSerializer)

// WithRegistry shares registry with the serializer.
func WithRegistry(registry *EventRegistry) JSONOption {
	return func(s *JSONSerializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// StrictTypes makes the serializer fail on unregistered type names.
func StrictTypes() JSONOption {
	return func(s *JSONSerializer) {
		s.strict = true
	}
}

// NewJSONSerializer creates a JSONSerializer with its own registry.
func NewJSONSerializer(opts ...JSONOption) *JSONSerializer {
	s := &JSONSerializer{registry: NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds eventType to the serializer's registry.
func (s *JSONSerializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers examples under their event type names.
func (s *JSONSerializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the serializer's registry.
func (s *JSONSerializer) Registry() *EventRegistry {
	return s.registry
}

// Serialize encodes event as JSON.
func (s *JSONSerializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, NewSerializationError("", "serialize", errors.New("event is nil"))
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, NewSerializationError(GetEventType(event), "serialize", err)
	}
	return data, nil
}

// Deserialize decodes data into the type registered for eventType.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(eventType, "deserialize", errors.New("empty payload"))
	}

	t, ok := s.registry.Lookup(eventType)
	switch {
	case ok:
		ptr := reflect.New(t)
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return nil, NewSerializationError(eventType, "deserialize", err)
		}
		return ptr.Elem().Interface(), nil
	case s.strict:
		return nil, NewSerializationError(eventType, "deserialize", ErrEventTypeNotRegistered)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}
	return generic, nil
}

// EventTyper is implemented by events that name their own type.
type EventTyper interface {
	EventType() string
}

// GetEventType returns the stored type name of event: its EventType() when it
// implements EventTyper, its struct name otherwise.
func GetEventType(event interface{}) string {
	if event == nil {
		return ""
	}
	if typer, ok := event.(EventTyper); ok {
		return typer.EventType()
	}
	return valueType(event).Name()
}

// SerializeEvent builds the adapter record for a domain event.
func SerializeEvent(serializer Serializer, event interface{}, metadata Metadata) (adapters.EventRecord, error) {
	eventType := GetEventType(event)
	if eventType == "" {
		return adapters.EventRecord{}, NewSerializationError("", "serialize", errors.New("event has no type name"))
	}

	data, err := serializer.Serialize(event)
	if err != nil {
		return adapters.EventRecord{}, err
	}
	return adapters.EventRecord{Type: eventType, Data: data, Metadata: metadata}, nil
}

// DeserializeEvent decodes a stored event. Any decoding failure is a
// *MalformedEventError naming the stream and version.
func DeserializeEvent(serializer Serializer, stored StoredEvent) (Event, error) {
	data, err := serializer.Deserialize(stored.Data, stored.Type)
	if err != nil {
		return Event{}, NewMalformedEventError(stored.StreamID, stored.Version, stored.Type, err)
	}
	return EventFromStored(stored, data), nil
}
