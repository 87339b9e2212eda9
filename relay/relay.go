// Package relay forwards events delivered by a subscription to message brokers.
//
// A relay is an occurrent.Handler. Run it on a durable subscription and every
// event is published at least once, in global order:
//
//	store := occurrent.New(adapter)
//	encoder := relay.NewEncoder(store)
//	publisher := kafka.New(encoder, kafka.WithBrokers("localhost:9092"), kafka.WithTopic("games"))
//	model.Subscribe(ctx, "games-to-kafka", nil, publisher, occurrent.WithMode(occurrent.ModeDurable))
//
// Broker failures are reported as storage unavailability, so the subscription
// pauses on the event and retries it instead of failing.
package relay

import (
	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// CloudEvents binary-mode attribute names.
const (
	HeaderSpecVersion    = "ce_specversion"
	HeaderID             = "ce_id"
	HeaderSource         = "ce_source"
	HeaderType           = "ce_type"
	HeaderSubject        = "ce_subject"
	HeaderStreamVersion  = "ce_streamversion"
	HeaderGlobalPosition = "ce_globalposition"
	HeaderCorrelationID  = "ce_correlationid"
)

// Encoder turns decoded events back into CloudEvents envelopes.
type Encoder struct {
	serializer occurrent.Serializer
	codec      *occurrent.CloudEventCodec
}

// NewEncoder creates an encoder using the serializer and source of store.
func NewEncoder(store *occurrent.EventStore) *Encoder {
	return NewEncoderWith(store.Serializer(), occurrent.NewCloudEventCodec(store.Source()))
}

// NewEncoderWith creates an encoder from an explicit serializer and codec.
func NewEncoderWith(serializer occurrent.Serializer, codec *occurrent.CloudEventCodec) *Encoder {
	return &Encoder{serializer: serializer, codec: codec}
}

// Stored re-serializes the payload of event.
func (e *Encoder) Stored(event occurrent.Event) (occurrent.StoredEvent, error) {
	stored := event.Stored()
	data, err := e.serializer.Serialize(event.Data)
	if err != nil {
		return occurrent.StoredEvent{}, err
	}
	stored.Data = data
	return stored, nil
}

// Envelope returns the CloudEvents envelope of event.
func (e *Encoder) Envelope(event occurrent.Event) (occurrent.Envelope, error) {
	stored, err := e.Stored(event)
	if err != nil {
		return occurrent.Envelope{}, err
	}
	return e.codec.Envelope(stored), nil
}

// Encode returns the envelope of event as structured JSON.
func (e *Encoder) Encode(event occurrent.Event) ([]byte, error) {
	stored, err := e.Stored(event)
	if err != nil {
		return nil, err
	}
	return e.codec.Encode(stored)
}

// Unavailable marks a broker failure so the subscription retries the event.
func Unavailable(op string, err error) error {
	return adapters.Unavailable(op, err)
}
