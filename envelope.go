package occurrent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CloudEventsSpecVersion is the CloudEvents version envelopes are written in.
const CloudEventsSpecVersion = "1.0"

// Envelope is a stored event in CloudEvents 1.0 structured JSON form.
// Stream coordinates travel as extension attributes.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	Subject         string          `json:"subject,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	DataBase64      []byte          `json:"data_base64,omitempty"`
	StreamID        string          `json:"streamid"`
	StreamVersion   int64           `json:"streamversion"`
	GlobalPosition  uint64          `json:"globalposition,omitempty"`
	CorrelationID   string          `json:"correlationid,omitempty"`
	CausationID     string          `json:"causationid,omitempty"`
}

// EnvelopeCodec converts stored events to and from a wire representation.
type EnvelopeCodec interface {
	Encode(event StoredEvent) ([]byte, error)
	Decode(data []byte) (StoredEvent, error)
}

// CloudEventCodec encodes stored events as CloudEvents structured JSON.
type CloudEventCodec struct {
	source string
}

// NewCloudEventCodec creates a codec. The source is used for events that carry none.
func NewCloudEventCodec(source string) *CloudEventCodec {
	return &CloudEventCodec{source: source}
}

// Envelope builds the CloudEvents envelope of a stored event.
// JSON payloads are embedded as data, anything else travels as data_base64.
func (c *CloudEventCodec) Envelope(event StoredEvent) Envelope {
	source := event.Metadata.Source
	if source == "" {
		source = c.source
	}

	env := Envelope{
		SpecVersion:    CloudEventsSpecVersion,
		ID:             event.ID,
		Source:         source,
		Type:           event.Type,
		Time:           event.Timestamp.UTC(),
		Subject:        event.StreamID,
		StreamID:       event.StreamID,
		StreamVersion:  event.Version,
		GlobalPosition: event.GlobalPosition,
		CorrelationID:  event.Metadata.CorrelationID,
		CausationID:    event.Metadata.CausationID,
	}
	if json.Valid(event.Data) {
		env.DataContentType = "application/json"
		env.Data = json.RawMessage(event.Data)
	} else {
		env.DataContentType = "application/octet-stream"
		env.DataBase64 = event.Data
	}
	return env
}

// Encode implements EnvelopeCodec.
func (c *CloudEventCodec) Encode(event StoredEvent) ([]byte, error) {
	data, err := json.Marshal(c.Envelope(event))
	if err != nil {
		return nil, NewSerializationError(event.Type, "serialize", err)
	}
	return data, nil
}

// Decode implements EnvelopeCodec. Missing required attributes yield a *MalformedEventError.
func (c *CloudEventCodec) Decode(data []byte) (StoredEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return StoredEvent{}, NewMalformedEventError("", 0, "", err)
	}
	if err := env.validate(); err != nil {
		return StoredEvent{}, NewMalformedEventError(env.StreamID, env.StreamVersion, env.Type, err)
	}

	payload := []byte(env.Data)
	if len(env.DataBase64) > 0 {
		payload = env.DataBase64
	}

	return StoredEvent{
		ID:       env.ID,
		StreamID: env.StreamID,
		Type:     env.Type,
		Data:     payload,
		Metadata: Metadata{
			Source:        env.Source,
			CorrelationID: env.CorrelationID,
			CausationID:   env.CausationID,
		},
		Version:        env.StreamVersion,
		GlobalPosition: env.GlobalPosition,
		Timestamp:      env.Time,
	}, nil
}

func (e Envelope) validate() error {
	var errs []error
	if e.SpecVersion != CloudEventsSpecVersion {
		errs = append(errs, fmt.Errorf("unsupported specversion %q", e.SpecVersion))
	}
	if e.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if e.Source == "" {
		errs = append(errs, errors.New("missing source"))
	}
	if e.Type == "" {
		errs = append(errs, errors.New("missing type"))
	}
	if e.StreamID == "" {
		errs = append(errs, errors.New("missing streamid"))
	}
	if e.StreamVersion <= 0 {
		errs = append(errs, errors.New("streamversion must be positive"))
	}
	return errors.Join(errs...)
}
