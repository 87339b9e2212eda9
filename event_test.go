package occurrent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVersionConstants(t *testing.T) {
	assert.Equal(t, int64(-1), AnyVersion)
	assert.Equal(t, int64(0), NoStream)
	assert.Equal(t, int64(-2), StreamExists)
}

func TestEventFromStored(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	stored := StoredEvent{
		ID:             "evt-1",
		StreamID:       "game-1",
		Type:           "itemAdded",
		Data:           []byte(`{"item":"wolf"}`),
		Metadata:       Metadata{Source: "com.fairtiq.guessGame"},
		Version:        2,
		GlobalPosition: 7,
		Timestamp:      now,
	}

	event := EventFromStored(stored, itemAdded{Item: "wolf"})

	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "game-1", event.StreamID)
	assert.Equal(t, itemAdded{Item: "wolf"}, event.Data)
	assert.Equal(t, int64(2), event.Version)
	assert.Equal(t, uint64(7), event.GlobalPosition)
	assert.Equal(t, "com.fairtiq.guessGame", event.Source())

	back := event.Stored()
	assert.Nil(t, back.Data)
	assert.Equal(t, stored.Type, back.Type)
	assert.Equal(t, stored.GlobalPosition, back.GlobalPosition)
}

func TestPayloads(t *testing.T) {
	events := []Event{{Data: itemAdded{Item: "a"}}, {Data: itemRemoved{Item: "a"}}}

	assert.Equal(t, []interface{}{itemAdded{Item: "a"}, itemRemoved{Item: "a"}}, Payloads(events))
	assert.Empty(t, Payloads(nil))
}
