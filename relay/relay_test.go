package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
)

type wordPicked struct {
	Word string `json:"word"`
}

func TestEncoder_RoundTripsStoredEvents(t *testing.T) {
	ctx := context.Background()
	store := occurrent.New(memory.NewAdapter(), occurrent.WithSource("com.fairtiq.guessGame"))
	store.RegisterEvents(wordPicked{})

	_, err := store.Append(ctx, "game-1", occurrent.NoStream, wordPicked{Word: "wolf"})
	require.NoError(t, err)

	events, err := store.Read(ctx, "game-1", 0)
	require.NoError(t, err)
	raw, err := store.ReadRaw(ctx, "game-1", 0)
	require.NoError(t, err)

	encoder := NewEncoder(store)
	stored, err := encoder.Stored(events[0])
	require.NoError(t, err)
	assert.Equal(t, raw[0].ID, stored.ID)
	assert.JSONEq(t, string(raw[0].Data), string(stored.Data))

	data, err := encoder.Encode(events[0])
	require.NoError(t, err)

	decoded, err := occurrent.NewCloudEventCodec("").Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "wordPicked", decoded.Type)
	assert.Equal(t, "game-1", decoded.StreamID)
	assert.Equal(t, "com.fairtiq.guessGame", decoded.Metadata.Source)
	assert.JSONEq(t, `{"word":"wolf"}`, string(decoded.Data))
}

func TestEncoder_SerializationFailure(t *testing.T) {
	encoder := NewEncoderWith(occurrent.NewJSONSerializer(), occurrent.NewCloudEventCodec("test"))

	_, err := encoder.Envelope(occurrent.Event{ID: "evt-1", StreamID: "game-1", Version: 1, Data: make(chan int)})
	assert.ErrorIs(t, err, occurrent.ErrSerializationFailed)
}

func TestUnavailable(t *testing.T) {
	err := Unavailable("kafka write", assert.AnError)
	assert.ErrorIs(t, err, occurrent.ErrStorageUnavailable)
	assert.ErrorIs(t, err, assert.AnError)
}
