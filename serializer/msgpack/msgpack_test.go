package msgpack

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vmsgpack "github.com/vmihailenco/msgpack/v5"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
)

type gameStarted struct {
	GameID      string `json:"gameId"`
	WordToGuess string `json:"wordToGuess"`
}

func (gameStarted) EventType() string { return "GameStarted" }

type guessMade struct {
	Player string   `msgpack:"p"`
	Word   string   `json:"word"`
	Tags   []string `json:"tags"`
}

type progressView struct {
	State   string `json:"state"`
	Guesses int    `json:"guesses"`
}

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()
	s.RegisterAll(gameStarted{}, guessMade{})

	data, err := s.Serialize(gameStarted{GameID: "game-1", WordToGuess: "wolf"})
	require.NoError(t, err)

	event, err := s.Deserialize(data, "GameStarted")
	require.NoError(t, err)
	assert.Equal(t, gameStarted{GameID: "game-1", WordToGuess: "wolf"}, event)

	data, err = s.Serialize(guessMade{Player: "Roberto", Word: "fox", Tags: []string{"first"}})
	require.NoError(t, err)

	event, err = s.Deserialize(data, "guessMade")
	require.NoError(t, err)
	assert.Equal(t, guessMade{Player: "Roberto", Word: "fox", Tags: []string{"first"}}, event)
}

func TestSerializer_FieldNames(t *testing.T) {
	s := NewSerializer()

	data, err := s.Serialize(guessMade{Player: "Viturin", Word: "owl"})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, vmsgpack.Unmarshal(data, &raw))
	assert.Equal(t, "Viturin", raw["p"])
	assert.Equal(t, "owl", raw["word"])
}

func TestSerializer_UnregisteredType(t *testing.T) {
	data, err := NewSerializer().Serialize(gameStarted{GameID: "game-1", WordToGuess: "wolf"})
	require.NoError(t, err)

	t.Run("decodes to a map", func(t *testing.T) {
		event, err := NewSerializer().Deserialize(data, "GameStarted")
		require.NoError(t, err)

		m, ok := event.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "wolf", m["wordToGuess"])
	})

	t.Run("strict mode refuses", func(t *testing.T) {
		_, err := NewSerializer(WithStrict()).Deserialize(data, "GameStarted")
		assert.ErrorIs(t, err, occurrent.ErrSerializationFailed)
		assert.ErrorIs(t, err, occurrent.ErrEventTypeNotRegistered)
	})
}

func TestSerializer_Errors(t *testing.T) {
	s := NewSerializer()
	s.RegisterAll(gameStarted{})

	_, err := s.Serialize(nil)
	assert.ErrorIs(t, err, occurrent.ErrSerializationFailed)

	_, err = s.Serialize(make(chan int))
	assert.ErrorIs(t, err, occurrent.ErrSerializationFailed)

	_, err = s.Deserialize(nil, "GameStarted")
	assert.ErrorIs(t, err, occurrent.ErrSerializationFailed)

	_, err = s.Deserialize([]byte{0xc1}, "GameStarted")
	var serr *occurrent.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "GameStarted", serr.EventType)
	assert.Equal(t, "deserialize", serr.Operation)
}

func TestSerializer_SharedRegistry(t *testing.T) {
	registry := occurrent.NewEventRegistry()
	registry.RegisterAll(gameStarted{})

	s := NewSerializer(WithRegistry(registry))
	assert.Same(t, registry, s.Registry())

	_, ok := s.Registry().Lookup("GameStarted")
	assert.True(t, ok)
}

func TestSerializer_WithEventStore(t *testing.T) {
	ctx := context.Background()
	store := occurrent.New(memory.NewAdapter(), occurrent.WithSerializer(NewSerializer()))
	store.RegisterEvents(gameStarted{})

	_, err := store.Append(ctx, "game-1", occurrent.NoStream, gameStarted{GameID: "game-1", WordToGuess: "wolf"})
	require.NoError(t, err)

	events, err := store.Read(ctx, "game-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, gameStarted{GameID: "game-1", WordToGuess: "wolf"}, events[0].Data)
}

func TestSerializer_Concurrency(t *testing.T) {
	s := NewSerializer()
	s.RegisterAll(gameStarted{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Register("guessMade", guessMade{})
			data, err := s.Serialize(gameStarted{GameID: "game-1"})
			assert.NoError(t, err)
			_, err = s.Deserialize(data, "GameStarted")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestViewCodec(t *testing.T) {
	codec := ViewCodec()

	data, err := codec.Marshal(progressView{State: "InProgress", Guesses: 3})
	require.NoError(t, err)

	var view progressView
	require.NoError(t, codec.Unmarshal(data, &view))
	assert.Equal(t, progressView{State: "InProgress", Guesses: 3}, view)

	assert.Error(t, codec.Unmarshal([]byte{0xc1}, &view))
}
