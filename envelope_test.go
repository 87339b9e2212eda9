package occurrent

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudEventCodec(t *testing.T) {
	codec := NewCloudEventCodec("com.fairtiq.guessGame")
	stored := StoredEvent{
		ID:             "3f1c6e2a-1",
		StreamID:       "game-42",
		Type:           "GuessedWrongly",
		Data:           []byte(`{"gameId":"game-42","guess":"cat"}`),
		Metadata:       Metadata{CorrelationID: "corr-1"},
		Version:        2,
		GlobalPosition: 17,
		Timestamp:      time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
	}

	t.Run("encodes structured JSON", func(t *testing.T) {
		data, err := codec.Encode(stored)
		require.NoError(t, err)

		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "1.0", raw["specversion"])
		assert.Equal(t, "com.fairtiq.guessGame", raw["source"])
		assert.Equal(t, "GuessedWrongly", raw["type"])
		assert.Equal(t, "game-42", raw["streamid"])
		assert.Equal(t, "game-42", raw["subject"])
		assert.Equal(t, float64(2), raw["streamversion"])
		assert.Equal(t, "application/json", raw["datacontenttype"])
		assert.Equal(t, map[string]interface{}{"gameId": "game-42", "guess": "cat"}, raw["data"])
	})

	t.Run("round trips", func(t *testing.T) {
		data, err := codec.Encode(stored)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, stored.Type, decoded.Type)
		assert.Equal(t, stored.StreamID, decoded.StreamID)
		assert.Equal(t, stored.Version, decoded.Version)
		assert.Equal(t, stored.GlobalPosition, decoded.GlobalPosition)
		assert.Equal(t, "com.fairtiq.guessGame", decoded.Metadata.Source)
		assert.Equal(t, "corr-1", decoded.Metadata.CorrelationID)
		assert.JSONEq(t, string(stored.Data), string(decoded.Data))
		assert.True(t, stored.Timestamp.Equal(decoded.Timestamp))
	})

	t.Run("binary payloads travel base64 encoded", func(t *testing.T) {
		binary := stored
		binary.Data = []byte{0x82, 0xa6, 0x67, 0x61}

		data, err := codec.Encode(binary)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"data_base64"`)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, binary.Data, decoded.Data)
	})

	t.Run("event source wins over codec source", func(t *testing.T) {
		own := stored
		own.Metadata.Source = "other"

		decoded, err := codec.Decode(mustEncode(t, codec, own))
		require.NoError(t, err)
		assert.Equal(t, "other", decoded.Metadata.Source)
	})

	t.Run("rejects malformed envelopes", func(t *testing.T) {
		tests := map[string]string{
			"not json":        `{`,
			"missing type":    `{"specversion":"1.0","id":"1","source":"s","streamid":"game-1","streamversion":1}`,
			"missing stream":  `{"specversion":"1.0","id":"1","source":"s","type":"T","streamversion":1}`,
			"bad specversion": `{"specversion":"0.3","id":"1","source":"s","type":"T","streamid":"game-1","streamversion":1}`,
			"zero version":    `{"specversion":"1.0","id":"1","source":"s","type":"T","streamid":"game-1"}`,
		}
		for name, input := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := codec.Decode([]byte(input))
				assert.True(t, errors.Is(err, ErrMalformedEvent))
			})
		}
	})
}

func mustEncode(t *testing.T, codec EnvelopeCodec, e StoredEvent) []byte {
	t.Helper()
	data, err := codec.Encode(e)
	require.NoError(t, err)
	return data
}
