// Package adaptertest is a conformance suite for storage backends.
//
// Every adapter package runs the same contract tests against its own implementation:
//
//	func TestConformance(t *testing.T) {
//		adaptertest.RunEventStoreTests(t, func(t *testing.T) adapters.EventStoreAdapter {
//			return memory.NewAdapter()
//		})
//	}
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// EventStoreFactory returns a fresh, initialized and empty adapter.
// The factory is responsible for registering cleanup on t.
type EventStoreFactory func(t *testing.T) adapters.EventStoreAdapter

// PositionStoreFactory returns a fresh, empty position store.
type PositionStoreFactory func(t *testing.T) adapters.PositionStore

// ViewStoreFactory returns a fresh, empty view store.
type ViewStoreFactory func(t *testing.T) adapters.ViewStore

// Records builds n event records of the given type with small JSON payloads.
func Records(eventType string, n int) []adapters.EventRecord {
	records := make([]adapters.EventRecord, n)
	for i := range records {
		records[i] = adapters.EventRecord{
			Type: eventType,
			Data: []byte(fmt.Sprintf(`{"n":%d}`, i+1)),
		}
	}
	return records
}

// RunEventStoreTests runs the event store contract against adapters produced by newAdapter.
func RunEventStoreTests(t *testing.T, newAdapter EventStoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("append to new stream assigns dense versions", func(t *testing.T) {
		a := newAdapter(t)

		stored, err := a.Append(ctx, "game-1", Records("GameStarted", 3), adapters.NoStream)

		require.NoError(t, err)
		require.Len(t, stored, 3)
		for i, e := range stored {
			assert.Equal(t, "game-1", e.StreamID)
			assert.Equal(t, "GameStarted", e.Type)
			assert.Equal(t, int64(i+1), e.Version)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
		}
		assert.Less(t, stored[0].GlobalPosition, stored[1].GlobalPosition)
		assert.Less(t, stored[1].GlobalPosition, stored[2].GlobalPosition)
	})

	t.Run("append with matching expected version", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GameStarted", 1), adapters.NoStream)
		require.NoError(t, err)

		stored, err := a.Append(ctx, "game-1", Records("GuessedWrongly", 2), 1)

		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, int64(2), stored[0].Version)
		assert.Equal(t, int64(3), stored[1].Version)
	})

	t.Run("mismatched expected version appends nothing", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GameStarted", 2), adapters.NoStream)
		require.NoError(t, err)

		_, err = a.Append(ctx, "game-1", Records("GuessedWrongly", 3), 1)

		require.Error(t, err)
		assert.True(t, errors.Is(err, adapters.ErrConcurrencyConflict))
		var concErr *adapters.ConcurrencyError
		require.True(t, errors.As(err, &concErr))
		assert.Equal(t, int64(1), concErr.ExpectedVersion)
		assert.Equal(t, int64(2), concErr.ActualVersion)

		events, err := a.Load(ctx, "game-1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("NoStream on existing stream conflicts", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GameStarted", 1), adapters.NoStream)
		require.NoError(t, err)

		_, err = a.Append(ctx, "game-1", Records("GameStarted", 1), adapters.NoStream)
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
	})

	t.Run("StreamExists on missing stream", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GuessedWrongly", 1), adapters.StreamExists)
		assert.ErrorIs(t, err, adapters.ErrStreamNotFound)
	})

	t.Run("AnyVersion skips the check", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GameStarted", 1), adapters.AnyVersion)
		require.NoError(t, err)
		stored, err := a.Append(ctx, "game-1", Records("GuessedWrongly", 1), adapters.AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored[0].Version)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "", Records("GameStarted", 1), adapters.NoStream)
		assert.ErrorIs(t, err, adapters.ErrEmptyStreamID)

		_, err = a.Append(ctx, "game-1", nil, adapters.NoStream)
		assert.ErrorIs(t, err, adapters.ErrNoEvents)

		_, err = a.Append(ctx, "game-1", Records("GameStarted", 1), -7)
		assert.ErrorIs(t, err, adapters.ErrInvalidVersion)
	})

	t.Run("load returns events after fromVersion in order", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GuessedWrongly", 5), adapters.NoStream)
		require.NoError(t, err)

		events, err := a.Load(ctx, "game-1", 2)

		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(3), events[0].Version)
		assert.Equal(t, int64(5), events[2].Version)
		assert.JSONEq(t, `{"n":3}`, string(events[0].Data))
	})

	t.Run("load of absent stream is empty, not an error", func(t *testing.T) {
		a := newAdapter(t)

		events, err := a.Load(ctx, "game-missing", 0)

		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("metadata round-trips", func(t *testing.T) {
		a := newAdapter(t)

		record := adapters.EventRecord{
			Type: "GameStarted",
			Data: []byte(`{"gameId":"game-1"}`),
			Metadata: adapters.Metadata{
				Source:        "com.fairtiq.guessGame",
				CorrelationID: "corr-1",
				Custom:        map[string]string{"tenant": "acme"},
			},
		}
		_, err := a.Append(ctx, "game-1", []adapters.EventRecord{record}, adapters.NoStream)
		require.NoError(t, err)

		events, err := a.Load(ctx, "game-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "com.fairtiq.guessGame", events[0].Metadata.Source)
		assert.Equal(t, "corr-1", events[0].Metadata.CorrelationID)
		assert.Equal(t, "acme", events[0].Metadata.Custom["tenant"])
	})

	t.Run("load from position spans streams in append order", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GameStarted", 1), adapters.NoStream)
		require.NoError(t, err)
		_, err = a.Append(ctx, "game-2", Records("GameStarted", 1), adapters.NoStream)
		require.NoError(t, err)
		_, err = a.Append(ctx, "game-1", Records("GuessedWrongly", 1), 1)
		require.NoError(t, err)

		all, err := a.LoadFromPosition(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"game-1", "game-2", "game-1"},
			[]string{all[0].StreamID, all[1].StreamID, all[2].StreamID})
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].GlobalPosition, all[i].GlobalPosition)
		}

		rest, err := a.LoadFromPosition(ctx, all[0].GlobalPosition, 1)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, all[1].ID, rest[0].ID)

		last, err := a.GetLastPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, all[2].GlobalPosition, last)

		none, err := a.LoadFromPosition(ctx, last, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("last position of empty store is zero", func(t *testing.T) {
		a := newAdapter(t)

		pos, err := a.GetLastPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), pos)
	})

	t.Run("stream info", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.GetStreamInfo(ctx, "game-1")
		assert.ErrorIs(t, err, adapters.ErrStreamNotFound)

		_, err = a.Append(ctx, "game-1", Records("GuessedWrongly", 4), adapters.NoStream)
		require.NoError(t, err)

		info, err := a.GetStreamInfo(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, "game-1", info.StreamID)
		assert.Equal(t, "game", info.Category)
		assert.Equal(t, int64(4), info.Version)
		assert.Equal(t, int64(4), info.EventCount)
	})

	t.Run("concurrent appenders with the same expected version", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "game-1", Records("GameStarted", 1), adapters.NoStream)
		require.NoError(t, err)

		const appenders = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
			others    []error
		)
		start := make(chan struct{})
		for i := 0; i < appenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := a.Append(ctx, "game-1", Records("GuessedWrongly", 2), 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, adapters.ErrConcurrencyConflict):
					conflicts++
				default:
					others = append(others, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Empty(t, others)
		assert.Equal(t, 1, successes)
		assert.Equal(t, appenders-1, conflicts)

		events, err := a.Load(ctx, "game-1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})
}

// RunPositionStoreTests runs the position store contract.
func RunPositionStoreTests(t *testing.T, newStore PositionStoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent position", func(t *testing.T) {
		s := newStore(t)

		pos, ok, err := s.GetPosition(ctx, "progress")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, uint64(0), pos)
	})

	t.Run("set, overwrite and get", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.SetPosition(ctx, "progress", 6))
		pos, ok, err := s.GetPosition(ctx, "progress")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(6), pos)

		require.NoError(t, s.SetPosition(ctx, "progress", 10))
		pos, _, err = s.GetPosition(ctx, "progress")
		require.NoError(t, err)
		assert.Equal(t, uint64(10), pos)
	})

	t.Run("positions are isolated per subscription", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.SetPosition(ctx, "a", 1))
		require.NoError(t, s.SetPosition(ctx, "b", 2))

		pos, _, err := s.GetPosition(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), pos)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.SetPosition(ctx, "progress", 3))
		require.NoError(t, s.DeletePosition(ctx, "progress"))
		require.NoError(t, s.DeletePosition(ctx, "never-set"))

		_, ok, err := s.GetPosition(ctx, "progress")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// RunViewStoreTests runs the view store contract.
func RunViewStoreTests(t *testing.T, newStore ViewStoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent view is nil", func(t *testing.T) {
		s := newStore(t)

		rec, err := s.GetView(ctx, "progress", "game-1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("save and replace", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.SaveView(ctx, adapters.ViewRecord{
			Projection: "progress", Key: "game-1", Version: 1, Data: []byte(`{"state":"JustStarted"}`),
		}))
		require.NoError(t, s.SaveView(ctx, adapters.ViewRecord{
			Projection: "progress", Key: "game-1", Version: 2, Data: []byte(`{"state":"InProgress"}`),
		}))

		rec, err := s.GetView(ctx, "progress", "game-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "progress", rec.Projection)
		assert.Equal(t, "game-1", rec.Key)
		assert.Equal(t, int64(2), rec.Version)
		assert.JSONEq(t, `{"state":"InProgress"}`, string(rec.Data))
		assert.False(t, rec.UpdatedAt.IsZero())
	})

	t.Run("list is ordered by key and scoped to projection", func(t *testing.T) {
		s := newStore(t)

		for _, key := range []string{"game-3", "game-1", "game-2"} {
			require.NoError(t, s.SaveView(ctx, adapters.ViewRecord{
				Projection: "progress", Key: key, Version: 1, Data: []byte(`{}`),
			}))
		}
		require.NoError(t, s.SaveView(ctx, adapters.ViewRecord{
			Projection: "other", Key: "game-9", Version: 1, Data: []byte(`{}`),
		}))

		records, err := s.ListViews(ctx, "progress")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "game-1", records[0].Key)
		assert.Equal(t, "game-2", records[1].Key)
		assert.Equal(t, "game-3", records[2].Key)
	})

	t.Run("delete projection views", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.SaveView(ctx, adapters.ViewRecord{
			Projection: "progress", Key: "game-1", Version: 1, Data: []byte(`{}`),
		}))
		require.NoError(t, s.SaveView(ctx, adapters.ViewRecord{
			Projection: "other", Key: "game-1", Version: 1, Data: []byte(`{}`),
		}))

		require.NoError(t, s.DeleteViews(ctx, "progress"))

		rec, err := s.GetView(ctx, "progress", "game-1")
		require.NoError(t, err)
		assert.Nil(t, rec)

		rec, err = s.GetView(ctx, "other", "game-1")
		require.NoError(t, err)
		assert.NotNil(t, rec)
	})
}
