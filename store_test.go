package occurrent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
	"github.com/simara-svatopluk/event-sourcing-occurrent/testing/testutil"
)

func fastRetry() RetryPolicy {
	return ExponentialBackoffRetry(3, time.Millisecond, 2*time.Millisecond)
}

func TestEventStore_AppendAndRead(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t, WithSource("com.fairtiq.guessGame"))

	version, err := store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "a"}, itemAdded{Item: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	version, err = store.Append(ctx, "cart-1", 2, itemRemoved{Item: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	events, err := store.Read(ctx, "cart-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []interface{}{itemAdded{Item: "a"}, itemAdded{Item: "b"}, itemRemoved{Item: "a"}}, Payloads(events))
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
		assert.Equal(t, "com.fairtiq.guessGame", e.Source())
	}

	events, err = store.Read(ctx, "cart-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "itemRemoved", events[0].Type)
}

func TestEventStore_AppendConflict(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)

	_, err := store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "a"})
	require.NoError(t, err)

	_, err = store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "b"})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	var conflict *ConcurrencyError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.ActualVersion)

	version, err := store.StreamVersion(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestEventStore_ConcurrentAppenders(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "racer"})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConcurrencyConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func TestEventStore_Validation(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)

	_, err := store.Append(ctx, "", NoStream, itemAdded{})
	assert.ErrorIs(t, err, ErrEmptyStreamID)

	_, err = store.Append(ctx, "cart-1", NoStream)
	assert.ErrorIs(t, err, ErrNoEvents)

	_, err = store.Append(ctx, "cart-1", NoStream, nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = store.Read(ctx, "", 0)
	assert.ErrorIs(t, err, ErrEmptyStreamID)

	_, err = store.Append(ctx, "cart-1", StreamExists, itemAdded{})
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestEventStore_AbsentStream(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)

	events, err := store.Read(ctx, "cart-404", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	version, err := store.StreamVersion(ctx, "cart-404")
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	_, err = store.GetStreamInfo(ctx, "cart-404")
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestEventStore_ReadAll(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)

	_, err := store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "a"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "cart-2", NoStream, itemAdded{Item: "b"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "cart-1", 1, itemRemoved{Item: "a"})
	require.NoError(t, err)

	all, err := store.ReadAll(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"cart-1", "cart-2", "cart-1"}, []string{all[0].StreamID, all[1].StreamID, all[2].StreamID})
	for i, e := range all {
		assert.Equal(t, uint64(i+1), e.GlobalPosition)
	}

	page, err := store.ReadAll(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "cart-2", page[0].StreamID)

	last, err := store.LastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}

func TestEventStore_Metadata(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t, WithSource("default-source"))

	md := Metadata{Source: "explicit", CorrelationID: "corr-1", Custom: map[string]string{"k": "v"}}
	_, err := store.AppendWithMetadata(ctx, "cart-1", NoStream, md, itemAdded{Item: "a"})
	require.NoError(t, err)

	events, err := store.ReadRaw(ctx, "cart-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, md, events[0].Metadata)
}

func TestEventStore_MalformedEvent(t *testing.T) {
	ctx := testContext(t)
	store, adapter := newTestStore(t)

	_, err := adapter.Append(ctx, "cart-1", []adapters.EventRecord{
		{Type: "itemAdded", Data: []byte(`{"item":"a"}`)},
		{Type: "itemAdded", Data: []byte(`{"item":`)},
	}, NoStream)
	require.NoError(t, err)

	_, err = store.Read(ctx, "cart-1", 0)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	var malformed *MalformedEventError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, int64(2), malformed.Version)

	// Other streams are unaffected.
	_, err = store.Append(ctx, "cart-2", NoStream, itemAdded{Item: "b"})
	require.NoError(t, err)
	events, err := store.Read(ctx, "cart-2", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventStore_StorageRetry(t *testing.T) {
	ctx := testContext(t)

	t.Run("transient failures are retried", func(t *testing.T) {
		flaky := testutil.NewFlakyAdapter(memory.NewAdapter())
		logger := testutil.NewRecordingLogger()
		store := New(flaky, WithStorageRetry(fastRetry()), WithLogger(logger))

		flaky.FailNext(testutil.OpAppend, 2)
		_, err := store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "a"})
		require.NoError(t, err)
		assert.Equal(t, 3, flaky.Calls(testutil.OpAppend))
		assert.Len(t, logger.Level("warn"), 2)

		flaky.FailNext(testutil.OpLoad, 1)
		events, err := store.Read(ctx, "cart-1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("exhausted retries propagate", func(t *testing.T) {
		flaky := testutil.NewFlakyAdapter(memory.NewAdapter())
		store := New(flaky, WithStorageRetry(fastRetry()))

		flaky.FailNext(testutil.OpLoadFromPosition, 10)
		_, err := store.ReadAll(ctx, 0, 10)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.Equal(t, 4, flaky.Calls(testutil.OpLoadFromPosition))
	})

	t.Run("appends without version check are not retried", func(t *testing.T) {
		flaky := testutil.NewFlakyAdapter(memory.NewAdapter())
		store := New(flaky, WithStorageRetry(fastRetry()))

		flaky.FailNext(testutil.OpAppend, 1)
		_, err := store.Append(ctx, "cart-1", AnyVersion, itemAdded{Item: "a"})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.Equal(t, 1, flaky.Calls(testutil.OpAppend))
	})

	t.Run("conflicts are not retried", func(t *testing.T) {
		mock := &testutil.MockAdapter{AppendErr: NewConcurrencyError("cart-1", 0, 1)}
		store := New(mock, WithStorageRetry(fastRetry()))

		_, err := store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "a"})
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
		assert.Equal(t, 1, mock.AppendCount())
	})
}

func TestEventStore_AppendSignal(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)

	signal := store.AppendSignal()
	select {
	case <-signal:
		t.Fatal("signal fired before any append")
	default:
	}

	_, err := store.Append(ctx, "cart-1", NoStream, itemAdded{Item: "a"})
	require.NoError(t, err)

	select {
	case <-signal:
	case <-time.After(time.Second):
		t.Fatal("signal did not fire after append")
	}

	next := store.AppendSignal()
	select {
	case <-next:
		t.Fatal("new signal fired without append")
	default:
	}
}

func TestEventStore_Lifecycle(t *testing.T) {
	store, adapter := newTestStore(t)

	require.NoError(t, store.Initialize(context.Background()))
	assert.Same(t, adapter, store.Adapter())
	assert.NotNil(t, store.Serializer())
	require.NoError(t, store.Close())

	_, err := store.Append(context.Background(), "cart-1", NoStream, itemAdded{Item: "a"})
	assert.ErrorIs(t, err, ErrAdapterClosed)
}
