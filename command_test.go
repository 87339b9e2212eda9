package occurrent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
	"github.com/simara-svatopluk/event-sourcing-occurrent/testing/testutil"
)

type countingCommandMetrics struct {
	mu        sync.Mutex
	conflicts int
	commands  int
	attempts  int
	lastErr   error
}

func (m *countingCommandMetrics) RecordConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingCommandMetrics) RecordCommand(attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands++
	m.attempts += attempts
	m.lastErr = err
}

func TestCommandService_Execute(t *testing.T) {
	ctx := testContext(t)

	t.Run("appends decided events at the read version", func(t *testing.T) {
		store, _ := newTestStore(t)
		svc := NewCommandService(store)
		appendItems(t, store, "cart-1", 2)

		var seen int
		result, err := svc.Execute(ctx, "cart-1", func(history []Event) ([]interface{}, error) {
			seen = len(history)
			return []interface{}{itemRemoved{Item: "cart-1"}}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, seen)
		assert.Equal(t, int64(3), result.Version)
		assert.Equal(t, 1, result.Attempts)
		assert.True(t, result.Appended())
		assert.Equal(t, "cart-1", result.StreamID)
	})

	t.Run("no events means no append", func(t *testing.T) {
		store, adapter := newTestStore(t)
		svc := NewCommandService(store)
		appendItems(t, store, "cart-1", 1)

		result, err := svc.Execute(ctx, "cart-1", func([]Event) ([]interface{}, error) { return nil, nil })

		require.NoError(t, err)
		assert.False(t, result.Appended())
		assert.Equal(t, int64(1), result.Version)
		assert.Equal(t, 1, adapter.EventCount())
	})

	t.Run("domain errors are returned without retry", func(t *testing.T) {
		store, _ := newTestStore(t)
		svc := NewCommandService(store)

		calls := 0
		result, err := svc.Execute(ctx, "cart-1", func([]Event) ([]interface{}, error) {
			calls++
			return nil, NewDomainError("cart_empty", "")
		})

		assert.ErrorIs(t, err, ErrDomainRuleViolation)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, result.Attempts)
	})

	t.Run("retries after losing a race", func(t *testing.T) {
		store, _ := newTestStore(t)
		metrics := &countingCommandMetrics{}
		svc := NewCommandService(store, WithCommandMetrics(metrics))

		var histories []int
		result, err := svc.Execute(ctx, "cart-1", func(history []Event) ([]interface{}, error) {
			histories = append(histories, len(history))
			if len(histories) == 1 {
				// A concurrent writer gets in between read and append.
				appendItems(t, store, "cart-1", 1)
			}
			return []interface{}{itemAdded{Item: "mine"}}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, histories)
		assert.Equal(t, 2, result.Attempts)
		assert.Equal(t, int64(2), result.Version)
		assert.Equal(t, 1, metrics.conflicts)
		assert.Equal(t, 1, metrics.commands)
		assert.NoError(t, metrics.lastErr)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		store, _ := newTestStore(t)
		svc := NewCommandService(store, WithMaxAttempts(2))

		calls := 0
		result, err := svc.Execute(ctx, "cart-1", func([]Event) ([]interface{}, error) {
			calls++
			appendItems(t, store, "cart-1", 1)
			return []interface{}{itemAdded{Item: "mine"}}, nil
		})

		assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 2, result.Attempts)
	})

	t.Run("malformed history fails the command", func(t *testing.T) {
		store, _ := newTestStore(t)
		mock := &testutil.MockAdapter{Events: []StoredEvent{
			{StreamID: "cart-1", Type: "itemAdded", Data: []byte(`{`), Version: 1, GlobalPosition: 1},
		}}
		svc := NewCommandService(New(mock, WithSerializer(store.Serializer())))

		_, err := svc.Execute(ctx, "cart-1", func([]Event) ([]interface{}, error) {
			t.Fatal("decide must not run on malformed history")
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrMalformedEvent)
		assert.Zero(t, mock.AppendCount())
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		store, _ := newTestStore(t)
		svc := NewCommandService(store)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := svc.Execute(cancelled, "cart-1", func([]Event) ([]interface{}, error) {
			return []interface{}{itemAdded{}}, nil
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("stamps correlation from context", func(t *testing.T) {
		store, _ := newTestStore(t)
		svc := NewCommandService(store)

		cctx := WithCausationID(WithCorrelationID(ctx, "corr-7"), "evt-3")
		_, err := svc.Execute(cctx, "cart-1", func([]Event) ([]interface{}, error) {
			return []interface{}{itemAdded{Item: "a"}}, nil
		})
		require.NoError(t, err)

		events, err := store.ReadRaw(ctx, "cart-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "corr-7", events[0].Metadata.CorrelationID)
		assert.Equal(t, "evt-3", events[0].Metadata.CausationID)
	})
}

func TestHandle(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestStore(t)
	svc := NewCommandService(store)
	d := cartDecider()

	_, err := Handle(ctx, svc, "cart-1", d, interface{}(addItem{Item: "wolf"}))
	require.NoError(t, err)

	result, err := Handle(ctx, svc, "cart-1", d, interface{}(removeItem{Item: "wolf"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, []interface{}{itemRemoved{Item: "wolf"}}, result.Events)

	_, err = Handle(ctx, svc, "cart-1", d, interface{}(removeItem{Item: "wolf"}))
	assert.ErrorIs(t, err, ErrDomainRuleViolation)
}

func TestHandle_UnfoldableHistory(t *testing.T) {
	ctx := testContext(t)

	t.Run("unregistered event type", func(t *testing.T) {
		adapter := memory.NewAdapter()
		svc := NewCommandService(New(adapter))
		d := cartDecider()

		_, err := Handle(ctx, svc, "cart-1", d, interface{}(addItem{Item: "wolf"}))
		require.NoError(t, err)

		_, err = Handle(ctx, svc, "cart-1", d, interface{}(addItem{Item: "wolf"}))
		assert.ErrorIs(t, err, ErrMalformedEvent)
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)

		var malformed *MalformedEventError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, int64(1), malformed.Version)
		assert.Equal(t, 1, adapter.EventCount())
	})

	t.Run("event the decider does not fold", func(t *testing.T) {
		store, adapter := newTestStore(t)
		svc := NewCommandService(store)
		_, err := store.Append(ctx, "cart-1", NoStream, itemRemoved{Item: "wolf"})
		require.NoError(t, err)

		onlyAdds := Decider[int, addItem, itemAdded]{
			Initial: func() int { return 0 },
			Evolve:  func(n int, _ itemAdded) int { return n + 1 },
			Decide: func(_ int, cmd addItem) ([]itemAdded, error) {
				return []itemAdded{{Item: cmd.Item}}, nil
			},
		}
		_, err = Handle(ctx, svc, "cart-1", onlyAdds, addItem{Item: "fox"})
		assert.ErrorIs(t, err, ErrMalformedEvent)
		assert.Equal(t, 1, adapter.EventCount())
	})
}
