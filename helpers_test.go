package occurrent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
)

// Event types shared by the package tests.
type itemAdded struct {
	Item string `json:"item"`
}

type itemRemoved struct {
	Item string `json:"item"`
}

type namedEvent struct {
	Value int `json:"value"`
}

func (namedEvent) EventType() string { return "NamedEvent" }

func newTestStore(t *testing.T, opts ...Option) (*EventStore, *memory.MemoryAdapter) {
	t.Helper()
	adapter := memory.NewAdapter()
	store := New(adapter, opts...)
	store.RegisterEvents(itemAdded{}, itemRemoved{}, namedEvent{})
	return store, adapter
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// appendItems appends n itemAdded events to streamID, one append per event.
func appendItems(t *testing.T, store *EventStore, streamID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		version, err := store.StreamVersion(ctx, streamID)
		require.NoError(t, err)
		_, err = store.Append(ctx, streamID, version, itemAdded{Item: streamID})
		require.NoError(t, err)
	}
}

// recordingHandler remembers every delivered event.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	fail   func(Event) error
}

func (h *recordingHandler) Handle(ctx context.Context, event Event) error {
	if h.fail != nil {
		if err := h.fail(event); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func (h *recordingHandler) Positions() []uint64 {
	var out []uint64
	for _, e := range h.Events() {
		out = append(out, e.GlobalPosition)
	}
	return out
}

func (h *recordingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}
