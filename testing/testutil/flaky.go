package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// ErrInjected is the cause of every failure injected by the flaky wrappers.
var ErrInjected = errors.New("testutil: injected failure")

// Operation names understood by FailNext.
const (
	OpAppend           = "append"
	OpLoad             = "load"
	OpLoadFromPosition = "load_from_position"
	OpGetStreamInfo    = "get_stream_info"
	OpGetLastPosition  = "get_last_position"
	OpGetPosition      = "get_position"
	OpSetPosition      = "set_position"
	OpGetView          = "get_view"
	OpSaveView         = "save_view"
)

// Faults schedules storage-unavailable failures per operation and counts calls.
type Faults struct {
	mu      sync.Mutex
	pending map[string]int
	calls   map[string]int
}

// FailNext makes the next n calls of op fail with a storage-unavailable error.
func (f *Faults) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		f.pending = make(map[string]int)
	}
	f.pending[op] = n
}

// Calls returns how often op was called, failed calls included.
func (f *Faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	if f.pending[op] > 0 {
		f.pending[op]--
		return adapters.Unavailable(op, ErrInjected)
	}
	return nil
}

// FlakyAdapter wraps an event store adapter and fails operations on demand.
type FlakyAdapter struct {
	adapters.EventStoreAdapter
	Faults
}

// NewFlakyAdapter wraps inner.
func NewFlakyAdapter(inner adapters.EventStoreAdapter) *FlakyAdapter {
	return &FlakyAdapter{EventStoreAdapter: inner}
}

// Append implements adapters.EventStoreAdapter.
func (f *FlakyAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := f.check(OpAppend); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.Append(ctx, streamID, events, expectedVersion)
}

// Load implements adapters.EventStoreAdapter.
func (f *FlakyAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if err := f.check(OpLoad); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.Load(ctx, streamID, fromVersion)
}

// LoadFromPosition implements adapters.EventStoreAdapter.
func (f *FlakyAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if err := f.check(OpLoadFromPosition); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.LoadFromPosition(ctx, fromPosition, limit)
}

// GetStreamInfo implements adapters.EventStoreAdapter.
func (f *FlakyAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if err := f.check(OpGetStreamInfo); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.GetStreamInfo(ctx, streamID)
}

// GetLastPosition implements adapters.EventStoreAdapter.
func (f *FlakyAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if err := f.check(OpGetLastPosition); err != nil {
		return 0, err
	}
	return f.EventStoreAdapter.GetLastPosition(ctx)
}

// FlakyPositionStore wraps a position store and fails operations on demand.
type FlakyPositionStore struct {
	adapters.PositionStore
	Faults
}

// NewFlakyPositionStore wraps inner.
func NewFlakyPositionStore(inner adapters.PositionStore) *FlakyPositionStore {
	return &FlakyPositionStore{PositionStore: inner}
}

// GetPosition implements adapters.PositionStore.
func (f *FlakyPositionStore) GetPosition(ctx context.Context, id string) (uint64, bool, error) {
	if err := f.check(OpGetPosition); err != nil {
		return 0, false, err
	}
	return f.PositionStore.GetPosition(ctx, id)
}

// SetPosition implements adapters.PositionStore.
func (f *FlakyPositionStore) SetPosition(ctx context.Context, id string, position uint64) error {
	if err := f.check(OpSetPosition); err != nil {
		return err
	}
	return f.PositionStore.SetPosition(ctx, id, position)
}

// FlakyViewStore wraps a view store and fails operations on demand.
type FlakyViewStore struct {
	adapters.ViewStore
	Faults
}

// NewFlakyViewStore wraps inner.
func NewFlakyViewStore(inner adapters.ViewStore) *FlakyViewStore {
	return &FlakyViewStore{ViewStore: inner}
}

// GetView implements adapters.ViewStore.
func (f *FlakyViewStore) GetView(ctx context.Context, projection, key string) (*adapters.ViewRecord, error) {
	if err := f.check(OpGetView); err != nil {
		return nil, err
	}
	return f.ViewStore.GetView(ctx, projection, key)
}

// SaveView implements adapters.ViewStore.
func (f *FlakyViewStore) SaveView(ctx context.Context, record adapters.ViewRecord) error {
	if err := f.check(OpSaveView); err != nil {
		return err
	}
	return f.ViewStore.SaveView(ctx, record)
}
