package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// MockAdapter is a scripted adapters.EventStoreAdapter.
//
// Reads are served from Events, which Append never changes. Append records each
// call and answers with versions counted from the expected version. A non-nil
// *Err field makes the matching operation fail with it.
type MockAdapter struct {
	Events []adapters.StoredEvent

	AppendErr           error
	LoadErr             error
	LoadFromPositionErr error
	GetStreamInfoErr    error
	GetLastPositionErr  error

	mu      sync.Mutex
	Appends []AppendCall
}

// AppendCall is one recorded Append.
type AppendCall struct {
	StreamID        string
	Events          []adapters.EventRecord
	ExpectedVersion int64
}

var _ adapters.EventStoreAdapter = (*MockAdapter)(nil)

func (m *MockAdapter) Append(_ context.Context, streamID string, records []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	m.mu.Lock()
	m.Appends = append(m.Appends, AppendCall{StreamID: streamID, Events: records, ExpectedVersion: expectedVersion})
	m.mu.Unlock()

	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	version := max(expectedVersion, 0)
	now := time.Now()
	stored := make([]adapters.StoredEvent, 0, len(records))
	for i, r := range records {
		version++
		stored = append(stored, adapters.StoredEvent{
			ID:             fmt.Sprintf("%s@%d", streamID, version),
			StreamID:       streamID,
			Type:           r.Type,
			Data:           r.Data,
			Metadata:       r.Metadata,
			Version:        version,
			GlobalPosition: uint64(i + 1),
			Timestamp:      now,
		})
	}
	return stored, nil
}

// AppendCount returns how many times Append was called.
func (m *MockAdapter) AppendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Appends)
}

func (m *MockAdapter) where(keep func(adapters.StoredEvent) bool, limit int) []adapters.StoredEvent {
	var out []adapters.StoredEvent
	for _, e := range m.Events {
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *MockAdapter) Load(_ context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.where(func(e adapters.StoredEvent) bool {
		return e.StreamID == streamID && e.Version > fromVersion
	}, 0), nil
}

func (m *MockAdapter) LoadFromPosition(_ context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if m.LoadFromPositionErr != nil {
		return nil, m.LoadFromPositionErr
	}
	return m.where(func(e adapters.StoredEvent) bool {
		return e.GlobalPosition > fromPosition
	}, limit), nil
}

func (m *MockAdapter) GetStreamInfo(_ context.Context, streamID string) (*adapters.StreamInfo, error) {
	if m.GetStreamInfoErr != nil {
		return nil, m.GetStreamInfoErr
	}

	events := m.where(func(e adapters.StoredEvent) bool { return e.StreamID == streamID }, 0)
	if len(events) == 0 {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}
	var version int64
	for _, e := range events {
		version = max(version, e.Version)
	}
	return &adapters.StreamInfo{
		StreamID:   streamID,
		Category:   adapters.Category(streamID),
		Version:    version,
		EventCount: int64(len(events)),
	}, nil
}

func (m *MockAdapter) GetLastPosition(context.Context) (uint64, error) {
	if m.GetLastPositionErr != nil {
		return 0, m.GetLastPositionErr
	}
	var last uint64
	for _, e := range m.Events {
		last = max(last, e.GlobalPosition)
	}
	return last, nil
}

func (m *MockAdapter) Initialize(context.Context) error { return nil }

func (m *MockAdapter) Close() error { return nil }
