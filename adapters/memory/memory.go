// Package memory keeps events, subscription positions and views in process memory.
// Nothing survives a restart; use it in tests, demos and single-process tools.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

var (
	_ adapters.EventStoreAdapter = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker     = (*MemoryAdapter)(nil)
)

// MemoryAdapter stores every event in one ordered log. Each stream keeps the
// log offsets of its events, so the event at version v sits at log[offsets[v-1]].
// One mutex guards the log, which makes compare-and-append atomic.
type MemoryAdapter struct {
	mu      sync.RWMutex
	log     []adapters.StoredEvent
	streams map[string]*stream
	closed  bool
	now     func() time.Time
}

type stream struct {
	info    adapters.StreamInfo
	offsets []int
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) { a.now = now }
}

// NewAdapter returns an empty adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	a := &MemoryAdapter{streams: map[string]*stream{}, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize does nothing.
func (a *MemoryAdapter) Initialize(context.Context) error { return nil }

// reading runs fn under the read lock once ctx and the open state are checked.
func (a *MemoryAdapter) reading(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return fn()
}

func (a *MemoryAdapter) Append(ctx context.Context, streamID string, records []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := adapters.ValidateAppend(streamID, records); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	s, exists := a.streams[streamID]
	var current int64
	if exists {
		current = s.info.Version
	}
	if err := adapters.CheckVersion(streamID, expectedVersion, current, exists); err != nil {
		return nil, err
	}

	now := a.now()
	if !exists {
		s = &stream{info: adapters.StreamInfo{
			StreamID:  streamID,
			Category:  adapters.Category(streamID),
			CreatedAt: now,
		}}
		a.streams[streamID] = s
	}

	first := len(a.log)
	for i, r := range records {
		offset := first + i
		a.log = append(a.log, adapters.StoredEvent{
			ID:             uuid.NewString(),
			StreamID:       streamID,
			Type:           r.Type,
			Data:           slices.Clone(r.Data),
			Metadata:       r.Metadata,
			Version:        current + int64(i) + 1,
			GlobalPosition: uint64(offset) + 1,
			Timestamp:      now,
		})
		s.offsets = append(s.offsets, offset)
	}

	s.info.Version = int64(len(s.offsets))
	s.info.EventCount = s.info.Version
	s.info.UpdatedAt = now

	return slices.Clone(a.log[first:]), nil
}

// Load returns the events of streamID whose version is greater than fromVersion.
func (a *MemoryAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	out := []adapters.StoredEvent{}
	err := a.reading(ctx, func() error {
		s, ok := a.streams[streamID]
		if !ok {
			return nil
		}
		for _, offset := range s.offsets[min(max(fromVersion, 0), s.info.Version):] {
			out = append(out, a.log[offset])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadFromPosition returns up to limit events positioned after fromPosition.
// Positions are log offsets plus one, so the log is sliced directly.
func (a *MemoryAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	var out []adapters.StoredEvent
	err := a.reading(ctx, func() error {
		start := int(min(fromPosition, uint64(len(a.log))))
		end := min(start+adapters.LoadLimit(limit), len(a.log))
		out = slices.Clone(a.log[start:end])
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []adapters.StoredEvent{}
	}
	return out, nil
}

func (a *MemoryAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	var info *adapters.StreamInfo
	err := a.reading(ctx, func() error {
		s, ok := a.streams[streamID]
		if !ok {
			return adapters.NewStreamNotFoundError(streamID)
		}
		copied := s.info
		info = &copied
		return nil
	})
	return info, err
}

func (a *MemoryAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	var pos uint64
	err := a.reading(ctx, func() error {
		pos = uint64(len(a.log))
		return nil
	})
	return pos, err
}

// Ping fails with adapters.ErrAdapterClosed after Close.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	return a.reading(ctx, func() error { return nil })
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

// Reset drops every stream and rewinds the log to position zero.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = nil
	a.streams = map[string]*stream{}
}

// EventCount returns the number of events in the log.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.log)
}

// StreamCount returns the number of streams.
func (a *MemoryAdapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}
