package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

var _ adapters.ViewStore = (*ViewStore)(nil)

// ViewStore is an in-memory implementation of adapters.ViewStore.
type ViewStore struct {
	mu    sync.RWMutex
	views map[string]map[string]adapters.ViewRecord
}

// NewViewStore creates a new in-memory view store.
func NewViewStore() *ViewStore {
	return &ViewStore{
		views: make(map[string]map[string]adapters.ViewRecord),
	}
}

// GetView returns the record for a key, or nil if none exists.
func (s *ViewStore) GetView(ctx context.Context, projection, key string) (*adapters.ViewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, adapters.ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.views[projection][key]
	if !ok {
		return nil, nil
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return &rec, nil
}

// SaveView inserts or replaces a record.
func (s *ViewStore) SaveView(ctx context.Context, record adapters.ViewRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Key == "" {
		return adapters.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.views[record.Projection]
	if !ok {
		byKey = make(map[string]adapters.ViewRecord)
		s.views[record.Projection] = byKey
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	record.Data = append([]byte(nil), record.Data...)
	byKey[record.Key] = record
	return nil
}

// ListViews returns every record of a projection ordered by key.
func (s *ViewStore) ListViews(ctx context.Context, projection string) ([]adapters.ViewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]adapters.ViewRecord, 0, len(s.views[projection]))
	for _, rec := range s.views[projection] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// DeleteViews removes every record of a projection.
func (s *ViewStore) DeleteViews(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.views, projection)
	return nil
}
