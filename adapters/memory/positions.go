package memory

import (
	"context"
	"sync"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

var _ adapters.PositionStore = (*PositionStore)(nil)

// PositionStore is an in-memory implementation of adapters.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]uint64
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]uint64),
	}
}

// GetPosition returns the stored position for a subscription.
func (s *PositionStore) GetPosition(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if subscriptionID == "" {
		return 0, false, adapters.ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[subscriptionID]
	return pos, ok, nil
}

// SetPosition stores the position for a subscription.
func (s *PositionStore) SetPosition(ctx context.Context, subscriptionID string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subscriptionID == "" {
		return adapters.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[subscriptionID] = position
	return nil
}

// DeletePosition removes the stored position.
func (s *PositionStore) DeletePosition(ctx context.Context, subscriptionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, subscriptionID)
	return nil
}

// All returns a copy of every stored position.
func (s *PositionStore) All() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]uint64, len(s.positions))
	for id, pos := range s.positions {
		result[id] = pos
	}
	return result
}
