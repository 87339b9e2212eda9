package occurrent

import (
	"context"
	"time"
)

// Resettable is a handler whose output can be cleared, such as a Projector.
type Resettable interface {
	Handler
	Reset(ctx context.Context) error
}

// Rebuild clears the output of handler and replays the whole history into it.
//
// The subscription is durable when position storage is configured, so its
// persisted position is deleted first. Otherwise it is a catch-up subscription
// that stays live afterwards. Use WaitForPosition to wait for the replay to finish.
func (m *SubscriptionModel) Rebuild(ctx context.Context, id string, filter Filter, handler Resettable, opts ...SubscribeOption) (*SubscriptionHandle, error) {
	if _, running := m.Subscription(id); running {
		return nil, ErrSubscriptionExists
	}

	m.logger.Info("Starting rebuild", "subscription_id", id)

	if err := handler.Reset(ctx); err != nil {
		return nil, err
	}

	mode := ModeCatchUp
	if m.positions != nil {
		if err := m.positions.DeletePosition(ctx, id); err != nil {
			return nil, err
		}
		mode = ModeDurable
	}

	opts = append([]SubscribeOption{WithMode(mode), WithStartAt(StartAtBeginning())}, opts...)
	return m.Subscribe(ctx, id, filter, handler, opts...)
}

// WaitForPosition blocks until the subscription moved past position, stopped or ctx is done.
// It returns the subscription error if the subscription halted first.
func (h *SubscriptionHandle) WaitForPosition(ctx context.Context, position uint64) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if h.Position() >= position {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			if h.Position() >= position {
				return nil
			}
			if err := h.Err(); err != nil {
				return err
			}
			return ErrSubscriptionClosed
		case <-ticker.C:
		}
	}
}

// CatchUp waits until the subscription processed every event stored when CatchUp was called.
func (h *SubscriptionHandle) CatchUp(ctx context.Context) error {
	last, err := h.model.store.LastPosition(ctx)
	if err != nil {
		return err
	}
	return h.WaitForPosition(ctx, last)
}
