// Package projections provides fixtures for testing projections.
//
// Events given to a fixture are appended to an in-memory store and read
// back before they reach the projector, so the scenario covers the
// serializer round trip the same way a live subscription does.
package projections

import (
	"context"
	"reflect"
	"testing"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
)

// TB is testing.TB, aliased so failures can be captured in tests.
type TB = testing.TB

// ProjectionFixture drives a Projector over an in-memory store.
type ProjectionFixture[V any] struct {
	t         TB
	ctx       context.Context
	store     *occurrent.EventStore
	views     adapters.ViewStore
	projector *occurrent.Projector[V]
	delivered []occurrent.Event
}

// TestProjection creates a fixture for projection backed by a memory view store.
func TestProjection[V any](t TB, projection occurrent.Projection[V], opts ...occurrent.ProjectorOption) *ProjectionFixture[V] {
	t.Helper()
	views := memory.NewViewStore()
	return &ProjectionFixture[V]{
		t:         t,
		ctx:       context.Background(),
		store:     occurrent.New(memory.NewAdapter()),
		views:     views,
		projector: occurrent.NewProjector(projection, views, opts...),
	}
}

// WithContext sets the context used for appends and view reads.
func (f *ProjectionFixture[V]) WithContext(ctx context.Context) *ProjectionFixture[V] {
	f.ctx = ctx
	return f
}

// GivenEvents appends events to streamID and projects them in order.
func (f *ProjectionFixture[V]) GivenEvents(streamID string, events ...interface{}) *ProjectionFixture[V] {
	f.t.Helper()
	if len(events) == 0 {
		return f
	}

	f.store.RegisterEvents(events...)
	from, err := f.store.LastPosition(f.ctx)
	if err != nil {
		f.t.Fatalf("failed to read last position: %v", err)
	}
	if _, err := f.store.Append(f.ctx, streamID, occurrent.AnyVersion, events...); err != nil {
		f.t.Fatalf("failed to append to %s: %v", streamID, err)
	}

	stored, err := f.store.ReadAll(f.ctx, from, len(events))
	if err != nil {
		f.t.Fatalf("failed to read appended events: %v", err)
	}
	for _, s := range stored {
		event, err := f.store.Decode(s)
		if err != nil {
			f.t.Fatalf("failed to decode %s@%d: %v", s.StreamID, s.Version, err)
		}
		f.Deliver(event)
	}
	return f
}

// Deliver hands a single event to the projector, as a redelivery would.
func (f *ProjectionFixture[V]) Deliver(event occurrent.Event) *ProjectionFixture[V] {
	f.t.Helper()
	if err := f.projector.Handle(f.ctx, event); err != nil {
		f.t.Fatalf("projection %s failed on %s@%d: %v", f.projector.Name(), event.StreamID, event.Version, err)
	}
	f.delivered = append(f.delivered, event)
	return f
}

// ThenView asserts the view of streamID equals expected.
func (f *ProjectionFixture[V]) ThenView(streamID string, expected V) *ProjectionFixture[V] {
	f.t.Helper()

	actual := f.requireView(streamID)
	if !reflect.DeepEqual(actual, expected) {
		f.t.Errorf("view %s mismatch:\nexpected: %+v\nactual:   %+v", streamID, expected, actual)
	}
	return f
}

// ThenViewMatches runs check against the view of streamID.
func (f *ProjectionFixture[V]) ThenViewMatches(streamID string, check func(t TB, view V)) *ProjectionFixture[V] {
	f.t.Helper()
	check(f.t, f.requireView(streamID))
	return f
}

// ThenNoView asserts nothing was projected for streamID.
func (f *ProjectionFixture[V]) ThenNoView(streamID string) *ProjectionFixture[V] {
	f.t.Helper()

	_, found, err := f.projector.Get(f.ctx, streamID)
	if err != nil {
		f.t.Fatalf("failed to load view %s: %v", streamID, err)
	}
	if found {
		f.t.Errorf("expected no view for %s", streamID)
	}
	return f
}

// ThenViewCount asserts how many streams have a view.
func (f *ProjectionFixture[V]) ThenViewCount(expected int) *ProjectionFixture[V] {
	f.t.Helper()

	all, err := f.projector.All(f.ctx)
	if err != nil {
		f.t.Fatalf("failed to list views: %v", err)
	}
	if len(all) != expected {
		f.t.Errorf("expected %d views, got %d", expected, len(all))
	}
	return f
}

// ThenAppliedVersion asserts the last stream version applied to streamID's view.
func (f *ProjectionFixture[V]) ThenAppliedVersion(streamID string, expected int64) *ProjectionFixture[V] {
	f.t.Helper()

	version, err := f.projector.AppliedVersion(f.ctx, streamID)
	if err != nil {
		f.t.Fatalf("failed to load applied version of %s: %v", streamID, err)
	}
	if version != expected {
		f.t.Errorf("view %s: expected applied version %d, got %d", streamID, expected, version)
	}
	return f
}

func (f *ProjectionFixture[V]) requireView(streamID string) V {
	f.t.Helper()

	view, found, err := f.projector.Get(f.ctx, streamID)
	if err != nil {
		f.t.Fatalf("failed to load view %s: %v", streamID, err)
	}
	if !found {
		f.t.Fatalf("view %s not found", streamID)
	}
	return view
}

// Projector returns the projector under test.
func (f *ProjectionFixture[V]) Projector() *occurrent.Projector[V] {
	return f.projector
}

// Views returns the view store the projector writes to.
func (f *ProjectionFixture[V]) Views() adapters.ViewStore {
	return f.views
}

// Delivered returns every event handed to the projector so far.
func (f *ProjectionFixture[V]) Delivered() []occurrent.Event {
	return append([]occurrent.Event(nil), f.delivered...)
}
