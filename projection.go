package occurrent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// Projection folds the events of a stream into a view.
// Apply must be pure and must return view unchanged for events it does not know.
// It must not modify view in place.
type Projection[V any] struct {
	// Name identifies the projection in the view store.
	Name string

	// Initial returns the view of a stream before its first event.
	Initial func(streamID string) V

	// Apply folds one event into the view.
	Apply func(streamID string, event Event, view V) V
}

// ViewCodec encodes views for the view store.
type ViewCodec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonViewCodec struct{}

func (jsonViewCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonViewCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// JSONViewCodec returns the default view codec.
func JSONViewCodec() ViewCodec {
	return jsonViewCodec{}
}

type projectorConfig struct {
	codec  ViewCodec
	logger Logger
	clock  func() time.Time
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*projectorConfig)

// WithViewCodec sets how views are encoded. Default: JSON.
func WithViewCodec(c ViewCodec) ProjectorOption {
	return func(cfg *projectorConfig) {
		cfg.codec = c
	}
}

// WithProjectorLogger sets the logger.
func WithProjectorLogger(l Logger) ProjectorOption {
	return func(cfg *projectorConfig) {
		cfg.logger = l
	}
}

// WithProjectorClock sets the clock stamping view updates.
func WithProjectorClock(clock func() time.Time) ProjectorOption {
	return func(cfg *projectorConfig) {
		cfg.clock = clock
	}
}

type versionedView[V any] struct {
	view    V
	version int64
}

// Projector is a Handler maintaining one view per stream in a ViewStore.
//
// Next to each view it stores the version of the last event applied to it, and
// it ignores events at or below that version. Redelivered events therefore leave
// views unchanged. The view and its version are written as one record before
// Handle returns, so a subscription never records a position past an unsaved view.
type Projector[V any] struct {
	projection Projection[V]
	views      adapters.ViewStore
	cfg        projectorConfig

	mu    sync.Mutex
	cache map[string]versionedView[V]
}

// NewProjector creates a Projector writing to views.
func NewProjector[V any](projection Projection[V], views adapters.ViewStore, opts ...ProjectorOption) *Projector[V] {
	cfg := projectorConfig{
		codec:  JSONViewCodec(),
		logger: &noopLogger{},
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Projector[V]{
		projection: projection,
		views:      views,
		cfg:        cfg,
		cache:      make(map[string]versionedView[V]),
	}
}

// Name returns the projection name.
func (p *Projector[V]) Name() string {
	return p.projection.Name
}

// Handle implements Handler.
func (p *Projector[V]) Handle(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.load(ctx, event.StreamID)
	if err != nil {
		return err
	}

	if event.Version <= current.version {
		p.cfg.logger.Debug("Projection skipped applied event",
			"projection", p.projection.Name,
			"stream_id", event.StreamID,
			"version", event.Version,
			"applied_version", current.version,
		)
		return nil
	}

	next := versionedView[V]{
		view:    p.projection.Apply(event.StreamID, event, current.view),
		version: event.Version,
	}

	data, err := p.cfg.codec.Marshal(next.view)
	if err != nil {
		return NewSerializationError(p.projection.Name, "serialize", err)
	}

	err = p.views.SaveView(ctx, adapters.ViewRecord{
		Projection: p.projection.Name,
		Key:        event.StreamID,
		Version:    next.version,
		Data:       data,
		UpdatedAt:  p.cfg.clock(),
	})
	if err != nil {
		return err
	}

	p.cache[event.StreamID] = next
	return nil
}

// load returns the cached view of a stream, falling back to the view store.
func (p *Projector[V]) load(ctx context.Context, streamID string) (versionedView[V], error) {
	if v, ok := p.cache[streamID]; ok {
		return v, nil
	}

	record, err := p.views.GetView(ctx, p.projection.Name, streamID)
	if err != nil {
		return versionedView[V]{}, err
	}
	if record == nil {
		return versionedView[V]{view: p.projection.Initial(streamID)}, nil
	}

	view, err := p.decode(*record)
	if err != nil {
		return versionedView[V]{}, err
	}
	v := versionedView[V]{view: view, version: record.Version}
	p.cache[streamID] = v
	return v, nil
}

func (p *Projector[V]) decode(record adapters.ViewRecord) (V, error) {
	var view V
	if err := p.cfg.codec.Unmarshal(record.Data, &view); err != nil {
		return view, NewSerializationError(p.projection.Name, "deserialize", err)
	}
	return view, nil
}

// Get returns the stored view of a stream.
func (p *Projector[V]) Get(ctx context.Context, streamID string) (V, bool, error) {
	var zero V
	record, err := p.views.GetView(ctx, p.projection.Name, streamID)
	if err != nil || record == nil {
		return zero, false, err
	}
	view, err := p.decode(*record)
	if err != nil {
		return zero, false, err
	}
	return view, true, nil
}

// AppliedVersion returns the version of the last event applied to a stream's view, or 0.
func (p *Projector[V]) AppliedVersion(ctx context.Context, streamID string) (int64, error) {
	record, err := p.views.GetView(ctx, p.projection.Name, streamID)
	if err != nil || record == nil {
		return 0, err
	}
	return record.Version, nil
}

// All returns every stored view keyed by stream ID.
func (p *Projector[V]) All(ctx context.Context) (map[string]V, error) {
	records, err := p.views.ListViews(ctx, p.projection.Name)
	if err != nil {
		return nil, err
	}

	views := make(map[string]V, len(records))
	for _, r := range records {
		view, err := p.decode(r)
		if err != nil {
			return nil, err
		}
		views[r.Key] = view
	}
	return views, nil
}

// Reset deletes every view of the projection so it can be rebuilt from history.
func (p *Projector[V]) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.views.DeleteViews(ctx, p.projection.Name); err != nil {
		return err
	}
	p.cache = make(map[string]versionedView[V])
	return nil
}
