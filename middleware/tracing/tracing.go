// Package tracing provides OpenTelemetry integration for occurrent.
//
// Event store calls, subscription deliveries and command decisions each get
// a span:
//
//	tp := sdktrace.NewTracerProvider(...)
//	tracer := tracing.NewTracer(tracing.WithTracerProvider(tp))
//
//	store := occurrent.New(tracing.NewEventStoreMiddleware(adapter, tracer))
//	handler := occurrent.WrapHandler(projector, tracing.HandlerMiddleware(tracer, "progress"))
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

const (
	// TracerName is the instrumentation name of the occurrent tracer.
	TracerName = "github.com/simara-svatopluk/event-sourcing-occurrent"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "occurrent"
)

// Tracer wraps an OpenTelemetry tracer for occurrent operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a Tracer using the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a span carrying the service attribute.
func (t *Tracer) StartSpan(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(kind))
	span.SetAttributes(attribute.String("occurrent.service", t.serviceName))
	span.SetAttributes(attrs...)
	return ctx, span
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// finish records err on span, or marks it successful.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("occurrent.error_kind", occurrent.ErrorKind(err)))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// EventStoreMiddleware wraps an EventStoreAdapter with client spans.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

var (
	_ adapters.EventStoreAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.HealthChecker     = (*EventStoreMiddleware)(nil)
)

// NewEventStoreMiddleware wraps an adapter with tracing.
func NewEventStoreMiddleware(adapter adapters.EventStoreAdapter, tracer *Tracer) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Unwrap returns the wrapped adapter.
func (m *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter {
	return m.adapter
}

// Append stores events inside an eventstore.append span.
func (m *EventStoreMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.append", trace.SpanKindClient,
		attribute.String("occurrent.stream_id", streamID),
		attribute.Int64("occurrent.expected_version", expectedVersion),
		attribute.Int("occurrent.events.count", len(events)),
	)
	defer span.End()

	if len(events) > 0 {
		types := make([]string, len(events))
		for i, e := range events {
			types[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("occurrent.events.types", types))
	}

	stored, err := m.adapter.Append(ctx, streamID, events, expectedVersion)
	finish(span, err)
	if err == nil && len(stored) > 0 {
		last := stored[len(stored)-1]
		span.SetAttributes(
			attribute.Int64("occurrent.stored.version", last.Version),
			attribute.Int64("occurrent.stored.global_position", int64(last.GlobalPosition)), // #nosec G115
		)
	}
	return stored, err
}

// Load retrieves stream events inside an eventstore.load span.
func (m *EventStoreMiddleware) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load", trace.SpanKindClient,
		attribute.String("occurrent.stream_id", streamID),
		attribute.Int64("occurrent.from_version", fromVersion),
	)
	defer span.End()

	events, err := m.adapter.Load(ctx, streamID, fromVersion)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("occurrent.events.loaded", len(events)))
	}
	return events, err
}

// LoadFromPosition retrieves events across streams inside an eventstore.load_from_position span.
func (m *EventStoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load_from_position", trace.SpanKindClient,
		attribute.Int64("occurrent.from_position", int64(fromPosition)), // #nosec G115
		attribute.Int("occurrent.limit", limit),
	)
	defer span.End()

	events, err := m.adapter.LoadFromPosition(ctx, fromPosition, limit)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("occurrent.events.loaded", len(events)))
	}
	return events, err
}

// GetStreamInfo returns stream metadata inside an eventstore.get_stream_info span.
func (m *EventStoreMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.get_stream_info", trace.SpanKindClient,
		attribute.String("occurrent.stream_id", streamID),
	)
	defer span.End()

	info, err := m.adapter.GetStreamInfo(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("occurrent.stream.version", info.Version))
	}
	return info, err
}

// GetLastPosition returns the last global position inside an eventstore.get_last_position span.
func (m *EventStoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.get_last_position", trace.SpanKindClient)
	defer span.End()

	pos, err := m.adapter.GetLastPosition(ctx)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("occurrent.last_position", int64(pos))) // #nosec G115
	}
	return pos, err
}

// Initialize initializes the wrapped adapter inside an eventstore.initialize span.
func (m *EventStoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.initialize", trace.SpanKindClient)
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Ping checks the wrapped adapter when it supports health checks.
func (m *EventStoreMiddleware) Ping(ctx context.Context) error {
	if hc, ok := m.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Close closes the wrapped adapter.
func (m *EventStoreMiddleware) Close() error {
	return m.adapter.Close()
}

// HandlerMiddleware returns a handler middleware that runs every delivery of
// subscription inside a subscription.handle span.
func HandlerMiddleware(tracer *Tracer, subscription string) occurrent.HandlerMiddleware {
	return func(next occurrent.Handler) occurrent.Handler {
		return occurrent.HandlerFunc(func(ctx context.Context, event occurrent.Event) error {
			ctx, span := tracer.StartSpan(ctx, "subscription.handle", trace.SpanKindConsumer,
				attribute.String("occurrent.subscription", subscription),
				attribute.String("occurrent.event.id", event.ID),
				attribute.String("occurrent.event.type", event.Type),
				attribute.String("occurrent.event.stream_id", event.StreamID),
				attribute.Int64("occurrent.event.version", event.Version),
				attribute.Int64("occurrent.event.global_position", int64(event.GlobalPosition)), // #nosec G115
			)
			defer span.End()

			if id := event.Metadata.CorrelationID; id != "" {
				span.SetAttributes(attribute.String("occurrent.correlation_id", id))
			}

			err := next.Handle(ctx, event)
			finish(span, err)
			return err
		})
	}
}

// Decision wraps decide so every call runs inside a command.<name> span.
// DecisionFunc carries no context, so the spans are roots of their own traces.
// Domain rule violations are recorded as span events, not errors.
func Decision(tracer *Tracer, name string, decide occurrent.DecisionFunc) occurrent.DecisionFunc {
	spanName := fmt.Sprintf("command.%s", name)
	return func(history []occurrent.Event) ([]interface{}, error) {
		_, span := tracer.StartSpan(context.Background(), spanName, trace.SpanKindInternal,
			attribute.Int("occurrent.history.count", len(history)),
		)
		defer span.End()

		if n := len(history); n > 0 {
			span.SetAttributes(
				attribute.String("occurrent.stream_id", history[n-1].StreamID),
				attribute.Int64("occurrent.stream.version", history[n-1].Version),
			)
		}

		events, err := decide(history)
		var domainErr *occurrent.DomainError
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(attribute.Int("occurrent.decided.count", len(events)))
		case errors.As(err, &domainErr):
			span.AddEvent("domain rule violated", trace.WithAttributes(
				attribute.String("occurrent.rule", domainErr.Rule),
			))
			span.SetStatus(codes.Ok, "")
		default:
			finish(span, err)
		}
		return events, err
	}
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	finish(trace.SpanFromContext(ctx), err)
}
