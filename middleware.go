package occurrent

import (
	"context"
	"time"
)

// HandlerMiddleware wraps a Handler with additional behavior.
type HandlerMiddleware func(next Handler) Handler

// WrapHandler applies middlewares to h. The first middleware is the outermost.
func WrapHandler(h Handler, middlewares ...HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// LoggingHandler logs every handled event at Debug and failures at Warn.
func LoggingHandler(logger Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, event Event) error {
			start := time.Now()
			err := next.Handle(ctx, event)
			duration := time.Since(start)

			if err != nil {
				logger.Warn("Event handler failed",
					"type", event.Type,
					"stream_id", event.StreamID,
					"version", event.Version,
					"duration", duration,
					"error", err,
				)
				return err
			}
			logger.Debug("Event handled",
				"type", event.Type,
				"stream_id", event.StreamID,
				"version", event.Version,
				"duration", duration,
			)
			return nil
		})
	}
}

// TimeoutHandler bounds the duration of a single handler invocation.
func TimeoutHandler(timeout time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, event Event) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next.Handle(ctx, event)
		})
	}
}

// ConditionalHandler applies middleware only to events matching filter.
func ConditionalHandler(filter Filter, middleware HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		wrapped := middleware(next)
		return HandlerFunc(func(ctx context.Context, event Event) error {
			if filter.Matches(event.Stored()) {
				return wrapped.Handle(ctx, event)
			}
			return next.Handle(ctx, event)
		})
	}
}

type correlationIDKey struct{}

type causationIDKey struct{}

// CorrelationIDFromContext returns the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID returns a context with the correlation ID set.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// CausationIDFromContext returns the causation ID from context.
func CausationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(causationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCausationID returns a context with the causation ID set.
func WithCausationID(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationIDKey{}, causationID)
}

// CausationHandler puts the delivered event's ID as causation ID and its
// correlation ID into the handler context. Commands executed by the handler
// stamp both on the events they append.
func CausationHandler() HandlerMiddleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, event Event) error {
			correlationID := event.Metadata.CorrelationID
			if correlationID == "" {
				correlationID = event.ID
			}
			ctx = WithCorrelationID(ctx, correlationID)
			ctx = WithCausationID(ctx, event.ID)
			return next.Handle(ctx, event)
		})
	}
}

// metadataFromContext fills empty correlation and causation IDs from ctx.
func metadataFromContext(ctx context.Context, md Metadata) Metadata {
	if md.CorrelationID == "" {
		md.CorrelationID = CorrelationIDFromContext(ctx)
	}
	if md.CausationID == "" {
		md.CausationID = CausationIDFromContext(ctx)
	}
	return md
}
