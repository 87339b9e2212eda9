package occurrent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// DefaultMaxAttempts is the number of read-decide-append attempts a command gets.
const DefaultMaxAttempts = 3

// DecisionFunc turns the decoded history of a stream into new domain events.
type DecisionFunc func(events []Event) ([]interface{}, error)

// CommandResult describes the outcome of an executed command.
type CommandResult struct {
	// StreamID is the stream the command was executed on.
	StreamID string

	// Version is the stream version after the command.
	// It equals the read version when the decision produced no events.
	Version int64

	// Events are the domain events that were appended.
	Events []interface{}

	// Attempts is how many read-decide-append cycles ran.
	Attempts int
}

// Appended reports whether the command stored any events.
func (r CommandResult) Appended() bool {
	return len(r.Events) > 0
}

// CommandMetrics receives command execution measurements.
type CommandMetrics interface {
	// RecordConflict is called for every lost concurrency race.
	RecordConflict()

	// RecordCommand is called once per executed command.
	RecordCommand(attempts int, err error)
}

type noopCommandMetrics struct{}

func (noopCommandMetrics) RecordConflict()           {}
func (noopCommandMetrics) RecordCommand(int, error) {}

// CommandService runs commands against streams: it reads the history, lets a
// decision produce events and appends them at the observed version.
// A lost race re-runs the whole cycle on fresh history.
type CommandService struct {
	store       *EventStore
	logger      Logger
	metrics     CommandMetrics
	maxAttempts int
}

// CommandOption configures a CommandService.
type CommandOption func(*CommandService)

// WithMaxAttempts sets the total number of attempts per command. Values below 1 are ignored.
func WithMaxAttempts(n int) CommandOption {
	return func(s *CommandService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCommandLogger sets the logger.
func WithCommandLogger(l Logger) CommandOption {
	return func(s *CommandService) {
		s.logger = l
	}
}

// WithCommandMetrics sets the metrics sink.
func WithCommandMetrics(m CommandMetrics) CommandOption {
	return func(s *CommandService) {
		s.metrics = m
	}
}

// NewCommandService creates a CommandService on top of an event store.
func NewCommandService(store *EventStore, opts ...CommandOption) *CommandService {
	s := &CommandService{
		store:       store,
		logger:      &noopLogger{},
		metrics:     noopCommandMetrics{},
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the event store the service writes to.
func (s *CommandService) Store() *EventStore {
	return s.store
}

// Execute runs decide against the stream and appends what it returns.
//
// Domain rule violations, malformed history and storage failures are returned
// as they are. Concurrency conflicts are retried; once the attempts are used up
// the error matches both ErrMaxAttemptsExceeded and ErrConcurrencyConflict.
func (s *CommandService) Execute(ctx context.Context, streamID string, decide DecisionFunc) (CommandResult, error) {
	return s.ExecuteWithMetadata(ctx, streamID, Metadata{}, decide)
}

// ExecuteWithMetadata is Execute with metadata attached to the appended events.
// Correlation and causation IDs left empty are taken from ctx.
func (s *CommandService) ExecuteWithMetadata(ctx context.Context, streamID string, metadata Metadata, decide DecisionFunc) (CommandResult, error) {
	result, err := s.execute(ctx, streamID, metadataFromContext(ctx, metadata), decide)
	s.metrics.RecordCommand(result.Attempts, err)
	return result, err
}

func (s *CommandService) execute(ctx context.Context, streamID string, metadata Metadata, decide DecisionFunc) (CommandResult, error) {
	result := CommandResult{StreamID: streamID}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempts++

		history, err := s.store.Read(ctx, streamID, 0)
		if err != nil {
			return result, err
		}

		var version int64
		if n := len(history); n > 0 {
			version = history[n-1].Version
		}

		events, err := decide(history)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			result.Version = version
			return result, nil
		}

		newVersion, err := s.store.AppendWithMetadata(ctx, streamID, version, metadata, events...)
		if err == nil {
			result.Version = newVersion
			result.Events = events
			return result, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return result, err
		}

		s.metrics.RecordConflict()
		if result.Attempts >= s.maxAttempts {
			return result, fmt.Errorf("%w: %d attempts on stream %q: %w",
				ErrMaxAttemptsExceeded, result.Attempts, streamID, err)
		}
		s.logger.Debug("Retrying command after concurrency conflict",
			"stream_id", streamID,
			"attempt", result.Attempts,
			"expected_version", version,
		)
	}
}

// Handle executes a typed command through the service using decider.
// The whole history is folded. An event of an unregistered type, or one that is
// not an E, fails the command with a MalformedEventError.
func Handle[S, C, E any](ctx context.Context, s *CommandService, streamID string, decider Decider[S, C, E], command C) (CommandResult, error) {
	return s.Execute(ctx, streamID, func(history []Event) ([]interface{}, error) {
		events := make([]E, 0, len(history))
		for _, e := range history {
			v, err := historyEvent[E](e)
			if err != nil {
				return nil, err
			}
			events = append(events, v)
		}

		decided, err := decider.Run(events, command)
		if err != nil {
			return nil, err
		}

		out := make([]interface{}, len(decided))
		for i, e := range decided {
			out[i] = e
		}
		return out, nil
	})
}

func historyEvent[E any](e Event) (E, error) {
	var zero E
	if _, generic := e.Data.(map[string]interface{}); generic {
		return zero, NewMalformedEventError(e.StreamID, e.Version, e.Type, ErrEventTypeNotRegistered)
	}
	v, ok := e.Data.(E)
	if !ok {
		return zero, NewMalformedEventError(e.StreamID, e.Version, e.Type,
			fmt.Errorf("decoded as %T, decider expects %v", e.Data, reflect.TypeFor[E]()))
	}
	return v, nil
}
