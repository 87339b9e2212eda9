package occurrent

import (
	"errors"
	"fmt"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage-level sentinels are aliases to the adapters package errors.
var (
	// ErrConcurrencyConflict indicates that an append lost an optimistic concurrency race.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrStorageUnavailable indicates a transient failure of a storage backend.
	ErrStorageUnavailable = adapters.ErrStorageUnavailable

	// ErrStreamNotFound indicates the requested stream does not exist.
	ErrStreamNotFound = adapters.ErrStreamNotFound

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrInvalidVersion indicates an invalid version number was provided.
	ErrInvalidVersion = adapters.ErrInvalidVersion

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrDomainRuleViolation indicates a decision rejected a command given the current state.
	ErrDomainRuleViolation = errors.New("occurrent: domain rule violation")

	// ErrMalformedEvent indicates a stored event could not be decoded.
	ErrMalformedEvent = errors.New("occurrent: malformed event")

	// ErrSerializationFailed indicates event serialization failed.
	ErrSerializationFailed = errors.New("occurrent: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("occurrent: event type not registered")

	// ErrMaxAttemptsExceeded indicates a command kept conflicting until its attempts ran out.
	ErrMaxAttemptsExceeded = errors.New("occurrent: max attempts exceeded")

	// ErrHandlerFailed indicates a subscription handler returned an error or panicked.
	ErrHandlerFailed = errors.New("occurrent: handler failed")

	// ErrSubscriptionExists indicates a subscription with the same ID is already running.
	ErrSubscriptionExists = errors.New("occurrent: subscription already exists")

	// ErrSubscriptionClosed indicates the subscription model has been shut down.
	ErrSubscriptionClosed = errors.New("occurrent: subscription model closed")

	// ErrEmptySubscriptionID indicates a subscription was requested without an ID.
	ErrEmptySubscriptionID = errors.New("occurrent: subscription ID is required")

	// ErrNilHandler indicates a subscription was requested without a handler.
	ErrNilHandler = errors.New("occurrent: handler is required")

	// ErrPositionStorageRequired indicates a durable subscription without position storage.
	ErrPositionStorageRequired = errors.New("occurrent: durable subscription requires position storage")
)

// ConcurrencyError is returned when an append's expected version did not match.
type ConcurrencyError = adapters.ConcurrencyError

// StorageError wraps a transient backend failure.
type StorageError = adapters.StorageError

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return adapters.NewConcurrencyError(streamID, expected, actual)
}

// DomainError describes a rejected command.
// Rule is a stable identifier suitable for matching, Message is for humans.
type DomainError struct {
	Rule    string
	Message string
}

// NewDomainError creates a new DomainError.
func NewDomainError(rule, message string) *DomainError {
	return &DomainError{Rule: rule, Message: message}
}

// Error returns the error message.
func (e *DomainError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("occurrent: domain rule %q violated", e.Rule)
	}
	return fmt.Sprintf("occurrent: domain rule %q violated: %s", e.Rule, e.Message)
}

// Is reports whether this error matches the target error.
// Two domain errors match when their rules are equal.
func (e *DomainError) Is(target error) bool {
	if target == ErrDomainRuleViolation {
		return true
	}
	var other *DomainError
	if errors.As(target, &other) {
		return other.Rule == e.Rule
	}
	return false
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	return ErrDomainRuleViolation
}

// MalformedEventError provides details about an event that could not be decoded.
type MalformedEventError struct {
	StreamID  string
	Version   int64
	EventType string
	Cause     error
}

// NewMalformedEventError creates a new MalformedEventError.
func NewMalformedEventError(streamID string, version int64, eventType string, cause error) *MalformedEventError {
	return &MalformedEventError{
		StreamID:  streamID,
		Version:   version,
		EventType: eventType,
		Cause:     cause,
	}
}

// Error returns the error message.
func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("occurrent: malformed event %q at %s@%d: %v",
		e.EventType, e.StreamID, e.Version, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *MalformedEventError) Unwrap() error {
	return e.Cause
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("occurrent: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// HandlerError describes a failed delivery to a subscription handler.
type HandlerError struct {
	SubscriptionID string
	Event          StoredEvent
	Cause          error
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("occurrent: subscription %q failed to handle %s@%d (position %d): %v",
		e.SubscriptionID, e.Event.StreamID, e.Event.Version, e.Event.GlobalPosition, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value interface{}
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("occurrent: handler panicked: %v", e.Value)
}

// ErrorKind returns the taxonomy name of err, used for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrDomainRuleViolation):
		return "domain_rule_violation"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, ErrHandlerFailed):
		return "handler_failed"
	case errors.Is(err, ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, ErrEmptyStreamID), errors.Is(err, ErrNoEvents), errors.Is(err, ErrInvalidVersion):
		return "invalid_argument"
	default:
		return "unknown"
	}
}
