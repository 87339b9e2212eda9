package adapters

import (
	"fmt"
	"strings"
)

// Expected-version sentinels for Append. Any value >= 1 names an exact version.
const (
	AnyVersion   int64 = -1
	NoStream     int64 = 0
	StreamExists int64 = -2
)

// Batch sizes for LoadFromPosition.
const (
	DefaultLoadLimit = 1000
	MaxLoadLimit     = 10000
)

// LoadLimit normalizes a LoadFromPosition limit: non-positive values become
// DefaultLoadLimit and large ones are capped at MaxLoadLimit.
func LoadLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLoadLimit
	case limit > MaxLoadLimit:
		return MaxLoadLimit
	}
	return limit
}

// Category returns the part of a stream id before the first hyphen,
// so "game-42" belongs to "game". Ids without a hyphen are their own category.
func Category(streamID string) string {
	category, _, _ := strings.Cut(streamID, "-")
	return category
}

// ConcurrencyError reports a failed optimistic concurrency check.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{StreamID: streamID, ExpectedVersion: expected, ActualVersion: actual}
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("occurrent: concurrency conflict on stream %q: expected version %d, got %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is matches ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StreamNotFoundError is returned when StreamExists is expected of an absent stream.
type StreamNotFoundError struct {
	StreamID string
}

func NewStreamNotFoundError(streamID string) *StreamNotFoundError {
	return &StreamNotFoundError{StreamID: streamID}
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("occurrent: stream %q not found", e.StreamID)
}

// Is matches ErrStreamNotFound.
func (e *StreamNotFoundError) Is(target error) bool {
	return target == ErrStreamNotFound
}

// StorageError wraps a transient backend failure. It matches ErrStorageUnavailable
// and unwraps to the driver error.
type StorageError struct {
	Op    string
	Cause error
}

// Unavailable wraps err as a StorageError for op. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Cause: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("occurrent: storage unavailable during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// CheckVersion compares an Append's expected version with the stream's state.
// current is the stream version and exists reports whether the stream has events.
func CheckVersion(streamID string, expected, current int64, exists bool) error {
	switch {
	case expected == AnyVersion:
		return nil
	case expected == StreamExists:
		if !exists {
			return NewStreamNotFoundError(streamID)
		}
		return nil
	case expected < 0:
		return ErrInvalidVersion
	case expected == NoStream && exists, expected != NoStream && current != expected:
		return NewConcurrencyError(streamID, expected, current)
	}
	return nil
}

// ValidateAppend rejects an Append without a stream id, without events or
// with an untyped event.
func ValidateAppend(streamID string, events []EventRecord) error {
	if streamID == "" {
		return ErrEmptyStreamID
	}
	if len(events) == 0 {
		return ErrNoEvents
	}
	for _, e := range events {
		if e.Type == "" {
			return ErrEmptyEventType
		}
	}
	return nil
}
