package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// LogEntry is one message captured by RecordingLogger.
type LogEntry struct {
	Level   string
	Message string
	Args    []interface{}
}

// Value returns the value logged for key, or nil.
func (e LogEntry) Value(key string) interface{} {
	for i := 0; i+1 < len(e.Args); i += 2 {
		if k, ok := e.Args[i].(string); ok && k == key {
			return e.Args[i+1]
		}
	}
	return nil
}

// String formats the entry as "LEVEL message key=value ...".
func (e LogEntry) String() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(e.Level))
	b.WriteByte(' ')
	b.WriteString(e.Message)
	for i := 0; i+1 < len(e.Args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", e.Args[i], e.Args[i+1])
	}
	return b.String()
}

// RecordingLogger captures log messages. It satisfies occurrent.Logger.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Args: args})
}

// Debug records a debug message.
func (l *RecordingLogger) Debug(msg string, args ...interface{}) { l.record("debug", msg, args) }

// Info records an info message.
func (l *RecordingLogger) Info(msg string, args ...interface{}) { l.record("info", msg, args) }

// Warn records a warning.
func (l *RecordingLogger) Warn(msg string, args ...interface{}) { l.record("warn", msg, args) }

// Error records an error.
func (l *RecordingLogger) Error(msg string, args ...interface{}) { l.record("error", msg, args) }

// Entries returns a copy of everything recorded.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Level returns the entries recorded at level.
func (l *RecordingLogger) Level(level string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether a message containing substr was recorded at level.
func (l *RecordingLogger) Contains(level, substr string) bool {
	for _, e := range l.Level(level) {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
