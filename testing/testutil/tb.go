package testutil

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// RecordingTB captures failures reported by test helpers.
// Fatal calls end the calling goroutine, so run helpers through CaptureTB.
type RecordingTB struct {
	testing.TB

	mu       sync.Mutex
	failed   bool
	fatal    bool
	messages []string
}

func (r *RecordingTB) Helper() {}

func (r *RecordingTB) report(fatal bool, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
	r.fatal = r.fatal || fatal
	r.messages = append(r.messages, msg)
}

func (r *RecordingTB) Error(args ...interface{}) { r.report(false, fmt.Sprint(args...)) }

func (r *RecordingTB) Errorf(format string, args ...interface{}) {
	r.report(false, fmt.Sprintf(format, args...))
}

func (r *RecordingTB) Fatal(args ...interface{}) {
	r.report(true, fmt.Sprint(args...))
	runtime.Goexit()
}

func (r *RecordingTB) Fatalf(format string, args ...interface{}) {
	r.report(true, fmt.Sprintf(format, args...))
	runtime.Goexit()
}

// Failed reports whether any failure was recorded.
func (r *RecordingTB) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Fataled reports whether a failure stopped the helper.
func (r *RecordingTB) Fataled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Messages returns every recorded failure message.
func (r *RecordingTB) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// CaptureTB runs fn on its own goroutine with a RecordingTB and waits for it.
func CaptureTB(fn func(tb *RecordingTB)) *RecordingTB {
	tb := &RecordingTB{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(tb)
	}()
	<-done
	return tb
}
